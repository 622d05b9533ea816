// Package model содержит доменные сущности книжного магазина.
package model

import (
	"encoding/json"
	"time"
)

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Principal описывает аутентифицированного субъекта запроса.
type Principal struct {
	UserID int64
	Role   Role
}

// IsAdmin сообщает, обладает ли субъект правами администратора.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// User представляет зарегистрированного пользователя магазина.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}

// Book описывает книгу каталога. Цена хранится в центах.
type Book struct {
	ID            int64
	Title         string
	Author        string
	Description   string
	PriceCents    int64
	CoverImageURL string
	CreatedAt     time.Time
}

// CartLine описывает позицию корзины, обогащённую данными каталога.
type CartLine struct {
	BookID     int64
	Title      string
	Author     string
	Quantity   int32
	PriceCents int64
}

// OrderStatus описывает статус обработки заказа.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusCompleted  OrderStatus = "COMPLETED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// PaymentMethod определяет способ оплаты заказа.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodGift PaymentMethod = "gift"
)

// OrderRequest описывает запрос на оформление заказа.
// Позиции заказа берутся из корзины пользователя на момент оформления.
type OrderRequest struct {
	PaymentMethod   PaymentMethod
	GiftCardCode    string
	PaymentDetails  json.RawMessage
	DeliveryAddress json.RawMessage
	IdempotencyKey  string
}

// OrderItem описывает строку заказа с зафиксированной ценой.
type OrderItem struct {
	BookID         int64
	Quantity       int32
	UnitPriceCents int64
}

// Order описывает оформленный заказ.
type Order struct {
	ID              int64
	UserID          int64
	TotalCents      int64
	Status          OrderStatus
	DeliveryAddress json.RawMessage
	CreatedAt       time.Time
	Items           []OrderItem
}

// Review описывает отзыв пользователя о книге.
type Review struct {
	Username   string
	BookID     int64
	Rating     int32
	ReviewText string
	CreatedAt  time.Time
}
