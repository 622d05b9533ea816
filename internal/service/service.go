// Package service реализует бизнес-логику книжного магазина.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/frontierbooks/bookstore-system/internal/fulfillment"
	"github.com/frontierbooks/bookstore-system/internal/model"
	"github.com/frontierbooks/bookstore-system/internal/repository"
	"github.com/frontierbooks/bookstore-system/internal/validation"
)

// ErrInvalidCredentials возвращается при неудачном входе. Неизвестный
// пользователь и неверный пароль не различаются.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidPaymentMethod возвращается при неподдерживаемом способе оплаты.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	// ErrInvalidIdempotencyKey возвращается, если ключ идемпотентности не является UUID.
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, username, email string, passwordHash []byte, role model.Role) (int64, error)
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)
	CreateBook(ctx context.Context, b model.Book) (int64, error)
	GetBooks(ctx context.Context) ([]model.Book, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	AddToCart(ctx context.Context, userID, bookID int64, quantity int32) error
	GetCart(ctx context.Context, userID int64) ([]model.CartLine, error)
	CreateOrder(ctx context.Context, userID int64, req model.OrderRequest) (int64, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetAllOrders(ctx context.Context) ([]model.Order, error)
	CreateReview(ctx context.Context, userID, bookID int64, rating int32, text string) error
	GetReviewsByBook(ctx context.Context, bookID int64) ([]model.Review, error)
	UpdateEntity(ctx context.Context, entity string, id int64, fields map[string]any) error
	DeleteEntity(ctx context.Context, entity string, id int64) error
	GetPendingOrders(ctx context.Context, limit int) ([]repository.PendingOrder, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus) error
}

// Service содержит бизнес-логику книжного магазина.
type Service struct {
	repo              Repository
	fulfillmentClient *fulfillment.Client
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом службы исполнения.
func NewService(repo Repository, fulfillmentClient *fulfillment.Client) *Service {
	return &Service{
		repo:              repo,
		fulfillmentClient: fulfillmentClient,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя с ролью user.
func (s *Service) RegisterUser(ctx context.Context, username, email, password string) (int64, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.repo.CreateUser(ctx, username, email, hashed, model.RoleUser)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль и возвращает пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	u, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// dollarsToCents переводит цену из долларов в центы с округлением до
// ближайшего цента: 4.35 * 100 в double равно 434.99..., усечение недопустимо.
func dollarsToCents(price float64) int64 {
	return int64(math.Round(price * 100))
}

// CreateBook добавляет книгу в каталог. Цена принимается в долларах.
func (s *Service) CreateBook(ctx context.Context, title, author, description string, price float64, coverImageURL string) (int64, error) {
	return s.repo.CreateBook(ctx, model.Book{
		Title:         title,
		Author:        author,
		Description:   description,
		PriceCents:    dollarsToCents(price),
		CoverImageURL: coverImageURL,
	})
}

// GetBooks возвращает каталог книг.
func (s *Service) GetBooks(ctx context.Context) ([]model.Book, error) {
	return s.repo.GetBooks(ctx)
}

// GetBook возвращает книгу по идентификатору.
func (s *Service) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	return s.repo.GetBook(ctx, id)
}

// AddToCart добавляет книгу в корзину пользователя.
func (s *Service) AddToCart(ctx context.Context, userID, bookID int64, quantity int32) error {
	return s.repo.AddToCart(ctx, userID, bookID, quantity)
}

// GetCart возвращает корзину пользователя.
func (s *Service) GetCart(ctx context.Context, userID int64) ([]model.CartLine, error) {
	return s.repo.GetCart(ctx, userID)
}

// Checkout оформляет заказ из текущей корзины пользователя.
func (s *Service) Checkout(ctx context.Context, userID int64, req model.OrderRequest) (int64, error) {
	switch req.PaymentMethod {
	case model.PaymentMethodCard:
	case model.PaymentMethodGift:
		// Карта с кодом неверного формата существовать не может.
		if !validation.IsValidGiftCardCode(req.GiftCardCode) {
			return 0, fmt.Errorf("%w: %s", repository.ErrGiftCardNotFound, req.GiftCardCode)
		}
	default:
		return 0, fmt.Errorf("%w: %s", ErrInvalidPaymentMethod, req.PaymentMethod)
	}

	if req.IdempotencyKey != "" {
		key, err := uuid.Parse(req.IdempotencyKey)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidIdempotencyKey, req.IdempotencyKey)
		}
		req.IdempotencyKey = key.String()
	}

	return s.repo.CreateOrder(ctx, userID, req)
}

// GetOrdersByUser возвращает заказы пользователя.
func (s *Service) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.repo.GetOrdersByUser(ctx, userID)
}

// GetAllOrders возвращает все заказы магазина.
func (s *Service) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.repo.GetAllOrders(ctx)
}

// CreateReview сохраняет отзыв пользователя о книге.
func (s *Service) CreateReview(ctx context.Context, userID, bookID int64, rating int32, text string) error {
	return s.repo.CreateReview(ctx, userID, bookID, rating, text)
}

// GetReviewsByBook возвращает отзывы о книге.
func (s *Service) GetReviewsByBook(ctx context.Context, bookID int64) ([]model.Review, error) {
	return s.repo.GetReviewsByBook(ctx, bookID)
}

// ModifyEntity применяет административное изменение к записи сущности.
// Цена книги принимается в долларах и переводится в центы.
func (s *Service) ModifyEntity(ctx context.Context, entity string, id int64, fields map[string]any) error {
	if entity == "books" {
		if v, ok := fields["price"]; ok {
			if price, isFloat := v.(float64); isFloat {
				fields["price_cents"] = dollarsToCents(price)
			}
			delete(fields, "price")
		}
	}

	return s.repo.UpdateEntity(ctx, entity, id, fields)
}

// RemoveEntity удаляет запись сущности по идентификатору.
func (s *Service) RemoveEntity(ctx context.Context, entity string, id int64) error {
	return s.repo.DeleteEntity(ctx, entity, id)
}

// StartFulfillmentUpdates запускает фоновый процесс обновления статусов заказов
// из внешней службы исполнения.
func (s *Service) StartFulfillmentUpdates(ctx context.Context) {
	if s.fulfillmentClient == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processFulfillmentBatch(ctx)
			}
		}
	}()
}

func (s *Service) processFulfillmentBatch(ctx context.Context) {
	orders, err := s.repo.GetPendingOrders(ctx, 100)
	if err != nil {
		return
	}

	for _, o := range orders {
		resp, statusCode, retryAfter, err := s.fulfillmentClient.GetOrderStatus(ctx, o.ID)
		if err != nil {
			continue
		}

		if statusCode == 429 {
			if retryAfter > 0 {
				timer := time.NewTimer(retryAfter)
				select {
				case <-ctx.Done():
					timer.Stop()
					return
				case <-timer.C:
				}
			}
			continue
		}

		if resp == nil {
			continue
		}

		var status model.OrderStatus
		switch resp.Status {
		case "ACCEPTED", "PROCESSING":
			status = model.OrderStatusProcessing
		case "COMPLETED":
			status = model.OrderStatusCompleted
		case "CANCELLED":
			status = model.OrderStatusCancelled
		default:
			continue
		}

		if status == o.Status {
			continue
		}

		_ = s.repo.UpdateOrderStatus(ctx, o.ID, status)
	}
}
