package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/frontierbooks/bookstore-system/internal/model"
)

// checkoutTx описывает шаги транзакции оформления заказа. Все шаги
// выполняются внутри одной транзакции БД; без вызова Commit ни одно
// изменение не сохраняется.
type checkoutTx interface {
	FindOrderByKey(ctx context.Context, userID int64, key string) (int64, bool, error)
	SelectCartLines(ctx context.Context, userID int64) ([]model.OrderItem, error)
	LockGiftCard(ctx context.Context, code string) (int64, error)
	DebitGiftCard(ctx context.Context, code string, amountCents int64) error
	InsertOrder(ctx context.Context, userID, totalCents int64, req model.OrderRequest) (int64, error)
	InsertOrderLine(ctx context.Context, orderID int64, item model.OrderItem) error
	ClearCart(ctx context.Context, userID int64) error
	Commit(ctx context.Context) error
}

// runCheckout выполняет шаги оформления заказа: фиксирует позиции корзины
// с текущими ценами каталога, при оплате подарочной картой списывает баланс,
// создаёт заказ со строками и очищает корзину. Первая же ошибка прерывает
// транзакцию до фиксации.
func runCheckout(ctx context.Context, tx checkoutTx, userID int64, req model.OrderRequest) (int64, error) {
	// Повторный запрос с тем же ключом идемпотентности возвращает уже
	// созданный заказ без повторного списания и очистки корзины.
	if req.IdempotencyKey != "" {
		existingID, found, err := tx.FindOrderByKey(ctx, userID, req.IdempotencyKey)
		if err != nil {
			return 0, err
		}
		if found {
			return existingID, nil
		}
	}

	items, err := tx.SelectCartLines(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, ErrEmptyOrder
	}

	var totalCents int64
	for _, it := range items {
		totalCents += int64(it.Quantity) * it.UnitPriceCents
	}

	if req.PaymentMethod == model.PaymentMethodGift {
		balance, err := tx.LockGiftCard(ctx, req.GiftCardCode)
		if err != nil {
			return 0, err
		}

		// Баланс, равный сумме заказа, считается недостаточным:
		// действующая политика требует строгого превышения.
		if balance <= totalCents {
			return 0, ErrInsufficientFunds
		}

		if err := tx.DebitGiftCard(ctx, req.GiftCardCode, totalCents); err != nil {
			return 0, err
		}
	}

	orderID, err := tx.InsertOrder(ctx, userID, totalCents, req)
	if err != nil {
		return 0, err
	}

	for _, it := range items {
		if err := tx.InsertOrderLine(ctx, orderID, it); err != nil {
			return 0, err
		}
	}

	if err := tx.ClearCart(ctx, userID); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	return orderID, nil
}

// pgxCheckoutTx реализует шаги оформления заказа поверх транзакции pgx.
type pgxCheckoutTx struct {
	tx pgx.Tx
}

func (p *pgxCheckoutTx) FindOrderByKey(ctx context.Context, userID int64, key string) (int64, bool, error) {
	var id int64
	err := p.tx.QueryRow(ctx,
		`SELECT id FROM orders WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("select existing order: %w", err)
	}
	return id, true, nil
}

// SelectCartLines читает позиции и цены из каталога внутри транзакции.
func (p *pgxCheckoutTx) SelectCartLines(ctx context.Context, userID int64) ([]model.OrderItem, error) {
	rows, err := p.tx.Query(ctx,
		`SELECT c.book_id, c.quantity, b.price_cents
		 FROM cart_items c
		 JOIN books b ON b.id = c.book_id
		 WHERE c.user_id = $1
		 ORDER BY c.book_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart for checkout: %w", err)
	}
	defer rows.Close()

	var items []model.OrderItem
	for rows.Next() {
		var it model.OrderItem
		if err := rows.Scan(&it.BookID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// LockGiftCard блокирует строку карты: параллельные оплаты одной картой
// сериализуются, проверка баланса и списание согласованы.
func (p *pgxCheckoutTx) LockGiftCard(ctx context.Context, code string) (int64, error) {
	var balance int64
	err := p.tx.QueryRow(ctx,
		`SELECT balance_cents FROM gift_cards WHERE code = $1 FOR UPDATE`,
		code,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrGiftCardNotFound
		}
		return 0, fmt.Errorf("lock gift card: %w", err)
	}
	return balance, nil
}

func (p *pgxCheckoutTx) DebitGiftCard(ctx context.Context, code string, amountCents int64) error {
	_, err := p.tx.Exec(ctx,
		`UPDATE gift_cards SET balance_cents = balance_cents - $2 WHERE code = $1`,
		code, amountCents,
	)
	if err != nil {
		return fmt.Errorf("debit gift card: %w", err)
	}
	return nil
}

func (p *pgxCheckoutTx) InsertOrder(ctx context.Context, userID, totalCents int64, req model.OrderRequest) (int64, error) {
	var idempotencyKey *string
	if req.IdempotencyKey != "" {
		idempotencyKey = &req.IdempotencyKey
	}

	var orderID int64
	err := p.tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, total_cents, status, delivery_address, payment_method, payment_details, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		userID, totalCents, string(model.OrderStatusPending),
		req.DeliveryAddress, string(req.PaymentMethod), req.PaymentDetails, idempotencyKey,
	).Scan(&orderID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.ConstraintName)
		}
		return 0, fmt.Errorf("insert order: %w", err)
	}
	return orderID, nil
}

func (p *pgxCheckoutTx) InsertOrderLine(ctx context.Context, orderID int64, item model.OrderItem) error {
	_, err := p.tx.Exec(ctx,
		`INSERT INTO order_items (order_id, book_id, quantity, unit_price_cents) VALUES ($1, $2, $3, $4)`,
		orderID, item.BookID, item.Quantity, item.UnitPriceCents,
	)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}
	return nil
}

func (p *pgxCheckoutTx) ClearCart(ctx context.Context, userID int64) error {
	_, err := p.tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (p *pgxCheckoutTx) Commit(ctx context.Context) error {
	return p.tx.Commit(ctx)
}
