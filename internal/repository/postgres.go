// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/frontierbooks/bookstore-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с занятым именем или почтой.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrBookNotFound возвращается, если книга отсутствует в каталоге.
	ErrBookNotFound = errors.New("book not found")
	// ErrEmptyOrder возвращается при оформлении заказа с пустой корзиной.
	ErrEmptyOrder = errors.New("order has no items")
	// ErrGiftCardNotFound возвращается, если подарочная карта с указанным кодом не существует.
	ErrGiftCardNotFound = errors.New("gift card not found")
	// ErrInsufficientFunds возвращается, если баланса подарочной карты недостаточно для оплаты.
	ErrInsufficientFunds = errors.New("insufficient gift card balance")
	// ErrConstraintViolation возвращается при нарушении ограничения целостности данных.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrEntityNotFound возвращается, если запись с указанным идентификатором отсутствует.
	ErrEntityNotFound = errors.New("entity not found")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя с указанной ролью.
func (r *PostgresRepository) CreateUser(ctx context.Context, username, email string, passwordHash []byte, role model.Role) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING id`,
		username, email, passwordHash, string(role),
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, username)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByUsername возвращает пользователя по имени.
func (r *PostgresRepository) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, email, password_hash, role, created_at FROM users WHERE username = $1`,
		username,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// CreateBook добавляет книгу в каталог.
func (r *PostgresRepository) CreateBook(ctx context.Context, b model.Book) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO books (title, author, description, price_cents, cover_image_url)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		b.Title, b.Author, b.Description, b.PriceCents, b.CoverImageURL,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.ConstraintName)
		}
		return 0, fmt.Errorf("create book: %w", err)
	}
	return id, nil
}

// GetBooks возвращает все книги каталога.
func (r *PostgresRepository) GetBooks(ctx context.Context) ([]model.Book, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, author, description, price_cents, cover_image_url, created_at
		 FROM books
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	defer rows.Close()

	var books []model.Book
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.PriceCents, &b.CoverImageURL, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return books, nil
}

// GetBook возвращает книгу по идентификатору.
func (r *PostgresRepository) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, title, author, description, price_cents, cover_image_url, created_at
		 FROM books
		 WHERE id = $1`,
		id,
	)

	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.PriceCents, &b.CoverImageURL, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}

	return &b, nil
}

// AddToCart добавляет книгу в корзину пользователя. Повторное добавление
// той же книги увеличивает количество.
func (r *PostgresRepository) AddToCart(ctx context.Context, userID, bookID int64, quantity int32) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO cart_items (user_id, book_id, quantity) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, book_id) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		userID, bookID, quantity,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
		}
		return fmt.Errorf("add to cart: %w", err)
	}
	return nil
}

// GetCart возвращает корзину пользователя с данными каталога.
func (r *PostgresRepository) GetCart(ctx context.Context, userID int64) ([]model.CartLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT c.book_id, b.title, b.author, c.quantity, b.price_cents
		 FROM cart_items c
		 JOIN books b ON b.id = c.book_id
		 WHERE c.user_id = $1
		 ORDER BY c.added_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select cart: %w", err)
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		var l model.CartLine
		if err := rows.Scan(&l.BookID, &l.Title, &l.Author, &l.Quantity, &l.PriceCents); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return lines, nil
}

// CreateOrder оформляет заказ одной транзакцией: фиксирует позиции корзины
// с текущими ценами каталога, при оплате подарочной картой списывает баланс
// под блокировкой строки, создаёт заказ со строками и очищает корзину.
// Любая ошибка откатывает транзакцию целиком. Вся транзакция повторяется
// при сбое сериализации или дедлоке: к этому моменту она либо зафиксирована,
// либо полностью откатана.
func (r *PostgresRepository) CreateOrder(ctx context.Context, userID int64, req model.OrderRequest) (int64, error) {
	var orderID int64

	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		id, err := r.createOrderTx(ctx, userID, req)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) &&
				(pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected) {
				return retry.RetryableError(err)
			}
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		return 0, err
	}

	return orderID, nil
}

func (r *PostgresRepository) createOrderTx(ctx context.Context, userID int64, req model.OrderRequest) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	return runCheckout(ctx, &pgxCheckoutTx{tx: tx}, userID, req)
}

func (r *PostgresRepository) scanOrders(rows pgx.Rows) ([]model.Order, error) {
	var orders []model.Order
	var current *model.Order

	for rows.Next() {
		var (
			o      model.Order
			status string
			bookID *int64
			qty    *int32
			price  *int64
		)
		if err := rows.Scan(&o.ID, &o.UserID, &o.TotalCents, &status, &o.DeliveryAddress, &o.CreatedAt, &bookID, &qty, &price); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Status = model.OrderStatus(status)

		if current == nil || current.ID != o.ID {
			orders = append(orders, o)
			current = &orders[len(orders)-1]
		}
		if bookID != nil && qty != nil && price != nil {
			current.Items = append(current.Items, model.OrderItem{
				BookID:         *bookID,
				Quantity:       *qty,
				UnitPriceCents: *price,
			})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// GetOrdersByUser возвращает заказы пользователя со строками.
func (r *PostgresRepository) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.user_id, o.total_cents, o.status, o.delivery_address, o.created_at,
		        i.book_id, i.quantity, i.unit_price_cents
		 FROM orders o
		 LEFT JOIN order_items i ON i.order_id = o.id
		 WHERE o.user_id = $1
		 ORDER BY o.created_at DESC, o.id, i.book_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	return r.scanOrders(rows)
}

// GetAllOrders возвращает все заказы магазина со строками.
func (r *PostgresRepository) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT o.id, o.user_id, o.total_cents, o.status, o.delivery_address, o.created_at,
		        i.book_id, i.quantity, i.unit_price_cents
		 FROM orders o
		 LEFT JOIN order_items i ON i.order_id = o.id
		 ORDER BY o.created_at DESC, o.id, i.book_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select all orders: %w", err)
	}
	defer rows.Close()

	return r.scanOrders(rows)
}

// CreateReview сохраняет отзыв пользователя о книге.
func (r *PostgresRepository) CreateReview(ctx context.Context, userID, bookID int64, rating int32, text string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO reviews (user_id, book_id, rating, review_text) VALUES ($1, $2, $3, $4)`,
		userID, bookID, rating, text,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.ForeignKeyViolation:
				return fmt.Errorf("%w: %d", ErrBookNotFound, bookID)
			case pgerrcode.UniqueViolation:
				return fmt.Errorf("%w: %s", ErrConstraintViolation, pgErr.ConstraintName)
			}
		}
		return fmt.Errorf("create review: %w", err)
	}
	return nil
}

// GetReviewsByBook возвращает отзывы о книге с именами авторов.
func (r *PostgresRepository) GetReviewsByBook(ctx context.Context, bookID int64) ([]model.Review, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT u.username, r.book_id, r.rating, r.review_text, r.created_at
		 FROM reviews r
		 JOIN users u ON u.id = r.user_id
		 WHERE r.book_id = $1
		 ORDER BY r.created_at DESC`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("select reviews: %w", err)
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		var rv model.Review
		if err := rows.Scan(&rv.Username, &rv.BookID, &rv.Rating, &rv.ReviewText, &rv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, rv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return reviews, nil
}

// PendingOrder описывает заказ, ожидающий обновления статуса от службы исполнения.
type PendingOrder struct {
	ID     int64
	Status model.OrderStatus
}

// GetPendingOrders возвращает заказы, статус которых ещё не финален.
func (r *PostgresRepository) GetPendingOrders(ctx context.Context, limit int) ([]PendingOrder, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, status
		 FROM orders
		 WHERE status IN ($1, $2)
		 ORDER BY created_at
		 LIMIT $3`,
		string(model.OrderStatusPending),
		string(model.OrderStatusProcessing),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select pending orders: %w", err)
	}
	defer rows.Close()

	var res []PendingOrder
	for rows.Next() {
		var p PendingOrder
		var status string
		if err := rows.Scan(&p.ID, &status); err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		p.Status = model.OrderStatus(status)
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateOrderStatus обновляет статус заказа.
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, status model.OrderStatus) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2 WHERE id = $1`,
		orderID, string(status),
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}
