// Package handler содержит HTTP-обработчики API книжного магазина.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/frontierbooks/bookstore-system/internal/middleware"
	"github.com/frontierbooks/bookstore-system/internal/model"
	"github.com/frontierbooks/bookstore-system/internal/repository"
	"github.com/frontierbooks/bookstore-system/internal/service"
	"github.com/frontierbooks/bookstore-system/internal/token"
	"github.com/frontierbooks/bookstore-system/internal/validation"
)

// Срок действия токена после регистрации длиннее, чем после входа:
// продуктовая политика, не требование безопасности.
const (
	registerTokenTTL = 24 * time.Hour
	loginTokenTTL    = 30 * time.Minute
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, username, email, password string) (int64, error)
	AuthenticateUser(ctx context.Context, username, password string) (*model.User, error)
	CreateBook(ctx context.Context, title, author, description string, price float64, coverImageURL string) (int64, error)
	GetBooks(ctx context.Context) ([]model.Book, error)
	GetBook(ctx context.Context, id int64) (*model.Book, error)
	AddToCart(ctx context.Context, userID, bookID int64, quantity int32) error
	GetCart(ctx context.Context, userID int64) ([]model.CartLine, error)
	Checkout(ctx context.Context, userID int64, req model.OrderRequest) (int64, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error)
	GetAllOrders(ctx context.Context) ([]model.Order, error)
	CreateReview(ctx context.Context, userID, bookID int64, rating int32, text string) error
	GetReviewsByBook(ctx context.Context, bookID int64) ([]model.Review, error)
	ModifyEntity(ctx context.Context, entity string, id int64, fields map[string]any) error
	RemoveEntity(ctx context.Context, entity string, id int64) error
}

// Handler реализует HTTP-обработчики API книжного магазина.
type Handler struct {
	service        Service
	logger         *zap.Logger
	tokens         *token.Manager
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, tokens *token.Manager, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		tokens:         tokens,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Register обрабатывает регистрацию нового пользователя и выдаёт токен доступа.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Email == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tok, err := h.tokens.Issue(userID, model.RoleUser, registerTokenTTL)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, tokenResponse{AccessToken: tok, TokenType: "bearer"})
}

// Login выполняет аутентификацию пользователя и выдаёт токен доступа.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	u, err := h.service.AuthenticateUser(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	tok, err := h.tokens.Issue(u.ID, u.Role, loginTokenTTL)
	if err != nil {
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, tokenResponse{AccessToken: tok, TokenType: "bearer"})
}

type bookResponse struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Description   string  `json:"description"`
	Price         float64 `json:"price"`
	CoverImageURL string  `json:"cover_image_url"`
}

func toBookResponse(b model.Book) bookResponse {
	return bookResponse{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Price:         float64(b.PriceCents) / 100,
		CoverImageURL: b.CoverImageURL,
	}
}

// GetBooks возвращает каталог книг.
func (h *Handler) GetBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.GetBooks(r.Context())
	if err != nil {
		h.logger.Error("get books error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, toBookResponse(b))
	}

	writeJSON(w, resp)
}

// GetBook возвращает одну книгу каталога.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get book error", zap.Error(err), zap.Int64("bookID", id))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, toBookResponse(*book))
}

type cartItemRequest struct {
	BookID   int64 `json:"book_id"`
	Quantity int32 `json:"quantity"`
}

// AddToCart добавляет книгу в корзину текущего пользователя.
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req cartItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidQuantity(req.Quantity) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	if err := h.service.AddToCart(r.Context(), principal.UserID, req.BookID, req.Quantity); err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("add to cart error", zap.Error(err), zap.Int64("userID", principal.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type cartLineResponse struct {
	BookID   int64   `json:"book_id"`
	Title    string  `json:"title"`
	Author   string  `json:"author"`
	Quantity int32   `json:"quantity"`
	Price    float64 `json:"price"`
}

// GetCart возвращает корзину текущего пользователя.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	lines, err := h.service.GetCart(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("get cart error", zap.Error(err), zap.Int64("userID", principal.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(lines) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]cartLineResponse, 0, len(lines))
	for _, l := range lines {
		resp = append(resp, cartLineResponse{
			BookID:   l.BookID,
			Title:    l.Title,
			Author:   l.Author,
			Quantity: l.Quantity,
			Price:    float64(l.PriceCents) / 100,
		})
	}

	writeJSON(w, resp)
}

type checkoutRequest struct {
	PaymentMethod   string          `json:"payment_method"`
	GiftCardCode    string          `json:"gift_card_code,omitempty"`
	PaymentDetails  json.RawMessage `json:"payment_details,omitempty"`
	DeliveryAddress json.RawMessage `json:"delivery_address,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
}

type checkoutResponse struct {
	OrderID int64 `json:"order_id"`
}

// Checkout оформляет заказ из корзины текущего пользователя.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	orderID, err := h.service.Checkout(r.Context(), principal.UserID, model.OrderRequest{
		PaymentMethod:   model.PaymentMethod(req.PaymentMethod),
		GiftCardCode:    req.GiftCardCode,
		PaymentDetails:  req.PaymentDetails,
		DeliveryAddress: req.DeliveryAddress,
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrEmptyOrder),
			errors.Is(err, service.ErrInvalidPaymentMethod),
			errors.Is(err, service.ErrInvalidIdempotencyKey):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrGiftCardNotFound),
			errors.Is(err, repository.ErrInsufficientFunds):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrConstraintViolation):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		default:
			h.logger.Error("checkout error", zap.Error(err), zap.Int64("userID", principal.UserID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, checkoutResponse{OrderID: orderID})
}

type orderItemResponse struct {
	BookID    int64   `json:"book_id"`
	Quantity  int32   `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

type orderResponse struct {
	ID              int64               `json:"id"`
	UserID          int64               `json:"user_id"`
	Total           float64             `json:"total"`
	Status          string              `json:"status"`
	DeliveryAddress json.RawMessage     `json:"delivery_address,omitempty"`
	CreatedAt       string              `json:"created_at"`
	Items           []orderItemResponse `json:"items"`
}

func toOrderResponses(orders []model.Order) []orderResponse {
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items := make([]orderItemResponse, 0, len(o.Items))
		for _, it := range o.Items {
			items = append(items, orderItemResponse{
				BookID:    it.BookID,
				Quantity:  it.Quantity,
				UnitPrice: float64(it.UnitPriceCents) / 100,
			})
		}
		resp = append(resp, orderResponse{
			ID:              o.ID,
			UserID:          o.UserID,
			Total:           float64(o.TotalCents) / 100,
			Status:          string(o.Status),
			DeliveryAddress: o.DeliveryAddress,
			CreatedAt:       o.CreatedAt.Format(time.RFC3339),
			Items:           items,
		})
	}
	return resp
}

// GetUserOrders возвращает заказы текущего пользователя.
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.GetOrdersByUser(r.Context(), principal.UserID)
	if err != nil {
		h.logger.Error("get user orders error", zap.Error(err), zap.Int64("userID", principal.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	writeJSON(w, toOrderResponses(orders))
}

type reviewRequest struct {
	BookID     int64  `json:"book_id"`
	Rating     int32  `json:"rating"`
	ReviewText string `json:"review_text"`
}

// CreateReview сохраняет отзыв текущего пользователя о книге.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipalFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if !validation.IsValidRating(req.Rating) {
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		return
	}

	if err := h.service.CreateReview(r.Context(), principal.UserID, req.BookID, req.Rating, req.ReviewText); err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("create review error", zap.Error(err), zap.Int64("userID", principal.UserID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type reviewResponse struct {
	Username   string `json:"username"`
	Rating     int32  `json:"rating"`
	ReviewText string `json:"review_text"`
	CreatedAt  string `json:"created_at"`
}

// GetReviews возвращает отзывы о книге.
func (h *Handler) GetReviews(w http.ResponseWriter, r *http.Request) {
	bookID, err := strconv.ParseInt(chi.URLParam(r, "bookID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	reviews, err := h.service.GetReviewsByBook(r.Context(), bookID)
	if err != nil {
		h.logger.Error("get reviews error", zap.Error(err), zap.Int64("bookID", bookID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(reviews) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]reviewResponse, 0, len(reviews))
	for _, rv := range reviews {
		resp = append(resp, reviewResponse{
			Username:   rv.Username,
			Rating:     rv.Rating,
			ReviewText: rv.ReviewText,
			CreatedAt:  rv.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, resp)
}
