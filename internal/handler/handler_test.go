package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/frontierbooks/bookstore-system/internal/middleware"
	"github.com/frontierbooks/bookstore-system/internal/model"
	"github.com/frontierbooks/bookstore-system/internal/repository"
	"github.com/frontierbooks/bookstore-system/internal/service"
	"github.com/frontierbooks/bookstore-system/internal/token"
)

type stubService struct {
	registerUserID int64
	registerErr    error

	authUser *model.User
	authErr  error

	booksResp []model.Book
	booksErr  error

	cartResp []model.CartLine
	cartErr  error

	checkoutOrderID int64
	checkoutErr     error

	ordersResp []model.Order
	ordersErr  error

	modifyEntity string
	modifyFields map[string]any
	modifyErr    error

	removeErr error
}

func (s *stubService) RegisterUser(ctx context.Context, username, email, password string) (int64, error) {
	return s.registerUserID, s.registerErr
}

func (s *stubService) AuthenticateUser(ctx context.Context, username, password string) (*model.User, error) {
	return s.authUser, s.authErr
}

func (s *stubService) CreateBook(ctx context.Context, title, author, description string, price float64, coverImageURL string) (int64, error) {
	return 1, nil
}

func (s *stubService) GetBooks(ctx context.Context) ([]model.Book, error) {
	return s.booksResp, s.booksErr
}

func (s *stubService) GetBook(ctx context.Context, id int64) (*model.Book, error) {
	return nil, repository.ErrBookNotFound
}

func (s *stubService) AddToCart(ctx context.Context, userID, bookID int64, quantity int32) error {
	return nil
}

func (s *stubService) GetCart(ctx context.Context, userID int64) ([]model.CartLine, error) {
	return s.cartResp, s.cartErr
}

func (s *stubService) Checkout(ctx context.Context, userID int64, req model.OrderRequest) (int64, error) {
	return s.checkoutOrderID, s.checkoutErr
}

func (s *stubService) GetOrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) GetAllOrders(ctx context.Context) ([]model.Order, error) {
	return s.ordersResp, s.ordersErr
}

func (s *stubService) CreateReview(ctx context.Context, userID, bookID int64, rating int32, text string) error {
	return nil
}

func (s *stubService) GetReviewsByBook(ctx context.Context, bookID int64) ([]model.Review, error) {
	return nil, nil
}

func (s *stubService) ModifyEntity(ctx context.Context, entity string, id int64, fields map[string]any) error {
	s.modifyEntity = entity
	s.modifyFields = fields
	return s.modifyErr
}

func (s *stubService) RemoveEntity(ctx context.Context, entity string, id int64) error {
	return s.removeErr
}

func newTestHandler(t *testing.T, svc Service) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	tokens := token.NewManager("test-secret")
	auth := middleware.NewAuthMiddleware(tokens)

	return NewHandler(svc, logger, tokens, auth)
}

func bearerHeader(t *testing.T, h *Handler, userID int64, role model.Role) string {
	t.Helper()

	tok, err := h.tokens.Issue(userID, role, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return "Bearer " + tok
}

func TestRegister_Success(t *testing.T) {
	svc := &stubService{registerUserID: 42}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{
		Username: "user",
		Email:    "user@example.com",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.TokenType != "bearer" || resp.AccessToken == "" {
		t.Fatalf("unexpected token response: %+v", resp)
	}

	p, err := h.tokens.Verify(resp.AccessToken)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if p.UserID != 42 || p.Role != model.RoleUser {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestRegister_Conflict(t *testing.T) {
	svc := &stubService{registerErr: repository.ErrUserExists}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(registerRequest{
		Username: "user",
		Email:    "user@example.com",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/users", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Register(rec, req)

	if rec.Result().StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusConflict)
	}
}

func TestLogin_UnauthorizedOnInvalidCredentials(t *testing.T) {
	svc := &stubService{authErr: service.ErrInvalidCredentials}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(loginRequest{
		Username: "user",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	if rec.Result().StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestLogin_IssuesTokenWithUserRole(t *testing.T) {
	svc := &stubService{authUser: &model.User{ID: 7, Username: "boss", Role: model.RoleAdmin}}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(loginRequest{
		Username: "boss",
		Password: "pass",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.Login(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	p, err := h.tokens.Verify(resp.AccessToken)
	if err != nil {
		t.Fatalf("verify issued token: %v", err)
	}
	if p.UserID != 7 || p.Role != model.RoleAdmin {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestGetCart_NoContent(t *testing.T) {
	svc := &stubService{cartResp: []model.CartLine{}}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("Authorization", bearerHeader(t, h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.GetCart)).ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusNoContent)
	}
}

func TestCheckout_StatusMapping(t *testing.T) {
	tests := []struct {
		name        string
		checkoutErr error
		wantStatus  int
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "empty order", checkoutErr: repository.ErrEmptyOrder, wantStatus: http.StatusBadRequest},
		{name: "invalid payment method", checkoutErr: service.ErrInvalidPaymentMethod, wantStatus: http.StatusBadRequest},
		{name: "unknown gift card", checkoutErr: repository.ErrGiftCardNotFound, wantStatus: http.StatusPaymentRequired},
		{name: "insufficient funds", checkoutErr: repository.ErrInsufficientFunds, wantStatus: http.StatusPaymentRequired},
		{name: "constraint violation", checkoutErr: repository.ErrConstraintViolation, wantStatus: http.StatusConflict},
		{name: "storage error", checkoutErr: context.DeadlineExceeded, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{checkoutOrderID: 9, checkoutErr: tt.checkoutErr}
			h := newTestHandler(t, svc)

			body, _ := json.Marshal(checkoutRequest{PaymentMethod: "card"})

			req := httptest.NewRequest(http.MethodPost, "/api/checkout", bytes.NewReader(body))
			req.Header.Set("Authorization", bearerHeader(t, h, 1, model.RoleUser))
			rec := httptest.NewRecorder()

			h.authMiddleware.Middleware(http.HandlerFunc(h.Checkout)).ServeHTTP(rec, req)

			if rec.Result().StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Result().StatusCode, tt.wantStatus)
			}

			if tt.wantStatus == http.StatusOK {
				var resp checkoutResponse
				if err := json.NewDecoder(rec.Result().Body).Decode(&resp); err != nil {
					t.Fatalf("decode response: %v", err)
				}
				if resp.OrderID != 9 {
					t.Fatalf("order id = %d, want 9", resp.OrderID)
				}
			}
		})
	}
}

func TestGetUserOrders_JSONResponse(t *testing.T) {
	now := time.Now().UTC()
	svc := &stubService{
		ordersResp: []model.Order{
			{
				ID:         3,
				UserID:     1,
				TotalCents: 2598,
				Status:     model.OrderStatusPending,
				CreatedAt:  now,
				Items: []model.OrderItem{
					{BookID: 11, Quantity: 2, UnitPriceCents: 1299},
				},
			},
		},
	}
	h := newTestHandler(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/user_orders", nil)
	req.Header.Set("Authorization", bearerHeader(t, h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	h.authMiddleware.Middleware(http.HandlerFunc(h.GetUserOrders)).ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var resp []orderResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("orders = %d, want 1", len(resp))
	}
	if resp[0].Total != 25.98 {
		t.Fatalf("total = %v, want 25.98", resp[0].Total)
	}
	if len(resp[0].Items) != 1 || resp[0].Items[0].UnitPrice != 12.99 {
		t.Fatalf("unexpected items: %+v", resp[0].Items)
	}
}
