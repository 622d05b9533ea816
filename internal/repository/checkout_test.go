package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/frontierbooks/bookstore-system/internal/model"
)

type stubCheckoutTx struct {
	existingOrderID int64
	cartLines       []model.OrderItem
	balance         int64
	lockErr         error
	insertOrderID   int64
	lineErr         error

	cartSelected  bool
	lockedCode    string
	debitedAmount int64
	insertedTotal int64
	insertedLines int
	cartCleared   bool
	committed     bool
}

func (s *stubCheckoutTx) FindOrderByKey(ctx context.Context, userID int64, key string) (int64, bool, error) {
	if s.existingOrderID != 0 {
		return s.existingOrderID, true, nil
	}
	return 0, false, nil
}

func (s *stubCheckoutTx) SelectCartLines(ctx context.Context, userID int64) ([]model.OrderItem, error) {
	s.cartSelected = true
	return s.cartLines, nil
}

func (s *stubCheckoutTx) LockGiftCard(ctx context.Context, code string) (int64, error) {
	if s.lockErr != nil {
		return 0, s.lockErr
	}
	s.lockedCode = code
	return s.balance, nil
}

func (s *stubCheckoutTx) DebitGiftCard(ctx context.Context, code string, amountCents int64) error {
	s.debitedAmount = amountCents
	return nil
}

func (s *stubCheckoutTx) InsertOrder(ctx context.Context, userID, totalCents int64, req model.OrderRequest) (int64, error) {
	s.insertedTotal = totalCents
	return s.insertOrderID, nil
}

func (s *stubCheckoutTx) InsertOrderLine(ctx context.Context, orderID int64, item model.OrderItem) error {
	if s.lineErr != nil {
		return s.lineErr
	}
	s.insertedLines++
	return nil
}

func (s *stubCheckoutTx) ClearCart(ctx context.Context, userID int64) error {
	s.cartCleared = true
	return nil
}

func (s *stubCheckoutTx) Commit(ctx context.Context) error {
	s.committed = true
	return nil
}

func TestRunCheckoutEmptyCart(t *testing.T) {
	tx := &stubCheckoutTx{}

	_, err := runCheckout(context.Background(), tx, 1, model.OrderRequest{PaymentMethod: model.PaymentMethodCard})
	if !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("err = %v, want ErrEmptyOrder", err)
	}
	if tx.committed {
		t.Fatalf("transaction must not be committed")
	}
}

func TestRunCheckoutCardPayment(t *testing.T) {
	tx := &stubCheckoutTx{
		cartLines: []model.OrderItem{
			{BookID: 1, Quantity: 2, UnitPriceCents: 1299},
			{BookID: 2, Quantity: 1, UnitPriceCents: 435},
		},
		insertOrderID: 10,
	}

	id, err := runCheckout(context.Background(), tx, 1, model.OrderRequest{PaymentMethod: model.PaymentMethodCard})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if id != 10 {
		t.Fatalf("order id = %d, want 10", id)
	}
	if tx.insertedTotal != 3033 {
		t.Fatalf("total cents = %d, want 3033", tx.insertedTotal)
	}
	if tx.lockedCode != "" || tx.debitedAmount != 0 {
		t.Fatalf("card payment must not touch gift cards")
	}
	if tx.insertedLines != 2 || !tx.cartCleared || !tx.committed {
		t.Fatalf("lines = %d, cleared = %v, committed = %v", tx.insertedLines, tx.cartCleared, tx.committed)
	}
}

func TestRunCheckoutGiftCardDebit(t *testing.T) {
	tx := &stubCheckoutTx{
		cartLines:     []model.OrderItem{{BookID: 1, Quantity: 1, UnitPriceCents: 500}},
		balance:       501,
		insertOrderID: 3,
	}

	id, err := runCheckout(context.Background(), tx, 1, model.OrderRequest{
		PaymentMethod: model.PaymentMethodGift,
		GiftCardCode:  "4556771476354880",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if id != 3 {
		t.Fatalf("order id = %d, want 3", id)
	}
	if tx.lockedCode != "4556771476354880" {
		t.Fatalf("locked code = %q", tx.lockedCode)
	}
	if tx.debitedAmount != 500 {
		t.Fatalf("debited = %d, want 500", tx.debitedAmount)
	}
	if !tx.committed {
		t.Fatalf("transaction must be committed")
	}
}

func TestRunCheckoutBalanceEqualsTotal(t *testing.T) {
	tx := &stubCheckoutTx{
		cartLines: []model.OrderItem{{BookID: 1, Quantity: 1, UnitPriceCents: 500}},
		balance:   500,
	}

	_, err := runCheckout(context.Background(), tx, 1, model.OrderRequest{
		PaymentMethod: model.PaymentMethodGift,
		GiftCardCode:  "4556771476354880",
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if tx.debitedAmount != 0 {
		t.Fatalf("balance must not be debited")
	}
	if tx.insertedTotal != 0 || tx.committed || tx.cartCleared {
		t.Fatalf("order persisted after failed funds check")
	}
}

func TestRunCheckoutUnknownGiftCard(t *testing.T) {
	tx := &stubCheckoutTx{
		cartLines: []model.OrderItem{{BookID: 1, Quantity: 1, UnitPriceCents: 500}},
		lockErr:   ErrGiftCardNotFound,
	}

	_, err := runCheckout(context.Background(), tx, 1, model.OrderRequest{
		PaymentMethod: model.PaymentMethodGift,
		GiftCardCode:  "4556771476354880",
	})
	if !errors.Is(err, ErrGiftCardNotFound) {
		t.Fatalf("err = %v, want ErrGiftCardNotFound", err)
	}
	if tx.committed {
		t.Fatalf("transaction must not be committed")
	}
}

func TestRunCheckoutLineInsertFailureRollsBack(t *testing.T) {
	tx := &stubCheckoutTx{
		cartLines: []model.OrderItem{{BookID: 1, Quantity: 1, UnitPriceCents: 500}},
		balance:   10000,
		lineErr:   errors.New("insert order item: connection reset"),
	}

	_, err := runCheckout(context.Background(), tx, 1, model.OrderRequest{
		PaymentMethod: model.PaymentMethodGift,
		GiftCardCode:  "4556771476354880",
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if tx.committed {
		t.Fatalf("transaction must not be committed")
	}
	if tx.cartCleared {
		t.Fatalf("cart must stay intact")
	}
}

func TestRunCheckoutIdempotentReplay(t *testing.T) {
	tx := &stubCheckoutTx{existingOrderID: 77}

	id, err := runCheckout(context.Background(), tx, 1, model.OrderRequest{
		PaymentMethod:  model.PaymentMethodCard,
		IdempotencyKey: "c56a4180-65aa-42ec-a945-5fd21dec0538",
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if id != 77 {
		t.Fatalf("order id = %d, want 77", id)
	}
	if tx.cartSelected || tx.debitedAmount != 0 || tx.insertedLines != 0 || tx.cartCleared {
		t.Fatalf("replay must not touch cart or balance")
	}
}
