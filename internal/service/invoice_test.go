package service

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/enum"
)

// mockInvoiceStore implements InvoiceStore with configurable behavior.
type mockInvoiceStore struct {
	getUserByIDFn           func(ctx context.Context, id int64) (database.User, error)
	getUserByEmailFn        func(ctx context.Context, email string) (database.User, error)
	createUserFn            func(ctx context.Context, arg database.CreateUserParams) (database.User, error)
	getProductFn            func(ctx context.Context, id int64) (database.Product, error)
	decrementProductStockFn func(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error)
	restoreProductStockFn   func(ctx context.Context, arg database.RestoreProductStockParams) error
	createInvoiceFn         func(ctx context.Context, arg database.CreateInvoiceParams) (database.Invoice, error)
	getInvoiceFn            func(ctx context.Context, id int64) (database.Invoice, error)
	deleteInvoiceFn         func(ctx context.Context, id int64) (int64, error)
	bumpUserOrderStatsFn    func(ctx context.Context, id int64) error
}

func (m *mockInvoiceStore) GetUserByID(ctx context.Context, id int64) (database.User, error) {
	return m.getUserByIDFn(ctx, id)
}
func (m *mockInvoiceStore) GetUserByEmail(ctx context.Context, email string) (database.User, error) {
	return m.getUserByEmailFn(ctx, email)
}
func (m *mockInvoiceStore) CreateUser(ctx context.Context, arg database.CreateUserParams) (database.User, error) {
	return m.createUserFn(ctx, arg)
}
func (m *mockInvoiceStore) GetProduct(ctx context.Context, id int64) (database.Product, error) {
	return m.getProductFn(ctx, id)
}
func (m *mockInvoiceStore) DecrementProductStock(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error) {
	return m.decrementProductStockFn(ctx, arg)
}
func (m *mockInvoiceStore) RestoreProductStock(ctx context.Context, arg database.RestoreProductStockParams) error {
	return m.restoreProductStockFn(ctx, arg)
}
func (m *mockInvoiceStore) CreateInvoice(ctx context.Context, arg database.CreateInvoiceParams) (database.Invoice, error) {
	return m.createInvoiceFn(ctx, arg)
}
func (m *mockInvoiceStore) GetInvoice(ctx context.Context, id int64) (database.Invoice, error) {
	return m.getInvoiceFn(ctx, id)
}
func (m *mockInvoiceStore) DeleteInvoice(ctx context.Context, id int64) (int64, error) {
	return m.deleteInvoiceFn(ctx, id)
}
func (m *mockInvoiceStore) BumpUserOrderStats(ctx context.Context, id int64) error {
	return m.bumpUserOrderStatsFn(ctx, id)
}

func newTestInvoiceService(store *mockInvoiceStore) (*InvoiceService, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) InvoiceStore { return store }
	return NewInvoiceService(pool, newStore), tx
}

func defaultInvoiceStore() *mockInvoiceStore {
	return &mockInvoiceStore{
		getUserByIDFn: func(ctx context.Context, id int64) (database.User, error) {
			return database.User{ID: id, Email: "shopper@example.com"}, nil
		},
		getUserByEmailFn: func(ctx context.Context, email string) (database.User, error) {
			return database.User{}, pgx.ErrNoRows
		},
		createUserFn: func(ctx context.Context, arg database.CreateUserParams) (database.User, error) {
			return database.User{ID: 42, Email: arg.Email, IsGuest: arg.IsGuest}, nil
		},
		getProductFn: func(ctx context.Context, id int64) (database.Product, error) {
			return database.Product{ID: id, Name: "Sourdough Loaf", Price: makeNumeric("4.25"), QuantityInStock: 5}, nil
		},
		decrementProductStockFn: func(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error) {
			return database.Product{ID: arg.ID}, nil
		},
		restoreProductStockFn: func(ctx context.Context, arg database.RestoreProductStockParams) error {
			return nil
		},
		createInvoiceFn: func(ctx context.Context, arg database.CreateInvoiceParams) (database.Invoice, error) {
			return database.Invoice{
				ID:            3,
				UserID:        arg.UserID,
				InvoiceNumber: arg.InvoiceNumber,
				TotalAmount:   arg.TotalAmount,
				Items:         arg.Items,
				Status:        arg.Status,
				PaymentStatus: arg.PaymentStatus,
				PaidAt:        arg.PaidAt,
			}, nil
		},
		getInvoiceFn: func(ctx context.Context, id int64) (database.Invoice, error) {
			return database.Invoice{
				ID:            id,
				PaymentStatus: enum.PaymentStatusPending,
				Items: []database.LineItem{
					{ProductID: 10, ProductName: "Sourdough Loaf", Quantity: 2},
				},
			}, nil
		},
		deleteInvoiceFn: func(ctx context.Context, id int64) (int64, error) {
			return id, nil
		},
		bumpUserOrderStatsFn: func(ctx context.Context, id int64) error { return nil },
	}
}

func TestCreateInvoice_TotalsFromCatalog(t *testing.T) {
	store := defaultInvoiceStore()
	svc, tx := newTestInvoiceService(store)

	inv, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		UserID:        1,
		Items:         []CheckoutItem{{ProductID: 10, Quantity: 3}},
		PaymentMethod: enum.PaymentMethodCard,
		Billing:       BillingDetails{Address: "12 Market Street", City: "Lyon"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !numericEquals(inv.TotalAmount, "12.75") {
		t.Errorf("total = %v, want 12.75", numericToDecimal(inv.TotalAmount))
	}
	if inv.Status != enum.InvoiceStatusCompleted {
		t.Errorf("status = %q, want completed", inv.Status)
	}
	if inv.PaymentStatus != enum.PaymentStatusPending {
		t.Errorf("payment status = %q, want pending", inv.PaymentStatus)
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}
}

func TestCreateInvoice_UnknownUser(t *testing.T) {
	store := defaultInvoiceStore()
	store.getUserByIDFn = func(ctx context.Context, id int64) (database.User, error) {
		return database.User{}, pgx.ErrNoRows
	}
	svc, _ := newTestInvoiceService(store)

	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{
		UserID: 99,
		Items:  []CheckoutItem{{ProductID: 10, Quantity: 1}},
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got: %v", err)
	}
}

func TestCreateInvoice_EmptyItems(t *testing.T) {
	svc, _ := newTestInvoiceService(defaultInvoiceStore())

	_, err := svc.CreateInvoice(context.Background(), CreateInvoiceRequest{UserID: 1})
	if !errors.Is(err, ErrEmptyItems) {
		t.Fatalf("expected ErrEmptyItems, got: %v", err)
	}
}

func TestGuestCheckout_CreatesGuestUser(t *testing.T) {
	store := defaultInvoiceStore()
	var createdUser database.CreateUserParams
	store.createUserFn = func(ctx context.Context, arg database.CreateUserParams) (database.User, error) {
		createdUser = arg
		return database.User{ID: 42, Email: arg.Email, IsGuest: true}, nil
	}
	var bumped int64
	store.bumpUserOrderStatsFn = func(ctx context.Context, id int64) error {
		bumped = id
		return nil
	}
	svc, _ := newTestInvoiceService(store)

	inv, err := svc.GuestCheckout(context.Background(), GuestCheckoutRequest{
		Email:         " Guest@Example.com ",
		Name:          "Sam Guest",
		Items:         []CheckoutItem{{ProductID: 10, Quantity: 1}},
		PaymentMethod: enum.PaymentMethodCard,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if createdUser.Email != "guest@example.com" {
		t.Errorf("guest email = %q, want guest@example.com", createdUser.Email)
	}
	if !createdUser.IsGuest {
		t.Error("guest user not flagged is_guest")
	}
	if inv.PaymentStatus != enum.PaymentStatusPending {
		t.Errorf("payment status = %q, want pending", inv.PaymentStatus)
	}
	if inv.PaidAt.Valid {
		t.Error("paid_at stamped before payment capture")
	}
	if bumped != 42 {
		t.Errorf("order stats bumped for user %d, want 42", bumped)
	}
}

func TestGuestCheckout_MissingEmail(t *testing.T) {
	svc, _ := newTestInvoiceService(defaultInvoiceStore())

	_, err := svc.GuestCheckout(context.Background(), GuestCheckoutRequest{
		Items: []CheckoutItem{{ProductID: 10, Quantity: 1}},
	})
	if !errors.Is(err, ErrGuestEmailRequired) {
		t.Fatalf("expected ErrGuestEmailRequired, got: %v", err)
	}
}

func TestGuestCheckout_MissingName(t *testing.T) {
	svc, _ := newTestInvoiceService(defaultInvoiceStore())

	_, err := svc.GuestCheckout(context.Background(), GuestCheckoutRequest{
		Email: "guest@example.com",
		Items: []CheckoutItem{{ProductID: 10, Quantity: 1}},
	})
	if !errors.Is(err, ErrGuestNameRequired) {
		t.Fatalf("expected ErrGuestNameRequired, got: %v", err)
	}
}

func TestDeleteInvoice_RestoresStock(t *testing.T) {
	store := defaultInvoiceStore()
	var restored []database.RestoreProductStockParams
	store.restoreProductStockFn = func(ctx context.Context, arg database.RestoreProductStockParams) error {
		restored = append(restored, arg)
		return nil
	}
	svc, tx := newTestInvoiceService(store)

	if err := svc.DeleteInvoice(context.Background(), 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(restored) != 1 || restored[0].ID != 10 || restored[0].Quantity != 2 {
		t.Errorf("restored = %+v, want product 10 qty 2", restored)
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}
}

func TestDeleteInvoice_RefusesPaid(t *testing.T) {
	store := defaultInvoiceStore()
	store.getInvoiceFn = func(ctx context.Context, id int64) (database.Invoice, error) {
		return database.Invoice{ID: id, PaymentStatus: enum.PaymentStatusCompleted, PaidAt: pgtype.Timestamptz{Valid: true}}, nil
	}
	store.deleteInvoiceFn = func(ctx context.Context, id int64) (int64, error) {
		t.Fatal("DeleteInvoice called for a paid invoice")
		return 0, nil
	}
	svc, _ := newTestInvoiceService(store)

	err := svc.DeleteInvoice(context.Background(), 3)
	if !errors.Is(err, ErrInvoicePaid) {
		t.Fatalf("expected ErrInvoicePaid, got: %v", err)
	}
}

func TestDeleteInvoice_NotFound(t *testing.T) {
	store := defaultInvoiceStore()
	store.getInvoiceFn = func(ctx context.Context, id int64) (database.Invoice, error) {
		return database.Invoice{}, pgx.ErrNoRows
	}
	svc, _ := newTestInvoiceService(store)

	err := svc.DeleteInvoice(context.Background(), 404)
	if !errors.Is(err, ErrInvoiceNotFound) {
		t.Fatalf("expected ErrInvoiceNotFound, got: %v", err)
	}
}
