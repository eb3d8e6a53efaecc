package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/enum"
)

// Errors returned by the invoice service.
var (
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrInvoicePaid       = errors.New("cannot delete a paid invoice")
	ErrGuestNameRequired = errors.New("guest name is required")
)

// InvoiceStore defines the DB methods needed for invoice workflows.
// Satisfied by *database.Queries; narrow interface for testability.
type InvoiceStore interface {
	GetUserByID(ctx context.Context, id int64) (database.User, error)
	GetUserByEmail(ctx context.Context, email string) (database.User, error)
	CreateUser(ctx context.Context, arg database.CreateUserParams) (database.User, error)
	GetProduct(ctx context.Context, id int64) (database.Product, error)
	DecrementProductStock(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error)
	RestoreProductStock(ctx context.Context, arg database.RestoreProductStockParams) error
	CreateInvoice(ctx context.Context, arg database.CreateInvoiceParams) (database.Invoice, error)
	GetInvoice(ctx context.Context, id int64) (database.Invoice, error)
	DeleteInvoice(ctx context.Context, id int64) (int64, error)
	BumpUserOrderStats(ctx context.Context, id int64) error
}

// NewInvoiceStore creates an InvoiceStore from a DBTX (pool or tx).
type NewInvoiceStore func(db database.DBTX) InvoiceStore

// BillingDetails is the billing block shared by invoice requests.
type BillingDetails struct {
	Address string
	City    string
	ZipCode string
	Country string
}

// CreateInvoiceRequest is the validated input for a manually issued invoice.
type CreateInvoiceRequest struct {
	UserID        int64
	Items         []CheckoutItem
	PaymentMethod string
	Billing       BillingDetails
	Notes         string
}

// GuestCheckoutRequest is the validated input for an invoice-only guest
// purchase (no delivery order attached).
type GuestCheckoutRequest struct {
	Email         string
	Name          string
	Items         []CheckoutItem
	PaymentMethod string
	Billing       BillingDetails
}

// InvoiceService handles invoice business logic.
type InvoiceService struct {
	pool     TxBeginner
	newStore NewInvoiceStore
}

// NewInvoiceService creates a new InvoiceService.
func NewInvoiceService(pool TxBeginner, newStore NewInvoiceStore) *InvoiceService {
	return &InvoiceService{pool: pool, newStore: newStore}
}

// CreateInvoice issues an invoice for a known user, reserving stock for each
// line atomically. The invoice is marked completed immediately and settles
// when payment is captured.
func (s *InvoiceService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (*database.Invoice, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.PaymentMethod != "" && !isValidPaymentMethod(req.PaymentMethod) {
		return nil, ErrInvalidPaymentMethod
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	if _, err := store.GetUserByID(ctx, req.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	lineItems, total, err := processCartItems(ctx, store, req.Items)
	if err != nil {
		return nil, err
	}

	paymentMethod := pgtype.Text{}
	if req.PaymentMethod != "" {
		paymentMethod = pgtype.Text{String: req.PaymentMethod, Valid: true}
	}

	invoice, err := store.CreateInvoice(ctx, database.CreateInvoiceParams{
		UserID:         req.UserID,
		InvoiceNumber:  newInvoiceNumber(),
		TotalAmount:    decimalToNumeric(total),
		Items:          lineItems,
		Status:         enum.InvoiceStatusCompleted,
		PaymentStatus:  enum.PaymentStatusPending,
		PaymentMethod:  paymentMethod,
		BillingAddress: textOrNull(req.Billing.Address),
		BillingCity:    textOrNull(req.Billing.City),
		BillingZipCode: textOrNull(req.Billing.ZipCode),
		BillingCountry: textOrNull(req.Billing.Country),
		Notes:          textOrNull(req.Notes),
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &invoice, nil
}

// GuestCheckout issues an invoice for a buyer without an account, creating a
// guest user record keyed by email. The invoice starts pending and settles
// when the payment provider confirms capture.
func (s *InvoiceService) GuestCheckout(ctx context.Context, req GuestCheckoutRequest) (*database.Invoice, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return nil, ErrGuestEmailRequired
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, ErrGuestNameRequired
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if req.PaymentMethod != "" && !isValidPaymentMethod(req.PaymentMethod) {
		return nil, ErrInvalidPaymentMethod
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	user, err := store.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get user by email: %w", err)
		}
		hash, err := randomPasswordHash()
		if err != nil {
			return nil, err
		}
		user, err = store.CreateUser(ctx, database.CreateUserParams{
			Email:        email,
			PasswordHash: pgtype.Text{String: hash, Valid: true},
			Role:         enum.UserRoleCustomer,
			IsGuest:      true,
		})
		if err != nil {
			return nil, fmt.Errorf("create guest user: %w", err)
		}
	}

	lineItems, total, err := processCartItems(ctx, store, req.Items)
	if err != nil {
		return nil, err
	}

	paymentMethod := pgtype.Text{}
	if req.PaymentMethod != "" {
		paymentMethod = pgtype.Text{String: req.PaymentMethod, Valid: true}
	}

	invoice, err := store.CreateInvoice(ctx, database.CreateInvoiceParams{
		UserID:         user.ID,
		InvoiceNumber:  newInvoiceNumber(),
		TotalAmount:    decimalToNumeric(total),
		Items:          lineItems,
		Status:         enum.InvoiceStatusPending,
		PaymentStatus:  enum.PaymentStatusPending,
		PaymentMethod:  paymentMethod,
		BillingAddress: textOrNull(req.Billing.Address),
		BillingCity:    textOrNull(req.Billing.City),
		BillingZipCode: textOrNull(req.Billing.ZipCode),
		BillingCountry: textOrNull(req.Billing.Country),
		Notes:          textOrNull("Guest checkout for " + req.Name),
	})
	if err != nil {
		return nil, fmt.Errorf("create invoice: %w", err)
	}

	if err := store.BumpUserOrderStats(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("bump user order stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &invoice, nil
}

// DeleteInvoice removes an unpaid invoice and returns its line items to
// stock. Paid invoices are refused: refund first, then delete.
func (s *InvoiceService) DeleteInvoice(ctx context.Context, id int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	invoice, err := store.GetInvoice(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInvoiceNotFound
		}
		return fmt.Errorf("get invoice: %w", err)
	}
	if invoice.PaymentStatus == enum.PaymentStatusCompleted {
		return ErrInvoicePaid
	}

	for _, item := range invoice.Items {
		if err := store.RestoreProductStock(ctx, database.RestoreProductStockParams{
			ID:       item.ProductID,
			Quantity: item.Quantity,
		}); err != nil {
			return fmt.Errorf("restore stock for product %d: %w", item.ProductID, err)
		}
	}

	if _, err := store.DeleteInvoice(ctx, id); err != nil {
		return fmt.Errorf("delete invoice: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
