package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/enum"
)

const maxOrderNumberRetries = 3

// Errors returned by the checkout service.
var (
	ErrEmptyItems            = errors.New("items are required")
	ErrInvalidQuantity       = errors.New("quantity must be > 0")
	ErrProductNotFound       = errors.New("product not found")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrMissingAddress        = errors.New("delivery_address is required")
	ErrInvalidDeliveryMethod = errors.New("invalid delivery_method")
	ErrInvalidPaymentMethod  = errors.New("invalid payment_method")
	ErrGuestEmailRequired    = errors.New("guest email is required")
	ErrUserNotFound          = errors.New("user not found")
)

// Delivery pricing and lead times per method.
var (
	deliveryFees = map[string]decimal.Decimal{
		enum.DeliveryStandard: decimal.NewFromFloat(5.00),
		enum.DeliveryExpress:  decimal.NewFromFloat(9.99),
		enum.DeliverySameDay:  decimal.NewFromFloat(14.99),
	}
	deliveryLeadTimes = map[string]time.Duration{
		enum.DeliveryStandard: 72 * time.Hour,
		enum.DeliveryExpress:  24 * time.Hour,
		enum.DeliverySameDay:  2 * time.Hour,
	}
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CheckoutStore defines the DB methods needed to place an order.
// Satisfied by *database.Queries; narrow interface for testability.
type CheckoutStore interface {
	GetUserByID(ctx context.Context, id int64) (database.User, error)
	GetUserByEmail(ctx context.Context, email string) (database.User, error)
	CreateUser(ctx context.Context, arg database.CreateUserParams) (database.User, error)
	GetProduct(ctx context.Context, id int64) (database.Product, error)
	DecrementProductStock(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateInvoice(ctx context.Context, arg database.CreateInvoiceParams) (database.Invoice, error)
	BumpUserOrderStats(ctx context.Context, id int64) error
}

// NewCheckoutStore creates a CheckoutStore from a DBTX (pool or tx).
// This allows the service to create store instances from transactions.
type NewCheckoutStore func(db database.DBTX) CheckoutStore

// CheckoutItem is a single cart line submitted at checkout.
type CheckoutItem struct {
	ProductID int64
	Quantity  int32
}

// CreateOrderRequest is the validated input for placing an order.
// Exactly one of UserID or Guest must identify the buyer.
type CreateOrderRequest struct {
	UserID               *int64
	Guest                *database.GuestInfo
	Items                []CheckoutItem
	DeliveryMethod       string
	DeliveryAddress      string
	DeliveryInstructions string
	PaymentMethod        string
}

// CreateOrderResult is the placed order with its companion invoice.
type CreateOrderResult struct {
	Order   database.Order
	Invoice database.Invoice
}

// CheckoutService handles order placement business logic.
type CheckoutService struct {
	pool     TxBeginner
	newStore NewCheckoutStore
}

// NewCheckoutService creates a new CheckoutService.
func NewCheckoutService(pool TxBeginner, newStore NewCheckoutStore) *CheckoutService {
	return &CheckoutService{pool: pool, newStore: newStore}
}

// CreateOrder validates the cart, reserves stock, and creates the order and
// its invoice atomically. Retries up to maxOrderNumberRetries times on
// order_number unique constraint violations (concurrent checkouts can draw
// the same millisecond timestamp).
func (s *CheckoutService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if strings.TrimSpace(req.DeliveryAddress) == "" {
		return nil, ErrMissingAddress
	}
	if _, ok := deliveryFees[req.DeliveryMethod]; !ok {
		return nil, ErrInvalidDeliveryMethod
	}
	if !isValidPaymentMethod(req.PaymentMethod) {
		return nil, ErrInvalidPaymentMethod
	}
	if req.UserID == nil {
		if req.Guest == nil || strings.TrimSpace(req.Guest.Email) == "" {
			return nil, ErrGuestEmailRequired
		}
	}

	var lastErr error
	for attempt := 0; attempt < maxOrderNumberRetries; attempt++ {
		result, err := s.createOrderTx(ctx, req)
		if err == nil {
			return result, nil
		}
		if isOrderNumberConflict(err) {
			lastErr = err
			continue
		}
		return nil, err
	}
	return nil, lastErr
}

// isOrderNumberConflict checks if the error is a unique constraint violation
// on the order number (pgconn error code 23505).
func isOrderNumberConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_number_key"
	}
	return false
}

// createOrderTx executes the full checkout in a single transaction.
func (s *CheckoutService) createOrderTx(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Resolve the buyer ---
	user, guestInfo, err := s.resolveBuyer(ctx, store, req)
	if err != nil {
		return nil, err
	}

	// --- Reserve stock and price the cart ---
	lineItems, subtotal, err := processCartItems(ctx, store, req.Items)
	if err != nil {
		return nil, err
	}

	fee := deliveryFees[req.DeliveryMethod]
	total := subtotal.Add(fee).Round(2)
	estimatedDelivery := time.Now().Add(deliveryLeadTimes[req.DeliveryMethod])

	// Cash settles on delivery; everything else is captured up front.
	orderPaymentStatus := enum.OrderPaymentPaid
	if req.PaymentMethod == enum.PaymentMethodCash {
		orderPaymentStatus = enum.OrderPaymentPending
	}

	instructions := pgtype.Text{}
	if req.DeliveryInstructions != "" {
		instructions = pgtype.Text{String: req.DeliveryInstructions, Valid: true}
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		OrderNumber:          newOrderNumber(),
		UserID:               pgtype.Int8{Int64: user.ID, Valid: true},
		GuestInfo:            guestInfo,
		Items:                lineItems,
		Subtotal:             decimalToNumeric(subtotal),
		DeliveryFee:          decimalToNumeric(fee),
		Total:                decimalToNumeric(total),
		Status:               enum.OrderStatusPending,
		DeliveryMethod:       req.DeliveryMethod,
		DeliveryAddress:      req.DeliveryAddress,
		DeliveryInstructions: instructions,
		PaymentMethod:        req.PaymentMethod,
		PaymentStatus:        orderPaymentStatus,
		EstimatedDelivery:    pgtype.Timestamptz{Time: estimatedDelivery, Valid: true},
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	// --- Companion invoice ---
	invoiceStatus := enum.InvoiceStatusCompleted
	paymentStatus := enum.PaymentStatusCompleted
	paidAt := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	if req.PaymentMethod == enum.PaymentMethodCash {
		invoiceStatus = enum.InvoiceStatusPending
		paymentStatus = enum.PaymentStatusPending
		paidAt = pgtype.Timestamptz{}
	}

	billingAddress := pgtype.Text{String: req.DeliveryAddress, Valid: true}
	invoice, err := store.CreateInvoice(ctx, database.CreateInvoiceParams{
		OrderID:        pgtype.UUID{Bytes: order.ID, Valid: true},
		UserID:         user.ID,
		InvoiceNumber:  newInvoiceNumber(),
		TotalAmount:    decimalToNumeric(total),
		Items:          lineItems,
		Status:         invoiceStatus,
		PaymentStatus:  paymentStatus,
		PaymentMethod:  pgtype.Text{String: req.PaymentMethod, Valid: true},
		PaidAt:         paidAt,
		BillingAddress: billingAddress,
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

	return &CreateOrderResult{Order: order, Invoice: invoice}, nil
}

// resolveBuyer returns the user the order belongs to, creating a guest user
// record when the buyer checked out without an account.
func (s *CheckoutService) resolveBuyer(ctx context.Context, store CheckoutStore, req CreateOrderRequest) (database.User, *database.GuestInfo, error) {
	if req.UserID != nil {
		user, err := store.GetUserByID(ctx, *req.UserID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return database.User{}, nil, ErrUserNotFound
			}
			return database.User{}, nil, fmt.Errorf("get user: %w", err)
		}
		return user, nil, nil
	}

	guest := *req.Guest
	guest.Email = strings.ToLower(strings.TrimSpace(guest.Email))

	user, err := store.GetUserByEmail(ctx, guest.Email)
	if err == nil {
		return user, &guest, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return database.User{}, nil, fmt.Errorf("get user by email: %w", err)
	}

	// First order from this address: create a lightweight guest account.
	// The throwaway password keeps the record unusable for login until the
	// guest signs up and claims it.
	hash, err := randomPasswordHash()
	if err != nil {
		return database.User{}, nil, err
	}
	user, err = store.CreateUser(ctx, database.CreateUserParams{
		Email:        guest.Email,
		PasswordHash: pgtype.Text{String: hash, Valid: true},
		Role:         enum.UserRoleCustomer,
		IsGuest:      true,
	})
	if err != nil {
		return database.User{}, nil, fmt.Errorf("create guest user: %w", err)
	}
	return user, &guest, nil
}

// cartStore is the slice of a store needed to price and reserve cart lines.
type cartStore interface {
	GetProduct(ctx context.Context, id int64) (database.Product, error)
	DecrementProductStock(ctx context.Context, arg database.DecrementProductStockParams) (database.Product, error)
}

// processCartItems reserves stock for each line and prices it from the
// catalog. Unit prices always come from the database, never the client.
func processCartItems(ctx context.Context, store cartStore, items []CheckoutItem) ([]database.LineItem, decimal.Decimal, error) {
	subtotal := decimal.Zero
	lineItems := make([]database.LineItem, 0, len(items))

	for i, item := range items {
		if item.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("item[%d]: %w", i, ErrInvalidQuantity)
		}

		product, err := store.GetProduct(ctx, item.ProductID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, decimal.Zero, fmt.Errorf("item[%d]: %w", i, ErrProductNotFound)
			}
			return nil, decimal.Zero, fmt.Errorf("item[%d]: get product: %w", i, err)
		}

		// The conditional decrement is the stock guard: zero rows means
		// another checkout drained the shelf first.
		if _, err := store.DecrementProductStock(ctx, database.DecrementProductStockParams{
			ID:       item.ProductID,
			Quantity: item.Quantity,
		}); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, decimal.Zero, fmt.Errorf("item[%d] %s: %w", i, product.Name, ErrInsufficientStock)
			}
			return nil, decimal.Zero, fmt.Errorf("item[%d]: decrement stock: %w", i, err)
		}

		price := numericToDecimal(product.Price)
		lineSubtotal := price.Mul(decimal.NewFromInt32(item.Quantity)).Round(2)
		subtotal = subtotal.Add(lineSubtotal)

		lineItems = append(lineItems, database.LineItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			Price:       price,
			Subtotal:    lineSubtotal,
		})
	}

	return lineItems, subtotal.Round(2), nil
}

// --- Helpers ---

const base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"

// newOrderNumber builds a reference like TR + base36 millis + 5 random
// base36 chars. Uniqueness is enforced by the DB constraint.
func newOrderNumber() string {
	var sb strings.Builder
	sb.WriteString("TR")
	sb.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 36))
	for i := 0; i < 5; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(36))
		if err != nil {
			n = big.NewInt(time.Now().UnixNano() % 36)
		}
		sb.WriteByte(base36Chars[n.Int64()])
	}
	return strings.ToUpper(sb.String())
}

// newInvoiceNumber builds a reference like INV-1756700000000-042.
func newInvoiceNumber() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000))
	if err != nil {
		n = big.NewInt(time.Now().UnixNano() % 1000)
	}
	return fmt.Sprintf("INV-%d-%d", time.Now().UnixMilli(), n.Int64())
}

func randomPasswordHash() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("random password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(buf)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func isValidPaymentMethod(s string) bool {
	switch s {
	case enum.PaymentMethodCard, enum.PaymentMethodCash:
		return true
	}
	return false
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
