package enum

// ── State machines (CHECK constrained in DB) ──

const (
	OrderStatusPending   = "pending"
	OrderStatusConfirmed = "confirmed"
	OrderStatusPreparing = "preparing"
	OrderStatusReady     = "ready"
	OrderStatusDelivered = "delivered"
	OrderStatusCancelled = "cancelled"
)

const (
	InvoiceStatusPending   = "pending"
	InvoiceStatusCompleted = "completed"
	InvoiceStatusCancelled = "cancelled"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusRefunded  = "refunded"
)

// Order rows carry their own payment flag, separate from the invoice's.
const (
	OrderPaymentPending = "pending"
	OrderPaymentPaid    = "paid"
	OrderPaymentFailed  = "failed"
)

// ── Borderline (CHECK constrained in DB) ──

const (
	UserRoleAdmin    = "admin"
	UserRoleCustomer = "customer"
)

const (
	DeliveryStandard = "standard"
	DeliveryExpress  = "express"
	DeliverySameDay  = "same_day"
)

// ── Configurable labels (no DB constraint) ──

const (
	PaymentMethodCard = "card"
	PaymentMethodCash = "cash"
)
