package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type User struct {
	ID           int64
	Email        string
	PasswordHash pgtype.Text
	Role         string
	IsGuest      bool
	OrdersCount  int32
	LastOrderAt  pgtype.Timestamptz
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NutritionalInfo is stored as a jsonb column; per-100g values, all optional.
type NutritionalInfo struct {
	Calories *float64 `json:"calories"`
	Protein  *float64 `json:"protein"`
	Carbs    *float64 `json:"carbs"`
	Fat      *float64 `json:"fat"`
	Fiber    *float64 `json:"fiber"`
}

type Product struct {
	ID              int64
	Name            string
	Brand           pgtype.Text
	Category        string
	Description     pgtype.Text
	Picture         pgtype.Text
	Price           pgtype.Numeric
	QuantityInStock int32
	Barcode         pgtype.Text
	OpenFoodFactsID pgtype.Text
	NutritionalInfo NutritionalInfo
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LineItem is one denormalized product entry inside an order or invoice
// items jsonb column.
type LineItem struct {
	ProductID   int64           `json:"productId"`
	ProductName string          `json:"productName"`
	Quantity    int32           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// GuestInfo is the contact block submitted with an unauthenticated checkout.
type GuestInfo struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

type Order struct {
	ID                   uuid.UUID
	OrderNumber          string
	UserID               pgtype.Int8
	GuestInfo            *GuestInfo
	Items                []LineItem
	Subtotal             pgtype.Numeric
	DeliveryFee          pgtype.Numeric
	Total                pgtype.Numeric
	Status               string
	DeliveryMethod       string
	DeliveryAddress      string
	DeliveryInstructions pgtype.Text
	PaymentMethod        string
	PaymentStatus        string
	EstimatedDelivery    pgtype.Timestamptz
	ActualDelivery       pgtype.Timestamptz
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Invoice struct {
	ID               int64
	OrderID          pgtype.UUID
	UserID           int64
	InvoiceNumber    string
	TotalAmount      pgtype.Numeric
	Items            []LineItem
	Status           string
	PaymentStatus    string
	PaymentMethod    pgtype.Text
	PaymentReference pgtype.Text
	PaidAt           pgtype.Timestamptz
	BillingAddress   pgtype.Text
	BillingCity      pgtype.Text
	BillingZipCode   pgtype.Text
	BillingCountry   pgtype.Text
	Notes            pgtype.Text
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
