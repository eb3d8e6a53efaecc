package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, order_number, user_id, guest_info, items, subtotal, delivery_fee,
	total, status, delivery_method, delivery_address, delivery_instructions,
	payment_method, payment_status, estimated_delivery, actual_delivery, created_at, updated_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (Order, error) {
	var o Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.GuestInfo,
		&o.Items,
		&o.Subtotal,
		&o.DeliveryFee,
		&o.Total,
		&o.Status,
		&o.DeliveryMethod,
		&o.DeliveryAddress,
		&o.DeliveryInstructions,
		&o.PaymentMethod,
		&o.PaymentStatus,
		&o.EstimatedDelivery,
		&o.ActualDelivery,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type CreateOrderParams struct {
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
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO orders (id, order_number, user_id, guest_info, items, subtotal,
			delivery_fee, total, status, delivery_method, delivery_address,
			delivery_instructions, payment_method, payment_status, estimated_delivery)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+orderColumns,
		uuid.New(), arg.OrderNumber, arg.UserID, arg.GuestInfo, arg.Items, arg.Subtotal,
		arg.DeliveryFee, arg.Total, arg.Status, arg.DeliveryMethod, arg.DeliveryAddress,
		arg.DeliveryInstructions, arg.PaymentMethod, arg.PaymentStatus, arg.EstimatedDelivery,
	)
	return scanOrder(row)
}

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

type ListOrdersParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

func (q *Queries) ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

type UpdateOrderStatusParams struct {
	ID             uuid.UUID
	Status         string
	PrevStatus     string
	ActualDelivery pgtype.Timestamptz
}

// UpdateOrderStatus is a compare-and-set on the current status. No row comes
// back when the status changed between read and write; callers surface that
// as a retryable conflict.
func (q *Queries) UpdateOrderStatus(ctx context.Context, arg UpdateOrderStatusParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders
		SET status = $2, actual_delivery = COALESCE($4, actual_delivery), updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING `+orderColumns,
		arg.ID, arg.Status, arg.PrevStatus, arg.ActualDelivery,
	)
	return scanOrder(row)
}

func (q *Queries) CountOrders(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n)
	return n, err
}
