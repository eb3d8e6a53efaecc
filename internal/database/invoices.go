package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const invoiceColumns = `id, order_id, user_id, invoice_number, total_amount, items, status,
	payment_status, payment_method, payment_reference, paid_at, billing_address,
	billing_city, billing_zip_code, billing_country, notes, created_at, updated_at`

func scanInvoice(row interface{ Scan(dest ...any) error }) (Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID,
		&inv.OrderID,
		&inv.UserID,
		&inv.InvoiceNumber,
		&inv.TotalAmount,
		&inv.Items,
		&inv.Status,
		&inv.PaymentStatus,
		&inv.PaymentMethod,
		&inv.PaymentReference,
		&inv.PaidAt,
		&inv.BillingAddress,
		&inv.BillingCity,
		&inv.BillingZipCode,
		&inv.BillingCountry,
		&inv.Notes,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	return inv, err
}

func collectInvoices(rows pgx.Rows) ([]Invoice, error) {
	defer rows.Close()
	var invoices []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

type CreateInvoiceParams struct {
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
}

func (q *Queries) CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (Invoice, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO invoices (order_id, user_id, invoice_number, total_amount, items,
			status, payment_status, payment_method, payment_reference, paid_at,
			billing_address, billing_city, billing_zip_code, billing_country, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+invoiceColumns,
		arg.OrderID, arg.UserID, arg.InvoiceNumber, arg.TotalAmount, arg.Items,
		arg.Status, arg.PaymentStatus, arg.PaymentMethod, arg.PaymentReference, arg.PaidAt,
		arg.BillingAddress, arg.BillingCity, arg.BillingZipCode, arg.BillingCountry, arg.Notes,
	)
	return scanInvoice(row)
}

func (q *Queries) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	row := q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id)
	return scanInvoice(row)
}

func (q *Queries) GetInvoiceByPaymentReference(ctx context.Context, ref string) (Invoice, error) {
	row := q.db.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE payment_reference = $1`, ref)
	return scanInvoice(row)
}

func (q *Queries) ListInvoices(ctx context.Context) ([]Invoice, error) {
	rows, err := q.db.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (q *Queries) ListInvoicesByUser(ctx context.Context, userID int64) ([]Invoice, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+invoiceColumns+` FROM invoices
		WHERE user_id = $1
		ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

type UpdateInvoiceParams struct {
	ID               int64
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
}

func (q *Queries) UpdateInvoice(ctx context.Context, arg UpdateInvoiceParams) (Invoice, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE invoices
		SET status = $2, payment_status = $3, payment_method = $4, payment_reference = $5,
			paid_at = $6, billing_address = $7, billing_city = $8, billing_zip_code = $9,
			billing_country = $10, notes = $11, updated_at = now()
		WHERE id = $1
		RETURNING `+invoiceColumns,
		arg.ID, arg.Status, arg.PaymentStatus, arg.PaymentMethod, arg.PaymentReference,
		arg.PaidAt, arg.BillingAddress, arg.BillingCity, arg.BillingZipCode,
		arg.BillingCountry, arg.Notes,
	)
	return scanInvoice(row)
}

func (q *Queries) DeleteInvoice(ctx context.Context, id int64) (int64, error) {
	var deleted int64
	err := q.db.QueryRow(ctx, `DELETE FROM invoices WHERE id = $1 RETURNING id`, id).Scan(&deleted)
	return deleted, err
}

func (q *Queries) CountInvoices(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&n)
	return n, err
}

func (q *Queries) CountDistinctInvoiceUsers(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `SELECT COUNT(DISTINCT user_id) FROM invoices`).Scan(&n)
	return n, err
}

// InvoiceWithUser joins the owning user's contact fields onto the invoice
// row for the admin dashboard order feed.
type InvoiceWithUser struct {
	Invoice
	UserEmail   pgtype.Text
	UserIsGuest pgtype.Bool
}

func (q *Queries) ListInvoicesWithUsers(ctx context.Context) ([]InvoiceWithUser, error) {
	rows, err := q.db.Query(ctx, `
		SELECT i.id, i.order_id, i.user_id, i.invoice_number, i.total_amount, i.items,
			i.status, i.payment_status, i.payment_method, i.payment_reference, i.paid_at,
			i.billing_address, i.billing_city, i.billing_zip_code, i.billing_country,
			i.notes, i.created_at, i.updated_at, u.email, u.is_guest
		FROM invoices i
		LEFT JOIN users u ON u.id = i.user_id
		ORDER BY i.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InvoiceWithUser
	for rows.Next() {
		var iv InvoiceWithUser
		err := rows.Scan(
			&iv.ID, &iv.OrderID, &iv.UserID, &iv.InvoiceNumber, &iv.TotalAmount, &iv.Items,
			&iv.Status, &iv.PaymentStatus, &iv.PaymentMethod, &iv.PaymentReference, &iv.PaidAt,
			&iv.BillingAddress, &iv.BillingCity, &iv.BillingZipCode, &iv.BillingCountry,
			&iv.Notes, &iv.CreatedAt, &iv.UpdatedAt, &iv.UserEmail, &iv.UserIsGuest,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}
