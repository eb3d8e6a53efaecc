package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// GetSalesSummaryRow aggregates completed invoices inside the window.
type GetSalesSummaryRow struct {
	TotalSales   pgtype.Numeric
	InvoiceCount int64
}

func (q *Queries) GetSalesSummary(ctx context.Context, since time.Time) (GetSalesSummaryRow, error) {
	var row GetSalesSummaryRow
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_amount), 0), COUNT(*)
		FROM invoices
		WHERE payment_status = 'completed' AND created_at >= $1`,
		since,
	).Scan(&row.TotalSales, &row.InvoiceCount)
	return row, err
}

func (q *Queries) GetAverageTransactionValue(ctx context.Context, since time.Time) (pgtype.Numeric, error) {
	var avg pgtype.Numeric
	err := q.db.QueryRow(ctx, `
		SELECT COALESCE(AVG(total_amount), 0)
		FROM invoices
		WHERE payment_status = 'completed' AND created_at >= $1`,
		since,
	).Scan(&avg)
	return avg, err
}

// ListCompletedInvoiceItems returns the items jsonb of each completed invoice
// in the window. Top-product and category KPIs unroll these in Go, matching
// how the line items are denormalized per invoice.
func (q *Queries) ListCompletedInvoiceItems(ctx context.Context, since time.Time) ([][]LineItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT items
		FROM invoices
		WHERE payment_status = 'completed' AND created_at >= $1`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]LineItem
	for rows.Next() {
		var items []LineItem
		if err := rows.Scan(&items); err != nil {
			return nil, err
		}
		out = append(out, items)
	}
	return out, rows.Err()
}

// CountActiveCustomers counts distinct users with a completed invoice in the window.
func (q *Queries) CountActiveCustomers(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM invoices
		WHERE payment_status = 'completed' AND created_at >= $1`,
		since,
	).Scan(&n)
	return n, err
}
