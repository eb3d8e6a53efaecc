package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const productColumns = `id, name, brand, category, description, picture, price,
	quantity_in_stock, barcode, open_food_facts_id, nutritional_info, created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (Product, error) {
	var p Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Brand,
		&p.Category,
		&p.Description,
		&p.Picture,
		&p.Price,
		&p.QuantityInStock,
		&p.Barcode,
		&p.OpenFoodFactsID,
		&p.NutritionalInfo,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

func collectProducts(rows pgx.Rows) ([]Product, error) {
	defer rows.Close()
	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

type ListProductsParams struct {
	Limit  int32
	Offset int32
}

func (q *Queries) ListProducts(ctx context.Context, arg ListProductsParams) ([]Product, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+productColumns+` FROM products
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		arg.Limit, arg.Offset,
	)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

func (q *Queries) GetProduct(ctx context.Context, id int64) (Product, error) {
	row := q.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return scanProduct(row)
}

type CreateProductParams struct {
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
}

func (q *Queries) CreateProduct(ctx context.Context, arg CreateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO products (name, brand, category, description, picture, price,
			quantity_in_stock, barcode, open_food_facts_id, nutritional_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+productColumns,
		arg.Name, arg.Brand, arg.Category, arg.Description, arg.Picture, arg.Price,
		arg.QuantityInStock, arg.Barcode, arg.OpenFoodFactsID, arg.NutritionalInfo,
	)
	return scanProduct(row)
}

type UpdateProductParams struct {
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
}

func (q *Queries) UpdateProduct(ctx context.Context, arg UpdateProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE products
		SET name = $2, brand = $3, category = $4, description = $5, picture = $6,
			price = $7, quantity_in_stock = $8, barcode = $9,
			open_food_facts_id = COALESCE($10, open_food_facts_id),
			nutritional_info = $11, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		arg.ID, arg.Name, arg.Brand, arg.Category, arg.Description, arg.Picture,
		arg.Price, arg.QuantityInStock, arg.Barcode, arg.OpenFoodFactsID, arg.NutritionalInfo,
	)
	return scanProduct(row)
}

func (q *Queries) DeleteProduct(ctx context.Context, id int64) (int64, error) {
	var deleted int64
	err := q.db.QueryRow(ctx, `DELETE FROM products WHERE id = $1 RETURNING id`, id).Scan(&deleted)
	return deleted, err
}

type DecrementProductStockParams struct {
	ID       int64
	Quantity int32
}

// DecrementProductStock atomically takes stock for one checkout line. The
// WHERE clause guards against overselling: no row comes back when the
// remaining stock is below the requested quantity, and the caller rolls the
// whole transaction back.
func (q *Queries) DecrementProductStock(ctx context.Context, arg DecrementProductStockParams) (Product, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE products
		SET quantity_in_stock = quantity_in_stock - $2, updated_at = now()
		WHERE id = $1 AND quantity_in_stock >= $2
		RETURNING `+productColumns,
		arg.ID, arg.Quantity,
	)
	return scanProduct(row)
}

type RestoreProductStockParams struct {
	ID       int64
	Quantity int32
}

// RestoreProductStock puts quantity back after an unpaid invoice is deleted.
func (q *Queries) RestoreProductStock(ctx context.Context, arg RestoreProductStockParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE products
		SET quantity_in_stock = quantity_in_stock + $2, updated_at = now()
		WHERE id = $1`,
		arg.ID, arg.Quantity,
	)
	return err
}

func (q *Queries) ListLowStockProducts(ctx context.Context, threshold int32) ([]Product, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE quantity_in_stock <= $1
		ORDER BY quantity_in_stock ASC`,
		threshold,
	)
	if err != nil {
		return nil, err
	}
	return collectProducts(rows)
}

// ListCategories returns the distinct category names in the catalog.
func (q *Queries) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT DISTINCT category FROM products ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProductCategory pairs a product id with its category, for report grouping.
type ProductCategory struct {
	ID       int64
	Category string
}

func (q *Queries) ListProductCategories(ctx context.Context) ([]ProductCategory, error) {
	rows, err := q.db.Query(ctx, `SELECT id, category FROM products`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProductCategory
	for rows.Next() {
		var pc ProductCategory
		if err := rows.Scan(&pc.ID, &pc.Category); err != nil {
			return nil, err
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}
