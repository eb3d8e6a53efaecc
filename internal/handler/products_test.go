package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/handler"
	"github.com/freshmart/api/internal/service"
)

// --- Mock store ---

type mockProductStore struct {
	nextID   int64
	products map[int64]database.Product
}

func newMockProductStore() *mockProductStore {
	return &mockProductStore{nextID: 1, products: make(map[int64]database.Product)}
}

func (m *mockProductStore) addProduct(p database.Product) database.Product {
	if p.ID == 0 {
		p.ID = m.nextID
		m.nextID++
	}
	m.products[p.ID] = p
	return p
}

func (m *mockProductStore) ListProducts(_ context.Context, arg database.ListProductsParams) ([]database.Product, error) {
	var result []database.Product
	for _, p := range m.products {
		result = append(result, p)
	}
	if int(arg.Offset) >= len(result) {
		return nil, nil
	}
	result = result[arg.Offset:]
	if int(arg.Limit) < len(result) {
		result = result[:arg.Limit]
	}
	return result, nil
}

func (m *mockProductStore) GetProduct(_ context.Context, id int64) (database.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return database.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *mockProductStore) CreateProduct(_ context.Context, arg database.CreateProductParams) (database.Product, error) {
	if arg.Barcode.Valid {
		for _, p := range m.products {
			if p.Barcode.Valid && p.Barcode.String == arg.Barcode.String {
				return database.Product{}, &pgconn.PgError{Code: "23505", ConstraintName: "products_barcode_key"}
			}
		}
	}
	p := database.Product{
		ID:              m.nextID,
		Name:            arg.Name,
		Brand:           arg.Brand,
		Category:        arg.Category,
		Description:     arg.Description,
		Picture:         arg.Picture,
		Price:           arg.Price,
		QuantityInStock: arg.QuantityInStock,
		Barcode:         arg.Barcode,
		OpenFoodFactsID: arg.OpenFoodFactsID,
		NutritionalInfo: arg.NutritionalInfo,
	}
	m.nextID++
	m.products[p.ID] = p
	return p, nil
}

func (m *mockProductStore) UpdateProduct(_ context.Context, arg database.UpdateProductParams) (database.Product, error) {
	p, ok := m.products[arg.ID]
	if !ok {
		return database.Product{}, pgx.ErrNoRows
	}
	p.Name = arg.Name
	p.Brand = arg.Brand
	p.Category = arg.Category
	p.Description = arg.Description
	p.Picture = arg.Picture
	p.Price = arg.Price
	p.QuantityInStock = arg.QuantityInStock
	p.Barcode = arg.Barcode
	if arg.OpenFoodFactsID.Valid {
		p.OpenFoodFactsID = arg.OpenFoodFactsID
	}
	p.NutritionalInfo = arg.NutritionalInfo
	m.products[p.ID] = p
	return p, nil
}

func (m *mockProductStore) DeleteProduct(_ context.Context, id int64) (int64, error) {
	if _, ok := m.products[id]; !ok {
		return 0, pgx.ErrNoRows
	}
	delete(m.products, id)
	return id, nil
}

func (m *mockProductStore) ListCategories(_ context.Context) ([]string, error) {
	seen := map[string]bool{}
	var result []string
	for _, p := range m.products {
		if !seen[p.Category] {
			seen[p.Category] = true
			result = append(result, p.Category)
		}
	}
	return result, nil
}

// mockEnricher returns a canned Open Food Facts record per barcode.
type mockEnricher struct {
	byBarcode map[string]*service.EnrichedProduct
	err       error
}

func (m *mockEnricher) FetchByBarcode(_ context.Context, barcode string) (*service.EnrichedProduct, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byBarcode[barcode], nil
}

// --- Helpers ---

func setupProductRouter(store *mockProductStore, enricher *mockEnricher) *chi.Mux {
	if enricher == nil {
		enricher = &mockEnricher{}
	}
	h := handler.NewProductHandler(store, enricher)
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	h.RegisterAdminRoutes(r)
	return r
}

func numericValue(t *testing.T, s string) pgtype.Numeric {
	t.Helper()
	var n pgtype.Numeric
	if err := n.Scan(s); err != nil {
		t.Fatalf("scan numeric %q: %v", s, err)
	}
	return n
}

// --- List / Get tests ---

func TestProductList(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{Name: "Oat Milk", Category: "dairy", Price: numericValue(t, "3.50")})
	store.addProduct(database.Product{Name: "Sourdough Loaf", Category: "bakery", Price: numericValue(t, "4.25")})
	router := setupProductRouter(store, nil)

	rr := doRequest(t, router, "GET", "/products", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeListResponse(t, rr)
	if len(resp) != 2 {
		t.Errorf("expected 2 products, got %d", len(resp))
	}
}

func TestProductList_Pagination(t *testing.T) {
	store := newMockProductStore()
	for i := 0; i < 3; i++ {
		store.addProduct(database.Product{Name: "Item", Category: "misc", Price: numericValue(t, "1.00")})
	}
	router := setupProductRouter(store, nil)

	rr := doRequest(t, router, "GET", "/products?limit=2&offset=1", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	resp := decodeListResponse(t, rr)
	if len(resp) != 2 {
		t.Errorf("expected 2 products with limit=2, got %d", len(resp))
	}
}

func TestProductGet_NotFound(t *testing.T) {
	router := setupProductRouter(newMockProductStore(), nil)

	rr := doRequest(t, router, "GET", "/products/99", nil)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestProductCategories(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{Name: "Oat Milk", Category: "dairy", Price: numericValue(t, "3.50")})
	router := setupProductRouter(store, nil)

	rr := doRequest(t, router, "GET", "/products/categories", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
}

// --- Create tests ---

func TestProductCreate_Valid(t *testing.T) {
	store := newMockProductStore()
	router := setupProductRouter(store, nil)

	rr := doRequest(t, router, "POST", "/products", map[string]interface{}{
		"name":            "Oat Milk",
		"category":        "dairy",
		"price":           "3.50",
		"quantityInStock": 12,
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["price"] != "3.50" {
		t.Errorf("price = %v, want 3.50", resp["price"])
	}
}

func TestProductCreate_MissingPrice(t *testing.T) {
	router := setupProductRouter(newMockProductStore(), nil)

	rr := doRequest(t, router, "POST", "/products", map[string]interface{}{
		"name":     "Oat Milk",
		"category": "dairy",
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestProductCreate_NegativePrice(t *testing.T) {
	router := setupProductRouter(newMockProductStore(), nil)

	rr := doRequest(t, router, "POST", "/products", map[string]interface{}{
		"name":     "Oat Milk",
		"category": "dairy",
		"price":    "-1.00",
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestProductCreate_EnrichesFromBarcode(t *testing.T) {
	store := newMockProductStore()
	protein := 6.3
	enricher := &mockEnricher{byBarcode: map[string]*service.EnrichedProduct{
		"3017620422003": {
			Name:            "Nutella",
			Brand:           "Ferrero",
			Category:        "spreads",
			OpenFoodFactsID: "3017620422003",
			NutritionalInfo: database.NutritionalInfo{Protein: &protein},
		},
	}}
	router := setupProductRouter(store, enricher)

	rr := doRequest(t, router, "POST", "/products", map[string]interface{}{
		"price":   "5.99",
		"barcode": "3017620422003",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["name"] != "Nutella" {
		t.Errorf("name = %v, want Nutella from enrichment", resp["name"])
	}
	if resp["openFoodFactsId"] != "3017620422003" {
		t.Errorf("openFoodFactsId = %v, want 3017620422003", resp["openFoodFactsId"])
	}
}

func TestProductCreate_UserDataWinsOverEnrichment(t *testing.T) {
	store := newMockProductStore()
	enricher := &mockEnricher{byBarcode: map[string]*service.EnrichedProduct{
		"3017620422003": {Name: "Nutella", Brand: "Ferrero", Category: "spreads"},
	}}
	router := setupProductRouter(store, enricher)

	rr := doRequest(t, router, "POST", "/products", map[string]interface{}{
		"name":    "House Hazelnut Spread",
		"price":   "5.99",
		"barcode": "3017620422003",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusCreated)
	}
	resp := decodeResponse(t, rr)
	if resp["name"] != "House Hazelnut Spread" {
		t.Errorf("name = %v, the admin's name should win", resp["name"])
	}
	if resp["brand"] != "Ferrero" {
		t.Errorf("brand = %v, blank fields should be filled from the fetch", resp["brand"])
	}
}

func TestProductCreate_EnrichmentFailureDegrades(t *testing.T) {
	store := newMockProductStore()
	enricher := &mockEnricher{err: context.DeadlineExceeded}
	router := setupProductRouter(store, enricher)

	rr := doRequest(t, router, "POST", "/products", map[string]interface{}{
		"name":     "Oat Milk",
		"category": "dairy",
		"price":    "3.50",
		"barcode":  "1234567890123",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusCreated, rr.Body.String())
	}
}

func TestProductCreate_DuplicateBarcode(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{
		Name: "Oat Milk", Category: "dairy", Price: numericValue(t, "3.50"),
		Barcode: pgtype.Text{String: "1234567890123", Valid: true},
	})
	router := setupProductRouter(store, nil)

	rr := doRequest(t, router, "POST", "/products", map[string]interface{}{
		"name":     "Oat Milk Again",
		"category": "dairy",
		"price":    "3.50",
		"barcode":  "1234567890123",
	})

	if rr.Code != http.StatusConflict {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusConflict)
	}
}

// --- Update / Delete tests ---

func TestProductUpdate_Valid(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{Name: "Oat Milk", Category: "dairy", Price: numericValue(t, "3.50")})
	router := setupProductRouter(store, nil)

	rr := doRequest(t, router, "PUT", "/products/1", map[string]interface{}{
		"name":            "Oat Milk 1L",
		"category":        "dairy",
		"price":           "3.75",
		"quantityInStock": 8,
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["name"] != "Oat Milk 1L" {
		t.Errorf("name = %v, want Oat Milk 1L", resp["name"])
	}
	if resp["price"] != "3.75" {
		t.Errorf("price = %v, want 3.75", resp["price"])
	}
}

func TestProductUpdate_PartialPreservesOmittedFields(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{
		Name:            "Oat Milk",
		Brand:           pgtype.Text{String: "Oatly", Valid: true},
		Category:        "dairy",
		Description:     pgtype.Text{String: "Barista edition", Valid: true},
		Price:           numericValue(t, "3.50"),
		QuantityInStock: 9,
		Barcode:         pgtype.Text{String: "7394376616037", Valid: true},
	})
	router := setupProductRouter(store, nil)

	rr := doRequest(t, router, "PUT", "/products/1", map[string]interface{}{
		"price": "3.75",
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["price"] != "3.75" {
		t.Errorf("price = %v, want 3.75", resp["price"])
	}
	if resp["quantityInStock"] != float64(9) {
		t.Errorf("quantityInStock = %v, want 9; a price-only update must not touch stock", resp["quantityInStock"])
	}
	if resp["brand"] != "Oatly" {
		t.Errorf("brand = %v, want Oatly", resp["brand"])
	}
	if resp["barcode"] != "7394376616037" {
		t.Errorf("barcode = %v, want 7394376616037", resp["barcode"])
	}
	if resp["description"] != "Barista edition" {
		t.Errorf("description = %v, want Barista edition", resp["description"])
	}
}

func TestProductUpdate_RefreshOverwritesStaleFields(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{
		Name:     "Hazelnut Spread (old label)",
		Brand:    pgtype.Text{String: "Unknown", Valid: true},
		Category: "spreads",
		Price:    numericValue(t, "5.99"),
		Barcode:  pgtype.Text{String: "3017620422003", Valid: true},
	})
	protein := 6.3
	enricher := &mockEnricher{byBarcode: map[string]*service.EnrichedProduct{
		"3017620422003": {
			Name:            "Nutella",
			Brand:           "Ferrero",
			Category:        "spreads",
			OpenFoodFactsID: "3017620422003",
			NutritionalInfo: database.NutritionalInfo{Protein: &protein},
		},
	}}
	router := setupProductRouter(store, enricher)

	rr := doRequest(t, router, "PUT", "/products/1", map[string]interface{}{
		"refreshFromBarcode": true,
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d; body: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp["name"] != "Nutella" {
		t.Errorf("name = %v, want Nutella; a refresh replaces the stored name", resp["name"])
	}
	if resp["brand"] != "Ferrero" {
		t.Errorf("brand = %v, want Ferrero; a refresh replaces the stored brand", resp["brand"])
	}
	if resp["openFoodFactsId"] != "3017620422003" {
		t.Errorf("openFoodFactsId = %v, want 3017620422003", resp["openFoodFactsId"])
	}
	nutrition, ok := resp["nutritionalInfo"].(map[string]interface{})
	if !ok || nutrition["protein"] != 6.3 {
		t.Errorf("nutritionalInfo = %v, want fetched protein 6.3", resp["nutritionalInfo"])
	}
}

func TestProductUpdate_RefreshWithoutBarcode(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{Name: "Oat Milk", Category: "dairy", Price: numericValue(t, "3.50")})
	router := setupProductRouter(store, &mockEnricher{})

	rr := doRequest(t, router, "PUT", "/products/1", map[string]interface{}{
		"refreshFromBarcode": true,
	})

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestProductUpdate_NotFound(t *testing.T) {
	router := setupProductRouter(newMockProductStore(), nil)

	rr := doRequest(t, router, "PUT", "/products/42", map[string]interface{}{
		"name":     "Ghost",
		"category": "misc",
		"price":    "1.00",
	})

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestProductUpdate_RefreshUnknownBarcode(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{Name: "Oat Milk", Category: "dairy", Price: numericValue(t, "3.50")})
	router := setupProductRouter(store, &mockEnricher{})

	rr := doRequest(t, router, "PUT", "/products/1", map[string]interface{}{
		"name":               "Oat Milk",
		"category":           "dairy",
		"price":              "3.50",
		"barcode":            "0000000000000",
		"refreshFromBarcode": true,
	})

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestProductDelete(t *testing.T) {
	store := newMockProductStore()
	store.addProduct(database.Product{Name: "Oat Milk", Category: "dairy", Price: numericValue(t, "3.50")})
	router := setupProductRouter(store, nil)

	rr := doRequest(t, router, "DELETE", "/products/1", nil)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rr.Code, http.StatusOK)
	}
	if len(store.products) != 0 {
		t.Error("product still present after delete")
	}
}

func TestProductDelete_NotFound(t *testing.T) {
	router := setupProductRouter(newMockProductStore(), nil)

	rr := doRequest(t, router, "DELETE", "/products/42", nil)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want %d", rr.Code, http.StatusNotFound)
	}
}
