package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/service"
)

// ProductStore defines the database methods needed by product handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type ProductStore interface {
	ListProducts(ctx context.Context, arg database.ListProductsParams) ([]database.Product, error)
	GetProduct(ctx context.Context, id int64) (database.Product, error)
	CreateProduct(ctx context.Context, arg database.CreateProductParams) (database.Product, error)
	UpdateProduct(ctx context.Context, arg database.UpdateProductParams) (database.Product, error)
	DeleteProduct(ctx context.Context, id int64) (int64, error)
	ListCategories(ctx context.Context) ([]string, error)
}

// BarcodeEnricher fetches catalog data for a barcode from Open Food Facts.
// Satisfied by *service.OFFClient.
type BarcodeEnricher interface {
	FetchByBarcode(ctx context.Context, barcode string) (*service.EnrichedProduct, error)
}

// ProductHandler handles product CRUD endpoints.
type ProductHandler struct {
	store    ProductStore
	enricher BarcodeEnricher
}

// NewProductHandler creates a new ProductHandler.
func NewProductHandler(store ProductStore, enricher BarcodeEnricher) *ProductHandler {
	return &ProductHandler{store: store, enricher: enricher}
}

// RegisterRoutes registers public product endpoints on the given Chi router.
func (h *ProductHandler) RegisterRoutes(r chi.Router) {
	r.Get("/products", h.List)
	r.Get("/products/categories", h.Categories)
	r.Get("/products/{id}", h.Get)
}

// RegisterAdminRoutes registers catalog management endpoints. Expected to be
// mounted inside an admin-only subrouter.
func (h *ProductHandler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/products", h.Create)
	r.Put("/products/{id}", h.Update)
	r.Delete("/products/{id}", h.Delete)
}

// --- Request / Response types ---

type productRequest struct {
	Name            string                   `json:"name"`
	Brand           string                   `json:"brand"`
	Category        string                   `json:"category"`
	Description     string                   `json:"description"`
	Picture         string                   `json:"picture"`
	Price           string                   `json:"price"`
	QuantityInStock *int32                   `json:"quantityInStock"`
	Barcode         string                   `json:"barcode"`
	NutritionalInfo database.NutritionalInfo `json:"nutritionalInfo"`

	// RefreshFromBarcode re-queries Open Food Facts on update.
	RefreshFromBarcode bool `json:"refreshFromBarcode,omitempty"`
}

type productResponse struct {
	ID              int64                    `json:"id"`
	Name            string                   `json:"name"`
	Brand           *string                  `json:"brand"`
	Category        string                   `json:"category"`
	Description     *string                  `json:"description"`
	Picture         *string                  `json:"picture"`
	Price           string                   `json:"price"`
	QuantityInStock int32                    `json:"quantityInStock"`
	Barcode         *string                  `json:"barcode"`
	OpenFoodFactsID *string                  `json:"openFoodFactsId"`
	NutritionalInfo database.NutritionalInfo `json:"nutritionalInfo"`
	CreatedAt       time.Time                `json:"createdAt"`
	UpdatedAt       time.Time                `json:"updatedAt"`
}

func toProductResponse(p database.Product) productResponse {
	resp := productResponse{
		ID:              p.ID,
		Name:            p.Name,
		Category:        p.Category,
		QuantityInStock: p.QuantityInStock,
		NutritionalInfo: p.NutritionalInfo,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}

	// Convert pgtype.Numeric to string for price.
	// Always format with 2 decimal places for consistent money representation.
	if p.Price.Valid {
		val, err := p.Price.Value()
		if err == nil && val != nil {
			d, err := decimal.NewFromString(val.(string))
			if err == nil {
				resp.Price = d.StringFixed(2)
			}
		}
	}

	if p.Brand.Valid {
		resp.Brand = &p.Brand.String
	}
	if p.Description.Valid {
		resp.Description = &p.Description.String
	}
	if p.Picture.Valid {
		resp.Picture = &p.Picture.String
	}
	if p.Barcode.Valid {
		resp.Barcode = &p.Barcode.String
	}
	if p.OpenFoodFactsID.Valid {
		resp.OpenFoodFactsID = &p.OpenFoodFactsID.String
	}
	return resp
}

// --- Helpers ---

var errNegativePrice = errors.New("negative price")

func parsePrice(s string) (pgtype.Numeric, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return pgtype.Numeric{}, err
	}
	if d.IsNegative() {
		return pgtype.Numeric{}, errNegativePrice
	}
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return pgtype.Numeric{}, err
	}
	return n, nil
}

func isBarcodeConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "products_barcode_key"
}

// --- Handlers ---

// List returns a page of the catalog.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	// Parse pagination
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if s := r.URL.Query().Get("offset"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			offset = v
		}
	}

	products, err := h.store.ListProducts(r.Context(), database.ListProductsParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		log.Printf("ERROR: list products: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]productResponse, len(products))
	for i, p := range products {
		resp[i] = toProductResponse(p)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Categories returns the distinct category names in the catalog.
func (h *ProductHandler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.store.ListCategories(r.Context())
	if err != nil {
		log.Printf("ERROR: list categories: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, http.StatusOK, categories)
}

// Get returns a single product by ID.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
		return
	}

	product, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: get product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// Create adds a product to the catalog. When a barcode is supplied the
// handler enriches blank fields from Open Food Facts; data typed in by the
// admin always wins over fetched data.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.Price == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "price is required"})
		return
	}
	price, err := parsePrice(req.Price)
	if err != nil {
		if errors.Is(err, errNegativePrice) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "price must be >= 0"})
		} else {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
		}
		return
	}

	offID := ""
	if req.Barcode != "" {
		req, offID = h.enrich(r.Context(), req)
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	if req.Category == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "category is required"})
		return
	}

	stock := int32(0)
	if req.QuantityInStock != nil {
		if *req.QuantityInStock < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantityInStock must be >= 0"})
			return
		}
		stock = *req.QuantityInStock
	}

	product, err := h.store.CreateProduct(r.Context(), database.CreateProductParams{
		Name:            req.Name,
		Brand:           textOrNull(req.Brand),
		Category:        req.Category,
		Description:     textOrNull(req.Description),
		Picture:         textOrNull(req.Picture),
		Price:           price,
		QuantityInStock: stock,
		Barcode:         textOrNull(req.Barcode),
		OpenFoodFactsID: textOrNull(offID),
		NutritionalInfo: req.NutritionalInfo,
	})
	if err != nil {
		if isBarcodeConflict(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a product with this barcode already exists"})
			return
		}
		log.Printf("ERROR: create product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusCreated, toProductResponse(product))
}

// Update modifies an existing product. Only the fields present in the
// request change; everything else keeps its stored value. When
// refreshFromBarcode is set the handler re-queries Open Food Facts and the
// fetched fields replace the stored ones.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
		return
	}

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	current, err := h.store.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: get product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	params := database.UpdateProductParams{
		ID:              id,
		Name:            current.Name,
		Brand:           current.Brand,
		Category:        current.Category,
		Description:     current.Description,
		Picture:         current.Picture,
		Price:           current.Price,
		QuantityInStock: current.QuantityInStock,
		Barcode:         current.Barcode,
		NutritionalInfo: current.NutritionalInfo,
	}
	if req.Name != "" {
		params.Name = req.Name
	}
	if req.Brand != "" {
		params.Brand = pgtype.Text{String: req.Brand, Valid: true}
	}
	if req.Category != "" {
		params.Category = req.Category
	}
	if req.Description != "" {
		params.Description = pgtype.Text{String: req.Description, Valid: true}
	}
	if req.Picture != "" {
		params.Picture = pgtype.Text{String: req.Picture, Valid: true}
	}
	if req.Barcode != "" {
		params.Barcode = pgtype.Text{String: req.Barcode, Valid: true}
	}
	if req.Price != "" {
		price, err := parsePrice(req.Price)
		if err != nil {
			if errors.Is(err, errNegativePrice) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "price must be >= 0"})
			} else {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid price"})
			}
			return
		}
		params.Price = price
	}
	if req.QuantityInStock != nil {
		if *req.QuantityInStock < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantityInStock must be >= 0"})
			return
		}
		params.QuantityInStock = *req.QuantityInStock
	}
	params.NutritionalInfo = service.MergeNutrition(req.NutritionalInfo, params.NutritionalInfo)

	if req.RefreshFromBarcode {
		if !params.Barcode.Valid {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "product has no barcode to refresh from"})
			return
		}
		fetched, err := h.enricher.FetchByBarcode(r.Context(), params.Barcode.String)
		if err != nil {
			log.Printf("WARN: open food facts lookup for %s: %v", params.Barcode.String, err)
		} else if fetched == nil {
			// An explicit refresh for an unknown barcode is a client error.
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "barcode not found on Open Food Facts"})
			return
		} else {
			params = overlayRefresh(params, fetched)
		}
	}

	product, err := h.store.UpdateProduct(r.Context(), params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		if isBarcodeConflict(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "a product with this barcode already exists"})
			return
		}
		log.Printf("ERROR: update product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toProductResponse(product))
}

// Delete removes a product from the catalog.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid product ID"})
		return
	}

	if _, err := h.store.DeleteProduct(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
			return
		}
		log.Printf("ERROR: delete product: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

// enrich overlays Open Food Facts data under the admin-supplied fields.
// Lookup failures are logged and ignored; the catalog write proceeds with
// whatever the admin typed.
func (h *ProductHandler) enrich(ctx context.Context, req productRequest) (productRequest, string) {
	fetched, err := h.enricher.FetchByBarcode(ctx, req.Barcode)
	if err != nil {
		log.Printf("WARN: open food facts lookup for %s: %v", req.Barcode, err)
		return req, ""
	}
	if fetched == nil {
		return req, ""
	}
	return overlayEnrichment(req, fetched), fetched.OpenFoodFactsID
}

// overlayRefresh replaces stored fields with the freshly fetched record.
// The refresh direction is the opposite of create-time enrichment: here the
// admin asked for Open Food Facts data, so non-empty fetched fields win.
func overlayRefresh(params database.UpdateProductParams, fetched *service.EnrichedProduct) database.UpdateProductParams {
	if fetched.Name != "" {
		params.Name = fetched.Name
	}
	if fetched.Brand != "" {
		params.Brand = pgtype.Text{String: fetched.Brand, Valid: true}
	}
	if fetched.Category != "" {
		params.Category = fetched.Category
	}
	if fetched.Picture != "" {
		params.Picture = pgtype.Text{String: fetched.Picture, Valid: true}
	}
	params.NutritionalInfo = service.MergeNutrition(fetched.NutritionalInfo, params.NutritionalInfo)
	params.OpenFoodFactsID = textOrNull(fetched.OpenFoodFactsID)
	return params
}

// overlayEnrichment fills blank request fields from the fetched record.
func overlayEnrichment(req productRequest, fetched *service.EnrichedProduct) productRequest {
	if req.Name == "" {
		req.Name = fetched.Name
	}
	if req.Brand == "" {
		req.Brand = fetched.Brand
	}
	if req.Category == "" {
		req.Category = fetched.Category
	}
	if req.Picture == "" {
		req.Picture = fetched.Picture
	}
	req.NutritionalInfo = service.MergeNutrition(req.NutritionalInfo, fetched.NutritionalInfo)
	return req
}

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
