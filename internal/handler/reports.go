package handler

import (
	"context"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/freshmart/api/internal/database"
)

// ReportStore defines the database methods needed by the KPI reports.
// Satisfied by *database.Queries; narrow interface for testability.
type ReportStore interface {
	GetSalesSummary(ctx context.Context, since time.Time) (database.GetSalesSummaryRow, error)
	GetAverageTransactionValue(ctx context.Context, since time.Time) (pgtype.Numeric, error)
	ListCompletedInvoiceItems(ctx context.Context, since time.Time) ([][]database.LineItem, error)
	CountActiveCustomers(ctx context.Context, since time.Time) (int64, error)
	CountRegisteredCustomers(ctx context.Context) (int64, error)
	ListLowStockProducts(ctx context.Context, threshold int32) ([]database.Product, error)
	ListProductCategories(ctx context.Context) ([]database.ProductCategory, error)
}

// ReportHandler serves the KPI report endpoints.
type ReportHandler struct {
	store ReportStore
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(store ReportStore) *ReportHandler {
	return &ReportHandler{store: store}
}

// RegisterRoutes registers report endpoints. Expected to be mounted inside
// an admin-only subrouter.
func (h *ReportHandler) RegisterRoutes(r chi.Router) {
	r.Get("/reports", h.AllKPIs)
	r.Get("/reports/sales", h.Sales)
	r.Get("/reports/average-transaction", h.AverageTransaction)
	r.Get("/reports/top-products", h.TopProducts)
	r.Get("/reports/active-customers", h.ActiveCustomers)
	r.Get("/reports/low-stock", h.LowStock)
	r.Get("/reports/revenue-by-category", h.RevenueByCategory)
}

const defaultReportDays = 30

// reportWindow parses the trailing-days query param. The window start is
// inclusive: an invoice created exactly N days ago counts.
func reportWindow(r *http.Request) (time.Time, int) {
	days := defaultReportDays
	if s := r.URL.Query().Get("days"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			days = v
		}
	}
	return time.Now().AddDate(0, 0, -days), days
}

// --- Response types ---

type salesSummaryResponse struct {
	Days         int    `json:"days"`
	TotalSales   string `json:"totalSales"`
	InvoiceCount int64  `json:"invoiceCount"`
}

type averageTransactionResponse struct {
	Days    int    `json:"days"`
	Average string `json:"average"`
}

type topProductResponse struct {
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
	Revenue     string `json:"revenue"`
}

type activeCustomersResponse struct {
	Days            int   `json:"days"`
	ActiveCustomers int64 `json:"activeCustomers"`
	TotalCustomers  int64 `json:"totalCustomers"`
}

type lowStockProductResponse struct {
	ProductID       int64  `json:"productId"`
	ProductName     string `json:"productName"`
	Category        string `json:"category"`
	QuantityInStock int32  `json:"quantityInStock"`
}

type categoryRevenueResponse struct {
	Category string `json:"category"`
	Revenue  string `json:"revenue"`
	Quantity int64  `json:"quantity"`
}

type allKPIsResponse struct {
	Days               int                       `json:"days"`
	Sales              salesSummaryResponse      `json:"sales"`
	AverageTransaction string                    `json:"averageTransaction"`
	TopProducts        []topProductResponse      `json:"topProducts"`
	ActiveCustomers    activeCustomersResponse   `json:"activeCustomers"`
	LowStock           []lowStockProductResponse `json:"lowStock"`
	RevenueByCategory  []categoryRevenueResponse `json:"revenueByCategory"`
	GeneratedAt        time.Time                 `json:"generatedAt"`
}

// --- Handlers ---

// Sales returns total sales and invoice count over the window.
func (h *ReportHandler) Sales(w http.ResponseWriter, r *http.Request) {
	since, days := reportWindow(r)
	resp, err := h.salesSummary(r.Context(), since, days)
	if err != nil {
		log.Printf("ERROR: sales report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ReportHandler) salesSummary(ctx context.Context, since time.Time, days int) (salesSummaryResponse, error) {
	row, err := h.store.GetSalesSummary(ctx, since)
	if err != nil {
		return salesSummaryResponse{}, err
	}
	return salesSummaryResponse{
		Days:         days,
		TotalSales:   numericToString(row.TotalSales),
		InvoiceCount: row.InvoiceCount,
	}, nil
}

// AverageTransaction returns the mean invoice total over the window.
func (h *ReportHandler) AverageTransaction(w http.ResponseWriter, r *http.Request) {
	since, days := reportWindow(r)
	avg, err := h.store.GetAverageTransactionValue(r.Context(), since)
	if err != nil {
		log.Printf("ERROR: average transaction report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, averageTransactionResponse{Days: days, Average: numericToString(avg)})
}

// TopProducts ranks products by quantity sold across completed invoices.
// Line items are denormalized into each invoice's jsonb, so the rollup
// walks them in Go rather than in SQL.
func (h *ReportHandler) TopProducts(w http.ResponseWriter, r *http.Request) {
	since, _ := reportWindow(r)

	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			limit = v
		}
	}

	top, err := h.topProducts(r.Context(), since, limit)
	if err != nil {
		log.Printf("ERROR: top products report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, top)
}

func (h *ReportHandler) topProducts(ctx context.Context, since time.Time, limit int) ([]topProductResponse, error) {
	invoiceItems, err := h.store.ListCompletedInvoiceItems(ctx, since)
	if err != nil {
		return nil, err
	}

	type rollup struct {
		name     string
		quantity int64
		revenue  decimal.Decimal
	}
	byProduct := map[int64]*rollup{}
	for _, items := range invoiceItems {
		for _, item := range items {
			agg, ok := byProduct[item.ProductID]
			if !ok {
				agg = &rollup{name: item.ProductName}
				byProduct[item.ProductID] = agg
			}
			agg.quantity += int64(item.Quantity)
			agg.revenue = agg.revenue.Add(item.Subtotal)
		}
	}

	top := make([]topProductResponse, 0, len(byProduct))
	for id, agg := range byProduct {
		top = append(top, topProductResponse{
			ProductID:   id,
			ProductName: agg.name,
			Quantity:    agg.quantity,
			Revenue:     agg.revenue.StringFixed(2),
		})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Quantity != top[j].Quantity {
			return top[i].Quantity > top[j].Quantity
		}
		return top[i].ProductID < top[j].ProductID
	})
	if len(top) > limit {
		top = top[:limit]
	}
	return top, nil
}

// ActiveCustomers returns distinct buyers in the window against the total
// registered customer base.
func (h *ReportHandler) ActiveCustomers(w http.ResponseWriter, r *http.Request) {
	since, days := reportWindow(r)
	resp, err := h.activeCustomers(r.Context(), since, days)
	if err != nil {
		log.Printf("ERROR: active customers report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ReportHandler) activeCustomers(ctx context.Context, since time.Time, days int) (activeCustomersResponse, error) {
	active, err := h.store.CountActiveCustomers(ctx, since)
	if err != nil {
		return activeCustomersResponse{}, err
	}
	total, err := h.store.CountRegisteredCustomers(ctx)
	if err != nil {
		return activeCustomersResponse{}, err
	}
	return activeCustomersResponse{Days: days, ActiveCustomers: active, TotalCustomers: total}, nil
}

// LowStock lists products at or below the threshold, emptiest first.
func (h *ReportHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	threshold := int32(10)
	if s := r.URL.Query().Get("threshold"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v >= 0 {
			threshold = int32(v)
		}
	}

	resp, err := h.lowStock(r.Context(), threshold)
	if err != nil {
		log.Printf("ERROR: low stock report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ReportHandler) lowStock(ctx context.Context, threshold int32) ([]lowStockProductResponse, error) {
	products, err := h.store.ListLowStockProducts(ctx, threshold)
	if err != nil {
		return nil, err
	}
	resp := make([]lowStockProductResponse, len(products))
	for i, p := range products {
		resp[i] = lowStockProductResponse{
			ProductID:       p.ID,
			ProductName:     p.Name,
			Category:        p.Category,
			QuantityInStock: p.QuantityInStock,
		}
	}
	return resp, nil
}

// RevenueByCategory groups completed invoice items by their product's
// category, highest revenue first.
func (h *ReportHandler) RevenueByCategory(w http.ResponseWriter, r *http.Request) {
	since, _ := reportWindow(r)
	resp, err := h.revenueByCategory(r.Context(), since)
	if err != nil {
		log.Printf("ERROR: revenue by category report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *ReportHandler) revenueByCategory(ctx context.Context, since time.Time) ([]categoryRevenueResponse, error) {
	categories, err := h.store.ListProductCategories(ctx)
	if err != nil {
		return nil, err
	}
	categoryOf := make(map[int64]string, len(categories))
	for _, c := range categories {
		categoryOf[c.ID] = c.Category
	}

	invoiceItems, err := h.store.ListCompletedInvoiceItems(ctx, since)
	if err != nil {
		return nil, err
	}

	type rollup struct {
		revenue  decimal.Decimal
		quantity int64
	}
	byCategory := map[string]*rollup{}
	for _, items := range invoiceItems {
		for _, item := range items {
			category, ok := categoryOf[item.ProductID]
			if !ok {
				// Product since deleted; its sales still count.
				category = "uncategorized"
			}
			agg, found := byCategory[category]
			if !found {
				agg = &rollup{}
				byCategory[category] = agg
			}
			agg.revenue = agg.revenue.Add(item.Subtotal)
			agg.quantity += int64(item.Quantity)
		}
	}

	resp := make([]categoryRevenueResponse, 0, len(byCategory))
	for category, agg := range byCategory {
		resp = append(resp, categoryRevenueResponse{
			Category: category,
			Revenue:  agg.revenue.StringFixed(2),
			Quantity: agg.quantity,
		})
	}
	sort.Slice(resp, func(i, j int) bool {
		ri, _ := decimal.NewFromString(resp[i].Revenue)
		rj, _ := decimal.NewFromString(resp[j].Revenue)
		if !ri.Equal(rj) {
			return ri.GreaterThan(rj)
		}
		return resp[i].Category < resp[j].Category
	})
	return resp, nil
}

// AllKPIs returns every report in one payload for the dashboard.
func (h *ReportHandler) AllKPIs(w http.ResponseWriter, r *http.Request) {
	since, days := reportWindow(r)
	ctx := r.Context()

	sales, err := h.salesSummary(ctx, since, days)
	if err != nil {
		log.Printf("ERROR: kpi report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	avg, err := h.store.GetAverageTransactionValue(ctx, since)
	if err != nil {
		log.Printf("ERROR: kpi report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	top, err := h.topProducts(ctx, since, 10)
	if err != nil {
		log.Printf("ERROR: kpi report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	active, err := h.activeCustomers(ctx, since, days)
	if err != nil {
		log.Printf("ERROR: kpi report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	lowStock, err := h.lowStock(ctx, 10)
	if err != nil {
		log.Printf("ERROR: kpi report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	byCategory, err := h.revenueByCategory(ctx, since)
	if err != nil {
		log.Printf("ERROR: kpi report: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, allKPIsResponse{
		Days:               days,
		Sales:              sales,
		AverageTransaction: numericToString(avg),
		TopProducts:        top,
		ActiveCustomers:    active,
		LowStock:           lowStock,
		RevenueByCategory:  byCategory,
		GeneratedAt:        time.Now(),
	})
}
