package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/freshmart/api/internal/database"
)

// AdminStore defines the database methods needed by the admin dashboard.
// Satisfied by *database.Queries; narrow interface for testability.
type AdminStore interface {
	CountOrders(ctx context.Context) (int64, error)
	CountInvoices(ctx context.Context) (int64, error)
	CountDistinctInvoiceUsers(ctx context.Context) (int64, error)
	ListInvoicesWithUsers(ctx context.Context) ([]database.InvoiceWithUser, error)
}

// AdminHandler serves the dashboard endpoints.
type AdminHandler struct {
	store AdminStore
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(store AdminStore) *AdminHandler {
	return &AdminHandler{store: store}
}

// RegisterRoutes registers dashboard endpoints. Expected to be mounted
// inside an admin-only subrouter.
func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Get("/admin/dashboard/summary", h.Summary)
	r.Get("/admin/dashboard/orders", h.OrderFeed)
}

type dashboardSummaryResponse struct {
	TotalOrders   int64 `json:"totalOrders"`
	TotalInvoices int64 `json:"totalInvoices"`
	TotalUsers    int64 `json:"totalUsers"`
}

// Summary returns the headline counters shown at the top of the dashboard.
func (h *AdminHandler) Summary(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.CountOrders(r.Context())
	if err != nil {
		log.Printf("ERROR: count orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	invoices, err := h.store.CountInvoices(r.Context())
	if err != nil {
		log.Printf("ERROR: count invoices: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	users, err := h.store.CountDistinctInvoiceUsers(r.Context())
	if err != nil {
		log.Printf("ERROR: count invoice users: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, dashboardSummaryResponse{
		TotalOrders:   orders,
		TotalInvoices: invoices,
		TotalUsers:    users,
	})
}

type dashboardOrderResponse struct {
	ID            int64               `json:"id"`
	InvoiceNumber string              `json:"invoiceNumber"`
	UserEmail     *string             `json:"userEmail"`
	IsGuest       bool                `json:"isGuest"`
	TotalAmount   string              `json:"totalAmount"`
	Items         []database.LineItem `json:"items"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"paymentStatus"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// OrderFeed returns every invoice joined with its buyer's contact fields,
// newest first. The dashboard polls this alongside the websocket feed.
func (h *AdminHandler) OrderFeed(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.store.ListInvoicesWithUsers(r.Context())
	if err != nil {
		log.Printf("ERROR: list dashboard orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]dashboardOrderResponse, len(invoices))
	for i, iv := range invoices {
		row := dashboardOrderResponse{
			ID:            iv.ID,
			InvoiceNumber: iv.InvoiceNumber,
			IsGuest:       iv.UserIsGuest.Valid && iv.UserIsGuest.Bool,
			TotalAmount:   numericToString(iv.TotalAmount),
			Items:         iv.Items,
			Status:        derivedInvoiceStatus(iv.Invoice),
			PaymentStatus: iv.PaymentStatus,
			CreatedAt:     iv.CreatedAt,
		}
		if iv.UserEmail.Valid {
			row.UserEmail = &iv.UserEmail.String
		}
		resp[i] = row
	}
	writeJSON(w, http.StatusOK, resp)
}
