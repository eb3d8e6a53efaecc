package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/enum"
	"github.com/freshmart/api/internal/middleware"
	"github.com/freshmart/api/internal/service"
)

// InvoiceServicer defines the service methods needed by invoice handlers.
// Satisfied by *service.InvoiceService; narrow interface for testability.
type InvoiceServicer interface {
	CreateInvoice(ctx context.Context, req service.CreateInvoiceRequest) (*database.Invoice, error)
	GuestCheckout(ctx context.Context, req service.GuestCheckoutRequest) (*database.Invoice, error)
	DeleteInvoice(ctx context.Context, id int64) error
}

// InvoiceStore defines the database methods needed by invoice read/update
// handlers. Satisfied by *database.Queries; narrow interface for testability.
type InvoiceStore interface {
	GetUserByID(ctx context.Context, id int64) (database.User, error)
	GetInvoice(ctx context.Context, id int64) (database.Invoice, error)
	ListInvoices(ctx context.Context) ([]database.Invoice, error)
	ListInvoicesByUser(ctx context.Context, userID int64) ([]database.Invoice, error)
	UpdateInvoice(ctx context.Context, arg database.UpdateInvoiceParams) (database.Invoice, error)
}

// InvoiceHandler handles invoice endpoints.
type InvoiceHandler struct {
	svc   InvoiceServicer
	store InvoiceStore
	hub   Broadcaster
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(svc InvoiceServicer, store InvoiceStore, hub Broadcaster) *InvoiceHandler {
	return &InvoiceHandler{svc: svc, store: store, hub: hub}
}

// RegisterPublicRoutes registers the guest checkout endpoint.
func (h *InvoiceHandler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/invoices/guest-checkout", h.GuestCheckout)
}

// RegisterRoutes registers authenticated invoice endpoints.
func (h *InvoiceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/invoices", h.List)
	r.Get("/invoices/{id}", h.Get)
	r.Get("/invoices/user/{userId}", h.ListByUser)
	r.Post("/invoices", h.Create)
}

// RegisterAdminRoutes registers invoice management endpoints. Expected to be
// mounted inside an admin-only subrouter.
func (h *InvoiceHandler) RegisterAdminRoutes(r chi.Router) {
	r.Put("/invoices/{id}", h.Update)
	r.Patch("/invoices/{id}/status", h.UpdateStatus)
	r.Delete("/invoices/{id}", h.Delete)
}

// --- Request / Response types ---

type invoiceItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
}

type billingRequest struct {
	Address string `json:"address"`
	City    string `json:"city"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

type createInvoiceRequest struct {
	UserID        int64                `json:"userId"`
	Items         []invoiceItemRequest `json:"items"`
	PaymentMethod string               `json:"paymentMethod"`
	Billing       billingRequest       `json:"billing"`
	Notes         string               `json:"notes"`
}

type guestCheckoutRequest struct {
	Email         string               `json:"email"`
	Name          string               `json:"name"`
	Items         []invoiceItemRequest `json:"items"`
	PaymentMethod string               `json:"paymentMethod"`
	Billing       billingRequest       `json:"billing"`
}

type updateInvoiceRequest struct {
	PaymentStatus    string         `json:"paymentStatus"`
	PaymentMethod    string         `json:"paymentMethod"`
	PaymentReference string         `json:"paymentReference"`
	Billing          billingRequest `json:"billing"`
	Notes            string         `json:"notes"`
}

type invoiceResponse struct {
	ID               int64               `json:"id"`
	OrderID          *string             `json:"orderId"`
	UserID           int64               `json:"userId"`
	InvoiceNumber    string              `json:"invoiceNumber"`
	TotalAmount      string              `json:"totalAmount"`
	Items            []database.LineItem `json:"items"`
	Status           string              `json:"status"`
	PaymentStatus    string              `json:"paymentStatus"`
	PaymentMethod    *string             `json:"paymentMethod"`
	PaymentReference *string             `json:"paymentReference"`
	PaidAt           *time.Time          `json:"paidAt"`
	BillingAddress   *string             `json:"billingAddress"`
	BillingCity      *string             `json:"billingCity"`
	BillingZipCode   *string             `json:"billingZipCode"`
	BillingCountry   *string             `json:"billingCountry"`
	Notes            *string             `json:"notes"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// toInvoiceResponse derives the display status the storefront shows: an
// invoice whose payment went through reads "paid", a refunded one reads
// "refunded", otherwise the stored workflow status is reported as-is.
func toInvoiceResponse(inv database.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:            inv.ID,
		UserID:        inv.UserID,
		InvoiceNumber: inv.InvoiceNumber,
		TotalAmount:   numericToString(inv.TotalAmount),
		Items:         inv.Items,
		Status:        derivedInvoiceStatus(inv),
		PaymentStatus: inv.PaymentStatus,
		CreatedAt:     inv.CreatedAt,
		UpdatedAt:     inv.UpdatedAt,
	}
	if inv.OrderID.Valid {
		s := uuid.UUID(inv.OrderID.Bytes).String()
		resp.OrderID = &s
	}
	if inv.PaymentMethod.Valid {
		resp.PaymentMethod = &inv.PaymentMethod.String
	}
	if inv.PaymentReference.Valid {
		resp.PaymentReference = &inv.PaymentReference.String
	}
	if inv.PaidAt.Valid {
		resp.PaidAt = &inv.PaidAt.Time
	}
	if inv.BillingAddress.Valid {
		resp.BillingAddress = &inv.BillingAddress.String
	}
	if inv.BillingCity.Valid {
		resp.BillingCity = &inv.BillingCity.String
	}
	if inv.BillingZipCode.Valid {
		resp.BillingZipCode = &inv.BillingZipCode.String
	}
	if inv.BillingCountry.Valid {
		resp.BillingCountry = &inv.BillingCountry.String
	}
	if inv.Notes.Valid {
		resp.Notes = &inv.Notes.String
	}
	return resp
}

func derivedInvoiceStatus(inv database.Invoice) string {
	switch inv.PaymentStatus {
	case enum.PaymentStatusCompleted:
		return "paid"
	case enum.PaymentStatusRefunded:
		return "refunded"
	}
	return inv.Status
}

// --- Handlers ---

// List returns invoices. Admins see everything; shoppers see their own.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var (
		invoices []database.Invoice
		err      error
	)
	if claims.Role == enum.UserRoleAdmin {
		invoices, err = h.store.ListInvoices(r.Context())
	} else {
		invoices, err = h.store.ListInvoicesByUser(r.Context(), claims.UserID)
	}
	if err != nil {
		log.Printf("ERROR: list invoices: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]invoiceResponse, len(invoices))
	for i, inv := range invoices {
		resp[i] = toInvoiceResponse(inv)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single invoice. Shoppers can only see their own.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invoice ID"})
		return
	}

	invoice, err := h.store.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "invoice not found"})
			return
		}
		log.Printf("ERROR: get invoice: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if claims.Role != enum.UserRoleAdmin && invoice.UserID != claims.UserID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(invoice))
}

// ListByUser returns invoices for a given user. Admins can query anyone;
// shoppers only themselves.
func (h *InvoiceHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user ID"})
		return
	}

	if claims.Role != enum.UserRoleAdmin && userID != claims.UserID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}

	if _, err := h.store.GetUserByID(r.Context(), userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		log.Printf("ERROR: get user: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	invoices, err := h.store.ListInvoicesByUser(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR: list invoices for user %d: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]invoiceResponse, len(invoices))
	for i, inv := range invoices {
		resp[i] = toInvoiceResponse(inv)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Create issues an invoice. Shoppers invoice themselves; admins may target
// any user via userId.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req createInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.UserID == 0 {
		req.UserID = claims.UserID
	}
	if claims.Role != enum.UserRoleAdmin && req.UserID != claims.UserID {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}

	svcReq := service.CreateInvoiceRequest{
		UserID:        req.UserID,
		PaymentMethod: req.PaymentMethod,
		Billing: service.BillingDetails{
			Address: req.Billing.Address,
			City:    req.Billing.City,
			ZipCode: req.Billing.ZipCode,
			Country: req.Billing.Country,
		},
		Notes: req.Notes,
	}
	for _, item := range req.Items {
		svcReq.Items = append(svcReq.Items, service.CheckoutItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	invoice, err := h.svc.CreateInvoice(r.Context(), svcReq)
	if err != nil {
		h.writeInvoiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvoiceResponse(*invoice))
}

// GuestCheckout issues an invoice for a buyer without an account.
func (h *InvoiceHandler) GuestCheckout(w http.ResponseWriter, r *http.Request) {
	var req guestCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	svcReq := service.GuestCheckoutRequest{
		Email:         req.Email,
		Name:          req.Name,
		PaymentMethod: req.PaymentMethod,
		Billing: service.BillingDetails{
			Address: req.Billing.Address,
			City:    req.Billing.City,
			ZipCode: req.Billing.ZipCode,
			Country: req.Billing.Country,
		},
	}
	for _, item := range req.Items {
		svcReq.Items = append(svcReq.Items, service.CheckoutItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	invoice, err := h.svc.GuestCheckout(r.Context(), svcReq)
	if err != nil {
		h.writeInvoiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvoiceResponse(*invoice))
}

// Update replaces the editable fields of an invoice (payment details,
// billing block, notes). Status changes go through UpdateStatus.
func (h *InvoiceHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invoice ID"})
		return
	}

	var req updateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if req.PaymentMethod != "" && req.PaymentMethod != enum.PaymentMethodCard && req.PaymentMethod != enum.PaymentMethodCash {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid paymentMethod"})
		return
	}
	switch req.PaymentStatus {
	case "", enum.PaymentStatusPending, enum.PaymentStatusCompleted, enum.PaymentStatusFailed, enum.PaymentStatusRefunded:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid paymentStatus"})
		return
	}

	current, err := h.store.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "invoice not found"})
			return
		}
		log.Printf("ERROR: get invoice: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	params := database.UpdateInvoiceParams{
		ID:               id,
		Status:           current.Status,
		PaymentStatus:    current.PaymentStatus,
		PaymentMethod:    current.PaymentMethod,
		PaymentReference: current.PaymentReference,
		PaidAt:           current.PaidAt,
		BillingAddress:   current.BillingAddress,
		BillingCity:      current.BillingCity,
		BillingZipCode:   current.BillingZipCode,
		BillingCountry:   current.BillingCountry,
		Notes:            current.Notes,
	}
	if req.PaymentStatus != "" {
		params.PaymentStatus = req.PaymentStatus
		switch req.PaymentStatus {
		case enum.PaymentStatusCompleted:
			if !params.PaidAt.Valid {
				params.PaidAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
			}
		case enum.PaymentStatusPending:
			// Reopening the payment invalidates the capture timestamp.
			params.PaidAt = pgtype.Timestamptz{}
		}
	}
	if req.PaymentMethod != "" {
		params.PaymentMethod = pgtype.Text{String: req.PaymentMethod, Valid: true}
	}
	if req.PaymentReference != "" {
		params.PaymentReference = pgtype.Text{String: req.PaymentReference, Valid: true}
	}
	if req.Billing.Address != "" {
		params.BillingAddress = pgtype.Text{String: req.Billing.Address, Valid: true}
	}
	if req.Billing.City != "" {
		params.BillingCity = pgtype.Text{String: req.Billing.City, Valid: true}
	}
	if req.Billing.ZipCode != "" {
		params.BillingZipCode = pgtype.Text{String: req.Billing.ZipCode, Valid: true}
	}
	if req.Billing.Country != "" {
		params.BillingCountry = pgtype.Text{String: req.Billing.Country, Valid: true}
	}
	if req.Notes != "" {
		params.Notes = pgtype.Text{String: req.Notes, Valid: true}
	}

	updated, err := h.store.UpdateInvoice(r.Context(), params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "invoice not found"})
			return
		}
		log.Printf("ERROR: update invoice: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(updated))
}

type updateInvoiceStatusRequest struct {
	Status string `json:"status"`
}

// allowedInvoiceTransitions defines valid moves between the display
// statuses the storefront uses. Terminal states have no outgoing edges.
var allowedInvoiceTransitions = map[string][]string{
	"pending":   {"paid", "cancelled"},
	"completed": {"paid", "cancelled"},
	"paid":      {"refunded"},
}

func validateInvoiceTransition(current, next string) error {
	if current == next {
		return nil
	}
	for _, s := range allowedInvoiceTransitions[current] {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", current, next)
}

// UpdateStatus moves an invoice through its payment lifecycle. The accepted
// labels are the display statuses: paid, pending, cancelled, refunded.
func (h *InvoiceHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invoice ID"})
		return
	}

	var req updateInvoiceStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	switch req.Status {
	case "paid", "pending", "cancelled", "refunded":
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	current, err := h.store.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "invoice not found"})
			return
		}
		log.Printf("ERROR: get invoice: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := validateInvoiceTransition(derivedInvoiceStatus(current), req.Status); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	params := database.UpdateInvoiceParams{
		ID:               id,
		Status:           current.Status,
		PaymentStatus:    current.PaymentStatus,
		PaymentMethod:    current.PaymentMethod,
		PaymentReference: current.PaymentReference,
		PaidAt:           current.PaidAt,
		BillingAddress:   current.BillingAddress,
		BillingCity:      current.BillingCity,
		BillingZipCode:   current.BillingZipCode,
		BillingCountry:   current.BillingCountry,
		Notes:            current.Notes,
	}

	switch req.Status {
	case "paid":
		params.Status = enum.InvoiceStatusCompleted
		params.PaymentStatus = enum.PaymentStatusCompleted
		if !params.PaidAt.Valid {
			params.PaidAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
		}
	case "pending":
		params.Status = enum.InvoiceStatusPending
		params.PaymentStatus = enum.PaymentStatusPending
		params.PaidAt = pgtype.Timestamptz{}
	case "cancelled":
		params.Status = enum.InvoiceStatusCancelled
	case "refunded":
		params.Status = enum.InvoiceStatusCancelled
		params.PaymentStatus = enum.PaymentStatusRefunded
	}

	updated, err := h.store.UpdateInvoice(r.Context(), params)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "invoice not found"})
			return
		}
		log.Printf("ERROR: update invoice status: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := toInvoiceResponse(updated)
	h.hub.BroadcastJSON("invoice.status_changed", resp)
	writeJSON(w, http.StatusOK, resp)
}

// Delete removes an unpaid invoice and restores the stock it reserved.
func (h *InvoiceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invoice ID"})
		return
	}

	if err := h.svc.DeleteInvoice(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, service.ErrInvoiceNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "invoice not found"})
		case errors.Is(err, service.ErrInvoicePaid):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot delete a paid invoice, refund it first"})
		default:
			log.Printf("ERROR: delete invoice: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "invoice deleted"})
}

// writeInvoiceError maps service errors to HTTP status codes.
func (h *InvoiceHandler) writeInvoiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyItems),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrGuestEmailRequired),
		errors.Is(err, service.ErrGuestNameRequired),
		errors.Is(err, service.ErrInsufficientStock):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrProductNotFound),
		errors.Is(err, service.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: invoice operation: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
