package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/enum"
)

// PaymentStore defines the database methods needed by the payment webhook.
// Satisfied by *database.Queries; narrow interface for testability.
type PaymentStore interface {
	GetInvoiceByPaymentReference(ctx context.Context, ref string) (database.Invoice, error)
	UpdateInvoice(ctx context.Context, arg database.UpdateInvoiceParams) (database.Invoice, error)
}

// PaymentHandler receives payment provider callbacks.
type PaymentHandler struct {
	store PaymentStore
	hub   Broadcaster
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(store PaymentStore, hub Broadcaster) *PaymentHandler {
	return &PaymentHandler{store: store, hub: hub}
}

// RegisterRoutes registers the webhook endpoint. Public: the provider does
// not authenticate with our JWTs.
func (h *PaymentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/payments/paypal/webhook", h.PayPalWebhook)
}

type paypalWebhookEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID string `json:"id"`
	} `json:"resource"`
}

// capturedPaymentStatus maps PayPal capture events onto our payment states.
var capturedPaymentStatus = map[string]string{
	"PAYMENT.CAPTURE.COMPLETED": enum.PaymentStatusCompleted,
	"PAYMENT.CAPTURE.DENIED":    enum.PaymentStatusFailed,
	"PAYMENT.CAPTURE.REFUNDED":  enum.PaymentStatusRefunded,
	"PAYMENT.CAPTURE.PENDING":   enum.PaymentStatusPending,
}

// PayPalWebhook applies capture events to the invoice referenced by the
// capture id. Always answers 200 so the provider stops retrying; failures
// are logged and reconciled by hand.
func (h *PaymentHandler) PayPalWebhook(w http.ResponseWriter, r *http.Request) {
	var event paypalWebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		log.Printf("WARN: paypal webhook: undecodable payload: %v", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	log.Printf("paypal webhook: event=%s capture=%s", event.EventType, event.Resource.ID)

	status, ok := capturedPaymentStatus[event.EventType]
	if !ok || event.Resource.ID == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	invoice, err := h.store.GetInvoiceByPaymentReference(r.Context(), event.Resource.ID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.Printf("ERROR: paypal webhook: lookup %s: %v", event.Resource.ID, err)
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	params := database.UpdateInvoiceParams{
		ID:               invoice.ID,
		Status:           invoice.Status,
		PaymentStatus:    status,
		PaymentMethod:    invoice.PaymentMethod,
		PaymentReference: invoice.PaymentReference,
		PaidAt:           invoice.PaidAt,
		BillingAddress:   invoice.BillingAddress,
		BillingCity:      invoice.BillingCity,
		BillingZipCode:   invoice.BillingZipCode,
		BillingCountry:   invoice.BillingCountry,
		Notes:            invoice.Notes,
	}
	switch status {
	case enum.PaymentStatusCompleted:
		params.Status = enum.InvoiceStatusCompleted
		if !params.PaidAt.Valid {
			params.PaidAt = pgtype.Timestamptz{Time: time.Now(), Valid: true}
		}
	case enum.PaymentStatusRefunded:
		params.Status = enum.InvoiceStatusCancelled
	}

	updated, err := h.store.UpdateInvoice(r.Context(), params)
	if err != nil {
		log.Printf("ERROR: paypal webhook: update invoice %d: %v", invoice.ID, err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "error"})
		return
	}

	h.hub.BroadcastJSON("invoice.status_changed", toInvoiceResponse(updated))
	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}
