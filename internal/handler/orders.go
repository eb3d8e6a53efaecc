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
	"github.com/shopspring/decimal"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/enum"
	"github.com/freshmart/api/internal/middleware"
	"github.com/freshmart/api/internal/service"
)

// OrderServicer defines the service methods needed by order handlers.
// Satisfied by *service.CheckoutService; narrow interface for testability.
type OrderServicer interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*service.CreateOrderResult, error)
}

// OrderStore defines the database methods needed by order read/update handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type OrderStore interface {
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]database.Order, error)
	UpdateOrderStatus(ctx context.Context, arg database.UpdateOrderStatusParams) (database.Order, error)
}

// Broadcaster pushes live events to connected admin dashboards.
// Satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastJSON(eventType string, payload any)
}

// OrderHandler handles order endpoints.
type OrderHandler struct {
	svc   OrderServicer
	store OrderStore
	hub   Broadcaster
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(svc OrderServicer, store OrderStore, hub Broadcaster) *OrderHandler {
	return &OrderHandler{svc: svc, store: store, hub: hub}
}

// RegisterCheckoutRoutes registers the checkout endpoint. Mounted behind
// optional authentication so guests can order too.
func (h *OrderHandler) RegisterCheckoutRoutes(r chi.Router) {
	r.Post("/orders", h.Create)
}

// RegisterRoutes registers authenticated order endpoints.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/orders/user/{userId}", h.ListByUser)
	r.Get("/orders/{id}", h.Get)
}

// RegisterAdminRoutes registers order management endpoints. Expected to be
// mounted inside an admin-only subrouter.
func (h *OrderHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Patch("/orders/{id}/status", h.UpdateStatus)
}

// --- Request / Response types ---

type createOrderRequest struct {
	Items                []createOrderItemRequest `json:"items"`
	DeliveryMethod       string                   `json:"deliveryMethod"`
	DeliveryAddress      string                   `json:"deliveryAddress"`
	DeliveryInstructions string                   `json:"deliveryInstructions"`
	PaymentMethod        string                   `json:"paymentMethod"`
	GuestInfo            *database.GuestInfo      `json:"guestInfo"`
}

type createOrderItemRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  int32 `json:"quantity"`
}

type orderResponse struct {
	ID                   uuid.UUID           `json:"id"`
	OrderNumber          string              `json:"orderNumber"`
	UserID               *int64              `json:"userId"`
	GuestInfo            *database.GuestInfo `json:"guestInfo,omitempty"`
	Items                []database.LineItem `json:"items"`
	Subtotal             string              `json:"subtotal"`
	DeliveryFee          string              `json:"deliveryFee"`
	Total                string              `json:"total"`
	Status               string              `json:"status"`
	DeliveryMethod       string              `json:"deliveryMethod"`
	DeliveryAddress      string              `json:"deliveryAddress"`
	DeliveryInstructions *string             `json:"deliveryInstructions"`
	PaymentMethod        string              `json:"paymentMethod"`
	PaymentStatus        string              `json:"paymentStatus"`
	EstimatedDelivery    *time.Time          `json:"estimatedDelivery"`
	ActualDelivery       *time.Time          `json:"actualDelivery"`
	CreatedAt            time.Time           `json:"createdAt"`
	UpdatedAt            time.Time           `json:"updatedAt"`
}

type createOrderResponse struct {
	Order   orderResponse   `json:"order"`
	Invoice invoiceResponse `json:"invoice"`
}

func toOrderResponse(o database.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		GuestInfo:       o.GuestInfo,
		Items:           o.Items,
		Subtotal:        numericToString(o.Subtotal),
		DeliveryFee:     numericToString(o.DeliveryFee),
		Total:           numericToString(o.Total),
		Status:          o.Status,
		DeliveryMethod:  o.DeliveryMethod,
		DeliveryAddress: o.DeliveryAddress,
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   o.PaymentStatus,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.UserID.Valid {
		resp.UserID = &o.UserID.Int64
	}
	if o.DeliveryInstructions.Valid {
		resp.DeliveryInstructions = &o.DeliveryInstructions.String
	}
	if o.EstimatedDelivery.Valid {
		resp.EstimatedDelivery = &o.EstimatedDelivery.Time
	}
	if o.ActualDelivery.Valid {
		resp.ActualDelivery = &o.ActualDelivery.Time
	}
	return resp
}

// --- Handlers ---

// Create places an order from the client-side cart. Signed-in shoppers are
// identified by their token; anonymous shoppers must supply guestInfo with
// an email so the order can be attached to a guest account.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	svcReq := service.CreateOrderRequest{
		DeliveryMethod:       req.DeliveryMethod,
		DeliveryAddress:      req.DeliveryAddress,
		DeliveryInstructions: req.DeliveryInstructions,
		PaymentMethod:        req.PaymentMethod,
		Guest:                req.GuestInfo,
	}
	for _, item := range req.Items {
		svcReq.Items = append(svcReq.Items, service.CheckoutItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		userID := claims.UserID
		svcReq.UserID = &userID
		svcReq.Guest = nil
	}

	result, err := h.svc.CreateOrder(r.Context(), svcReq)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	resp := createOrderResponse{
		Order:   toOrderResponse(result.Order),
		Invoice: toInvoiceResponse(result.Invoice),
	}
	h.hub.BroadcastJSON("order.created", resp.Order)
	writeJSON(w, http.StatusCreated, resp)
}

// writeCheckoutError maps service errors to HTTP status codes.
func (h *OrderHandler) writeCheckoutError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyItems),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrMissingAddress),
		errors.Is(err, service.ErrInvalidDeliveryMethod),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrGuestEmailRequired),
		errors.Is(err, service.ErrInsufficientStock):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrProductNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, service.ErrUserNotFound):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: create order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// List returns a page of all orders, newest first.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
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

	orders, err := h.store.ListOrders(r.Context(), database.ListOrdersParams{
		Limit:  int32(limit),
		Offset: int32(offset),
	})
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListByUser returns a user's orders. Admins can query anyone; shoppers
// only themselves.
func (h *OrderHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
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

	orders, err := h.store.ListOrdersByUser(r.Context(), userID)
	if err != nil {
		log.Printf("ERROR: list orders for user %d: %v", userID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single order. Shoppers can only see their own orders;
// admins can see any.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if claims.Role != enum.UserRoleAdmin && (!order.UserID.Valid || order.UserID.Int64 != claims.UserID) {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "access denied"})
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus moves an order through its delivery lifecycle. The write is
// compare-and-set on the previously read status, so concurrent updates get
// a 409 instead of silently clobbering each other.
func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateOrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if !isValidOrderStatus(req.Status) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	current, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	if err := validateOrderTransition(current.Status, req.Status); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	// Delivered orders get their actual delivery time stamped.
	actualDelivery := pgtype.Timestamptz{}
	if req.Status == enum.OrderStatusDelivered {
		actualDelivery = pgtype.Timestamptz{Time: time.Now(), Valid: true}
	}

	updated, err := h.store.UpdateOrderStatus(r.Context(), database.UpdateOrderStatusParams{
		ID:             orderID,
		Status:         req.Status,
		PrevStatus:     current.Status,
		ActualDelivery: actualDelivery,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// If no rows were updated, the status changed between our read and write (race condition)
			writeJSON(w, http.StatusConflict, map[string]string{"error": "order status changed, please retry"})
			return
		}
		log.Printf("ERROR: update order status: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := toOrderResponse(updated)
	h.hub.BroadcastJSON("order.status_changed", resp)
	writeJSON(w, http.StatusOK, resp)
}

// --- Status transitions ---

// allowedOrderTransitions defines valid status transitions.
// Key is current status, value is the set of statuses it can transition to.
var allowedOrderTransitions = map[string][]string{
	enum.OrderStatusPending:   {enum.OrderStatusConfirmed, enum.OrderStatusCancelled},
	enum.OrderStatusConfirmed: {enum.OrderStatusPreparing, enum.OrderStatusCancelled},
	enum.OrderStatusPreparing: {enum.OrderStatusReady, enum.OrderStatusCancelled},
	enum.OrderStatusReady:     {enum.OrderStatusDelivered, enum.OrderStatusCancelled},
}

// validateOrderTransition checks if the transition from current to next is allowed.
func validateOrderTransition(current, next string) error {
	allowed, ok := allowedOrderTransitions[current]
	if !ok {
		return fmt.Errorf("cannot transition from %s", current)
	}
	for _, s := range allowed {
		if s == next {
			return nil
		}
	}
	return fmt.Errorf("cannot transition from %s to %s", current, next)
}

func isValidOrderStatus(s string) bool {
	switch s {
	case enum.OrderStatusPending, enum.OrderStatusConfirmed, enum.OrderStatusPreparing,
		enum.OrderStatusReady, enum.OrderStatusDelivered, enum.OrderStatusCancelled:
		return true
	}
	return false
}

func numericToString(n pgtype.Numeric) string {
	if !n.Valid {
		return "0.00"
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return "0.00"
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return "0.00"
	}
	return d.StringFixed(2)
}
