package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/enum"
	"github.com/freshmart/api/internal/middleware"
)

// UserStore defines the database methods needed by user handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (database.User, error)
	ListUsers(ctx context.Context) ([]database.User, error)
	UpdateUser(ctx context.Context, arg database.UpdateUserParams) (database.User, error)
	DeleteUser(ctx context.Context, id int64) (int64, error)
}

// UserHandler handles user account endpoints.
type UserHandler struct {
	store UserStore
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(store UserStore) *UserHandler {
	return &UserHandler{store: store}
}

// RegisterRoutes registers authenticated user endpoints.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/users/profile", h.Profile)
	r.Put("/users/profile", h.UpdateProfile)
	r.Delete("/users/profile", h.DeleteProfile)
}

// RegisterAdminRoutes registers user management endpoints.
func (h *UserHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/users", h.List)
	r.Get("/users/{id}", h.Get)
	r.Put("/users/{id}", h.Update)
	r.Delete("/users/{id}", h.Delete)
}

type userDetailResponse struct {
	ID          int64      `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role"`
	IsGuest     bool       `json:"isGuest"`
	OrdersCount int32      `json:"ordersCount"`
	LastOrderAt *time.Time `json:"lastOrderAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func toUserDetailResponse(u database.User) userDetailResponse {
	resp := userDetailResponse{
		ID:          u.ID,
		Email:       u.Email,
		Role:        u.Role,
		IsGuest:     u.IsGuest,
		OrdersCount: u.OrdersCount,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
	if u.LastOrderAt.Valid {
		resp.LastOrderAt = &u.LastOrderAt.Time
	}
	return resp
}

// Profile returns the authenticated user's own account.
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	user, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		log.Printf("ERROR: get profile: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toUserDetailResponse(user))
}

// List returns all user accounts.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		log.Printf("ERROR: list users: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]userDetailResponse, len(users))
	for i, u := range users {
		resp[i] = toUserDetailResponse(u)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single user account.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user ID"})
		return
	}

	user, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		log.Printf("ERROR: get user: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toUserDetailResponse(user))
}

type updateUserRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// applyUserUpdate folds non-empty request fields onto the current record.
// Returns a client-facing message when a field fails validation.
func applyUserUpdate(current database.User, req updateUserRequest) (database.UpdateUserParams, string) {
	params := database.UpdateUserParams{
		ID:           current.ID,
		Email:        current.Email,
		PasswordHash: current.PasswordHash,
		Role:         current.Role,
		IsGuest:      current.IsGuest,
	}

	if req.Email != "" {
		email := strings.ToLower(strings.TrimSpace(req.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return params, "invalid email"
		}
		params.Email = email
	}
	if req.Password != "" {
		if len(req.Password) < 6 {
			return params, "password must be at least 6 characters"
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			return params, "internal server error"
		}
		params.PasswordHash = textOrNull(string(hash))
	}
	return params, ""
}

func isUserEmailConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "users_email_key"
}

// Update edits a user account. Empty fields keep their current value.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user ID"})
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	current, err := h.store.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		log.Printf("ERROR: get user: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	params, msg := applyUserUpdate(current, req)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	if req.Role != "" {
		if req.Role != enum.UserRoleAdmin && req.Role != enum.UserRoleCustomer {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid role"})
			return
		}
		params.Role = req.Role
	}

	updated, err := h.store.UpdateUser(r.Context(), params)
	if err != nil {
		if isUserEmailConflict(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
			return
		}
		log.Printf("ERROR: update user: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toUserDetailResponse(updated))
}

// UpdateProfile edits the authenticated user's own account. Role changes
// are not allowed here.
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	current, err := h.store.GetUserByID(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		log.Printf("ERROR: get profile: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	params, msg := applyUserUpdate(current, req)
	if msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}

	updated, err := h.store.UpdateUser(r.Context(), params)
	if err != nil {
		if isUserEmailConflict(err) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
			return
		}
		log.Printf("ERROR: update profile: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, toUserDetailResponse(updated))
}

// DeleteProfile removes the authenticated user's own account.
func (h *UserHandler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	if _, err := h.store.DeleteUser(r.Context(), claims.UserID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		log.Printf("ERROR: delete profile: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "account deleted"})
}

// Delete removes a user account.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid user ID"})
		return
	}

	claims := middleware.ClaimsFromContext(r.Context())
	if claims != nil && claims.UserID == id {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cannot delete your own account"})
		return
	}

	if _, err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
			return
		}
		log.Printf("ERROR: delete user: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}
