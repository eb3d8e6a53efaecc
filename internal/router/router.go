package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freshmart/api/internal/config"
	"github.com/freshmart/api/internal/database"
	"github.com/freshmart/api/internal/enum"
	"github.com/freshmart/api/internal/handler"
	mw "github.com/freshmart/api/internal/middleware"
	"github.com/freshmart/api/internal/service"
	"github.com/freshmart/api/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Public storefront reads stay open; checkout carries optional auth so
// guests can buy; management endpoints sit behind the admin role.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173", // storefront dev server
			"http://localhost:3000", // admin dev server
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Services share one transactional store factory over the pool.
	checkoutService := service.NewCheckoutService(pool, func(db database.DBTX) service.CheckoutStore {
		return database.New(db)
	})
	invoiceService := service.NewInvoiceService(pool, func(db database.DBTX) service.InvoiceStore {
		return database.New(db)
	})
	offClient := service.NewOFFClient(cfg.OpenFoodFactsURL)

	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	productHandler := handler.NewProductHandler(queries, offClient)
	orderHandler := handler.NewOrderHandler(checkoutService, queries, hub)
	invoiceHandler := handler.NewInvoiceHandler(invoiceService, queries, hub)
	userHandler := handler.NewUserHandler(queries)
	adminHandler := handler.NewAdminHandler(queries)
	reportHandler := handler.NewReportHandler(queries)
	paymentHandler := handler.NewPaymentHandler(queries, hub)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	authHandler.RegisterRoutes(r)
	productHandler.RegisterRoutes(r)
	invoiceHandler.RegisterPublicRoutes(r)
	paymentHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Checkout: token optional, guests supply guestInfo instead.
	r.Group(func(r chi.Router) {
		r.Use(mw.OptionalAuthenticate(cfg.JWTSecret))
		orderHandler.RegisterCheckoutRoutes(r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		orderHandler.RegisterRoutes(r)
		invoiceHandler.RegisterRoutes(r)
		userHandler.RegisterRoutes(r)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(mw.RequireRole(enum.UserRoleAdmin))

			productHandler.RegisterAdminRoutes(r)
			orderHandler.RegisterAdminRoutes(r)
			invoiceHandler.RegisterAdminRoutes(r)
			userHandler.RegisterAdminRoutes(r)
			adminHandler.RegisterRoutes(r)
			reportHandler.RegisterRoutes(r)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
