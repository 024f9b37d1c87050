package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/edunest/backend/docs"
	"github.com/edunest/backend/internal/database"
	"github.com/edunest/backend/internal/gateway"
	"github.com/edunest/backend/internal/handlers"
	mW "github.com/edunest/backend/internal/middleware"
	"github.com/edunest/backend/internal/models"
	"github.com/edunest/backend/internal/services"
)

// @title EduNest Payments API
// @version 1.0
// @description Balance and entitlement reconciliation service for the EduNest marketplace
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.BindEnv("gateway.base_url", "GATEWAY_BASE_URL")
	viper.BindEnv("gateway.key_id", "GATEWAY_KEY_ID")
	viper.BindEnv("gateway.key_secret", "GATEWAY_KEY_SECRET")
	viper.BindEnv("gateway.timeout_seconds", "GATEWAY_TIMEOUT_SECONDS")

	viper.BindEnv("pricing.rate_points_per_rupee", "PRICING_RATE_POINTS_PER_RUPEE")
	viper.BindEnv("pricing.points_per_unit", "PRICING_POINTS_PER_UNIT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "EduNest Payments API"
	docs.SwaggerInfo.Description = "Balance and entitlement reconciliation service for the EduNest marketplace"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	razorpay := gateway.NewRazorpayClient()

	ledgerService := services.NewLedgerService(db)
	conversionPolicy := services.NewConversionPolicy()
	bankService := services.NewBankService()
	settlementService := services.NewSettlementService(redisClient)
	authService := services.NewAuthService(db, redisClient, bankService)
	catalogService := services.NewCatalogService(db)
	entitlementService := services.NewEntitlementService(db, ledgerService, conversionPolicy)
	walletService := services.NewWalletService(db, redisClient, razorpay, ledgerService, conversionPolicy)
	payoutService := services.NewPayoutService(db, razorpay, ledgerService, settlementService, bankService)
	payoutHandler := handlers.NewPayoutHandler(payoutService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)
		r.Get("/banks", bankService.GetAllBanks)
		r.Get("/courses", catalogService.ListCourses)
		r.Get("/module/{moduleId}", catalogService.GetModule)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/account", authService.GetUserAccount)
			r.Put("/auth/bank-details", authService.UpdateBankDetails)

			// Student wallet endpoints
			r.Get("/student/points-balance", walletService.PointsBalance)
			r.Post("/student/add-balance", walletService.AddBalance)
			r.Post("/student/verify-topup", walletService.VerifyTopUp)
			r.Post("/student/convert-points", walletService.ConvertPoints)
			r.Get("/student/payment-history", walletService.PaymentHistory)

			// Module entitlement endpoints
			r.Post("/student/unlock-module", entitlementService.UnlockModule)
			r.Get("/student/entitlements", entitlementService.ListEntitlements)

			// Admin salary payout endpoints
			r.Group(func(r chi.Router) {
				r.Use(mW.RequireRole(models.RoleAdmin))

				r.Get("/admin/total-pending-salary", payoutHandler.TotalPendingSalary)
				r.Post("/admin/pay-salary", payoutHandler.PaySalary)
				r.Post("/admin/verify-payment", payoutHandler.VerifyPayment)
				r.Post("/admin/payout/{batchId}/abandon", payoutHandler.AbandonBatch)
				r.Post("/admin/payout/{batchId}/reconcile", payoutHandler.ReconcileBatch)
				r.Get("/admin/payment-history", payoutHandler.PaymentHistory)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
