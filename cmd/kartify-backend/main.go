package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rohanverma-dev/kartify-backend/internal/api/handlers"
	"github.com/rohanverma-dev/kartify-backend/internal/api/middleware"
	"github.com/rohanverma-dev/kartify-backend/internal/cache"
	"github.com/rohanverma-dev/kartify-backend/internal/config"
	"github.com/rohanverma-dev/kartify-backend/internal/health"
	"github.com/rohanverma-dev/kartify-backend/internal/metrics"
	repository "github.com/rohanverma-dev/kartify-backend/internal/repositories"
	service "github.com/rohanverma-dev/kartify-backend/internal/services"
	"github.com/rohanverma-dev/kartify-backend/internal/telemetry"
	"github.com/rohanverma-dev/kartify-backend/internal/utils"
	"github.com/rohanverma-dev/kartify-backend/pkg/sendgrid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {

	// Logger setup
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load config
	cfg := config.MustLoad()

	// Tracing setup
	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.Telemetry.OTLPEndpoint, cfg.Env)
	if err != nil {
		slog.Error("❌ Error setting up tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Database setup
	repos, err := repository.New(cfg)
	if err != nil {
		slog.Error("❌ Error accessing the database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		if err := repos.Close(); err != nil {
			slog.Error("⚠️ Error closing database connection", slog.String("error", err.Error()))
		} else {
			slog.Info("✅ Database connection closed")
		}
	}()

	// Redis setup
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConnect.Host,
		Username: cfg.RedisConnect.Username,
		Password: cfg.RedisConnect.Password,
		DB:       cfg.RedisConnect.DB,
	})

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		slog.Error("❌ Error accessing the redis instance", slog.String("error", err.Error()))
		os.Exit(1)
	}

	productCache := cache.NewRedisCache(redisClient, &cfg.Cache)
	defer productCache.Close()

	healthHandler, err := health.NewHealthHandler(cfg)
	if err != nil {
		slog.Error("❌ Error setting up health checks", slog.String("error", err.Error()))
		os.Exit(1)
	}

	jwtKey := []byte(cfg.Security.JWTKey)
	emailClient := sendgrid.NewEmailClient(cfg.SendGrid.APIKey, cfg.SendGrid.FromEmail, cfg.SendGrid.FromName)

	// Cart mutation and order placement serialize on the same per-user lock.
	userLocks := utils.NewKeyedMutex()

	notifier := service.NewNotificationService(repos.Notification, repos.User, emailClient, logger)
	productService := service.NewProductService(repos.Product, productCache, cfg.Cache.DefaultTTL, logger)
	productHandler := handlers.NewProductHandler(productService)
	cartService := service.NewCartService(repos.Cart, repos.Product, repos.Coupon, userLocks)
	cartHandler := handlers.NewCartHandler(cartService)
	couponService := service.NewCouponService(repos.Coupon)
	couponHandler := handlers.NewCouponHandler(couponService)
	orderService := service.NewOrderService(repos.Order, repos.Cart, repos.Product, repos.Coupon,
		notifier, cfg.Pricing, userLocks)
	orderHandler := handlers.NewOrderHandler(orderService)
	reviewService := service.NewReviewService(repos.Review, repos.Order, repos.Product, productCache, logger)
	reviewHandler := handlers.NewReviewHandler(reviewService)
	wishlistService := service.NewWishlistService(repos.User, repos.Product)
	wishlistHandler := handlers.NewWishlistHandler(wishlistService)
	authMiddleware := middleware.NewAuthMiddleware(jwtKey)

	slog.Info("storage initialized", slog.String("env", cfg.Env), slog.String("version", "1.0.0"))

	// Setup router
	routerMux := http.NewServeMux()

	routerMux.HandleFunc("GET /api/v1/products", productHandler.ListProducts())
	routerMux.HandleFunc("GET /api/v1/products/recommendations", productHandler.Recommendations())
	routerMux.HandleFunc("GET /api/v1/products/{id}", productHandler.GetProduct())
	routerMux.HandleFunc("POST /api/v1/products", authMiddleware.Authenticate(authMiddleware.RequireAdmin(productHandler.CreateProduct())))
	routerMux.HandleFunc("PUT /api/v1/products/{id}", authMiddleware.Authenticate(authMiddleware.RequireAdmin(productHandler.UpdateProduct())))

	routerMux.HandleFunc("GET /api/v1/products/{id}/reviews", reviewHandler.ListReviews())
	routerMux.HandleFunc("POST /api/v1/products/{id}/reviews", authMiddleware.Authenticate(reviewHandler.AddReview()))

	routerMux.HandleFunc("GET /api/v1/cart", authMiddleware.Authenticate(cartHandler.GetCart()))
	routerMux.HandleFunc("POST /api/v1/cart/items", authMiddleware.Authenticate(cartHandler.AddItem()))
	routerMux.HandleFunc("PUT /api/v1/cart/items/{productId}", authMiddleware.Authenticate(cartHandler.UpdateQuantity()))
	routerMux.HandleFunc("DELETE /api/v1/cart/items/{productId}", authMiddleware.Authenticate(cartHandler.RemoveItem()))
	routerMux.HandleFunc("DELETE /api/v1/cart", authMiddleware.Authenticate(cartHandler.ClearCart()))
	routerMux.HandleFunc("POST /api/v1/cart/coupon", authMiddleware.Authenticate(cartHandler.ApplyCoupon()))
	routerMux.HandleFunc("DELETE /api/v1/cart/coupon", authMiddleware.Authenticate(cartHandler.RemoveCoupon()))

	routerMux.HandleFunc("POST /api/v1/orders", authMiddleware.Authenticate(orderHandler.PlaceOrder()))
	routerMux.HandleFunc("GET /api/v1/orders", authMiddleware.Authenticate(orderHandler.ListMyOrders()))
	routerMux.HandleFunc("GET /api/v1/orders/{id}", authMiddleware.Authenticate(orderHandler.GetOrder()))
	routerMux.HandleFunc("POST /api/v1/orders/{id}/pay", authMiddleware.Authenticate(orderHandler.PayOrder()))
	routerMux.HandleFunc("POST /api/v1/orders/{id}/cancel", authMiddleware.Authenticate(orderHandler.CancelOrder()))

	routerMux.HandleFunc("GET /api/v1/admin/orders", authMiddleware.Authenticate(authMiddleware.RequireAdmin(orderHandler.ListAllOrders())))
	routerMux.HandleFunc("PATCH /api/v1/admin/orders/{id}/status", authMiddleware.Authenticate(authMiddleware.RequireAdmin(orderHandler.UpdateStatus())))
	routerMux.HandleFunc("POST /api/v1/admin/orders/{id}/pay", authMiddleware.Authenticate(authMiddleware.RequireAdmin(orderHandler.MarkPaid())))
	routerMux.HandleFunc("POST /api/v1/admin/orders/{id}/cancel", authMiddleware.Authenticate(authMiddleware.RequireAdmin(orderHandler.AdminCancel())))
	routerMux.HandleFunc("POST /api/v1/admin/coupons", authMiddleware.Authenticate(authMiddleware.RequireAdmin(couponHandler.CreateCoupon())))
	routerMux.HandleFunc("GET /api/v1/admin/coupons", authMiddleware.Authenticate(authMiddleware.RequireAdmin(couponHandler.ListCoupons())))

	routerMux.HandleFunc("GET /api/v1/wishlist", authMiddleware.Authenticate(wishlistHandler.GetWishlist()))
	routerMux.HandleFunc("POST /api/v1/wishlist", authMiddleware.Authenticate(wishlistHandler.AddToWishlist()))
	routerMux.HandleFunc("DELETE /api/v1/wishlist/{productId}", authMiddleware.Authenticate(wishlistHandler.RemoveFromWishlist()))

	routerMux.Handle("GET /metrics", metrics.Handler())
	routerMux.Handle("GET /health", healthHandler.Handler())

	// Middleware chaining
	var handler http.Handler = routerMux
	handler = metrics.Middleware(handler)
	handler = middleware.Logging(handler)
	handler = otelhttp.NewHandler(handler, "kartify-backend")

	// Setup http server
	server := http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	slog.Info("🚀 Server is starting...", slog.String("address", cfg.Addr))

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("❌ Failed to start server", slog.Any("error", err.Error()))
		}
	}()

	<-done

	slog.Warn("🛑 Shutdown signal received. Preparing to stop the server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("⚠️ Server shutdown encountered an issue", slog.String("error", err.Error()))
	} else {
		slog.Info("✅ Server shut down gracefully. All connections closed.")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("⚠️ Tracing shutdown encountered an issue", slog.String("error", err.Error()))
	}
}
