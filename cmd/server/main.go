package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/iouledger/internal/auth"
	"github.com/mmynk/iouledger/internal/config"
	"github.com/mmynk/iouledger/internal/events"
	"github.com/mmynk/iouledger/internal/events/kafka"
	"github.com/mmynk/iouledger/internal/ledger"
	"github.com/mmynk/iouledger/internal/lock"
	"github.com/mmynk/iouledger/internal/metrics"
	"github.com/mmynk/iouledger/internal/middleware"
	"github.com/mmynk/iouledger/internal/provider"
	"github.com/mmynk/iouledger/internal/service"
	"github.com/mmynk/iouledger/internal/storage"
	"github.com/mmynk/iouledger/internal/storage/postgres"
	"github.com/mmynk/iouledger/internal/storage/sqlite"
	"github.com/mmynk/iouledger/internal/worker"
	"github.com/mmynk/iouledger/pkg/api/apiconnect"
	"github.com/mmynk/iouledger/pkg/logging"
)

// paymentProvider is what the server needs from a configured provider.
type paymentProvider interface {
	provider.PaymentProvider
	provider.IdentityVerifier
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, logger); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Storage initialized", "driver", cfg.DBDriver)

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.RedisAddress != "" {
		redisLocker, rdb, err := lock.Dial(ctx, cfg.RedisAddress)
		if err != nil {
			return err
		}
		defer rdb.Close()
		locker = redisLocker
		logger.Info("Using redis locks", "address", cfg.RedisAddress)
	}

	var publisher events.Publisher = events.Log{Logger: logger}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("Publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	defer publisher.Close()

	payments, err := newProvider(cfg)
	if err != nil {
		return err
	}
	logger.Info("Payment provider configured", "provider", cfg.PaymentProvider, "available", payments.Available())

	m := metrics.New()
	l := ledger.New(store,
		ledger.WithLocker(locker),
		ledger.WithProvider(payments),
		ledger.WithPublisher(publisher),
		ledger.WithMetrics(m),
		ledger.WithLogger(logger),
		ledger.WithAttemptTTL(cfg.AttemptTTL),
	)

	reaper := worker.NewReaper(l, cfg.ReaperInterval, logger)
	reaper.Start(ctx)
	defer reaper.Shutdown()

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTTTL)
	authenticator := auth.NewProviderAuthenticator(payments, l)

	interceptors := connect.WithInterceptors(
		middleware.LoggingInterceptor(logger, m),
		middleware.RequireAuth(jwtManager, apiconnect.AuthServiceSignInProcedure),
	)

	mux := http.NewServeMux()

	// Register Connect services
	iouPath, iouHandler := apiconnect.NewIOUServiceHandler(service.NewIOUService(l, logger), interceptors)
	mux.Handle(iouPath, iouHandler)

	callbackPath, callbackHandler := apiconnect.NewPaymentCallbackServiceHandler(service.NewPaymentCallbackService(l, logger), interceptors)
	mux.Handle(callbackPath, callbackHandler)

	authPath, authHandler := apiconnect.NewAuthServiceHandler(service.NewAuthService(authenticator, jwtManager, store, logger), interceptors)
	mux.Handle(authPath, authHandler)

	mux.Handle("GET /metrics", m.Handler())
	mux.Handle("GET /healthz", service.NewHealthHandler(store))

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h2c.NewHandler(loggingMiddleware(logger, corsMiddleware(mux)), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Connect server starting", "address", server.Addr, "url", fmt.Sprintf("http://localhost%s", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.DBDriver {
	case "postgres":
		return postgres.Open(ctx, cfg.DatabaseURL)
	default:
		return sqlite.New(cfg.DBPath)
	}
}

func newProvider(cfg *config.Config) (paymentProvider, error) {
	switch cfg.PaymentProvider {
	case "sandbox":
		return provider.NewSandbox(), nil
	case "platform":
		return provider.NewPlatform(cfg.ProviderBaseURL, cfg.ProviderAPIKey, nil)
	default:
		return provider.Unavailable{}, nil
	}
}

// loggingMiddleware logs all incoming requests
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("Request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// corsMiddleware adds CORS headers for browser access
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms")
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms, "+service.AttemptPhaseHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
