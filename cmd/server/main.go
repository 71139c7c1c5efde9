package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"connectrpc.com/connect"
	"github.com/redis/go-redis/v9"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/engine"
	"github.com/mmynk/splitledger/internal/idempotency"
	"github.com/mmynk/splitledger/internal/metrics"
	"github.com/mmynk/splitledger/internal/middleware"
	"github.com/mmynk/splitledger/internal/service"
	"github.com/mmynk/splitledger/internal/storage/sqlite"
	"github.com/mmynk/splitledger/pkg/api/ledgerv1/ledgerv1connect"
	"github.com/mmynk/splitledger/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if _, err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.DBPath)

	m := metrics.New()
	loc, _ := time.LoadLocation(cfg.DefaultTimezone)
	opts := []engine.Option{engine.WithMetrics(m), engine.WithLogger(slog.Default())}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		opts = append(opts, engine.WithIdempotencyStore(idempotency.NewRedisStore(rdb, "splitledger:idem:")))
		slog.Info("Idempotency keys stored in Redis", "address", cfg.RedisAddr)
	}

	eng, err := engine.New(ctx, store, engine.Config{
		DefaultCurrency: cfg.DefaultCurrency,
		DefaultTimezone: loc,
		IdempotencyTTL:  cfg.IdempotencyTTL,
		ClaimLease:      cfg.ClaimLease,
		StorageRetries:  cfg.StorageRetries,
	}, opts...)
	if err != nil {
		return err
	}
	defer eng.Close()
	eng.StartTasks(cfg.IntegrityCheckInterval, cfg.SweepInterval)

	secret := cfg.JWTSecret
	if !cfg.AuthEnabled() {
		// Tokens are still issued so clients work the same either way.
		secret = rand.Text()
		slog.Warn("JWT_SECRET not set, requests are not authenticated")
	}
	jwtManager := auth.NewJWTManager(secret, cfg.TokenTTL)
	authenticator := auth.NewPasswordAuthenticator(eng)

	interceptors := []connect.Interceptor{middleware.LoggingInterceptor(m)}
	if cfg.AuthEnabled() {
		interceptors = append(interceptors, middleware.RequireAuth(jwtManager))
	}
	protected := connect.WithInterceptors(interceptors...)
	public := connect.WithInterceptors(middleware.LoggingInterceptor(m))

	mux := http.NewServeMux()
	mux.Handle(ledgerv1connect.NewLedgerServiceHandler(service.NewLedgerService(eng, cfg.DefaultCurrency, slog.Default()), protected))
	mux.Handle(ledgerv1connect.NewGroupServiceHandler(service.NewGroupService(eng, slog.Default()), protected))
	mux.Handle(ledgerv1connect.NewAuthServiceHandler(service.NewAuthService(authenticator, jwtManager, slog.Default()), public))
	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := eng.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	// Wrap with h2c for HTTP/2 without TLS (required for Connect)
	handler := h2c.NewHandler(loggingMiddleware(corsMiddleware(mux)), &http2.Server{})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Connect server starting", "address", srv.Addr, "auth", cfg.AuthEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loggingMiddleware logs every HTTP request at debug level.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request completed",
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
		w.Header().Set("Access-Control-Expose-Headers", "Connect-Protocol-Version, Connect-Timeout-Ms")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
