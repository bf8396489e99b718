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

	"github.com/Avicted/courier/internal/auth"
	"github.com/Avicted/courier/internal/config"
	"github.com/Avicted/courier/internal/httpapi"
	"github.com/Avicted/courier/internal/logger"
	"github.com/Avicted/courier/internal/message"
	"github.com/Avicted/courier/internal/metrics"
	"github.com/Avicted/courier/internal/securelog"
	"github.com/Avicted/courier/internal/securestore"
	"github.com/Avicted/courier/internal/storage"
	"github.com/Avicted/courier/internal/user"
	"github.com/Avicted/courier/internal/ws"
)

func main() {
	if err := run(); err != nil {
		securelog.Error(slog.Default(), "server.run", err)
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}

	l := logger.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	sealer, err := securestore.NewSealer(cfg.MasterKey)
	if err != nil {
		return fmt.Errorf("init sealer: %w", err)
	}

	storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	store, err := storage.NewPostgresStore(storeCtx, cfg.DBURL, sealer, l)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, store, l)
}

// serve migrates the store, wires the services and blocks until ctx is done
// or the listener fails. The store is closed before returning.
func serve(ctx context.Context, cfg config.Config, store storage.Store, l *slog.Logger) error {
	l = logger.OrDiscard(l)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(closeCtx)
	}()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := store.Migrate(migrateCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	m := metrics.New()

	userService := user.NewService(store.Users())
	messageService := message.NewService(store.Messages(), userService)
	authService := auth.NewService(userService)
	authService.SetResetSender(newOperatorResetSender(l))

	hub := ws.NewHub(messageService,
		ws.WithLogger(l),
		ws.WithMetrics(m),
		ws.WithSendLimit(cfg.SendRate, cfg.SendBurst),
	)
	messageService.SetPublisher(hub)
	go hub.Run(ctx)

	api := httpapi.NewHandler(userService, messageService, authService, l)
	api.SetPresence(hub)

	mux := http.NewServeMux()
	mux.Handle("/health", healthHandler(hub))
	mux.Handle("/metrics", m.Handler())
	mux.Handle("/ws", ws.WithAuthValidator(http.HandlerFunc(hub.HandleWS), authService))
	api.Register(mux)

	// No read/write timeouts: they would cut long-lived websocket reads.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if cfg.TLSCertPath != "" && cfg.TLSKeyPath != "" {
			l.Info("listening with TLS", "addr", cfg.ListenAddr)
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
			return
		}

		l.Info("listening", "addr", cfg.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err = <-errCh
	case err = <-errCh:
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

type clientCounter interface {
	ClientCount() int64
}

// healthHandler reports liveness and the number of open sockets.
func healthHandler(clients clientCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, `{"status":"ok","clients":%d}`, clients.ClientCount())
	}
}
