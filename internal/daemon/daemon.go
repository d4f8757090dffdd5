package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ledgerline/ledgerd/internal/api"
	"github.com/ledgerline/ledgerd/internal/audit"
	"github.com/ledgerline/ledgerd/internal/ledger"
)

// Run starts the ledger daemon with the given configuration and blocks
// until SIGINT/SIGTERM, then shuts the listener down gracefully.
func Run(cfg Config) error {
	log := NewLogger(cfg.Log)

	auditor, err := audit.NewLogger(cfg.Audit.Path, cfg.Audit.Service)
	if err != nil {
		return err
	}
	defer auditor.Close()

	store := ledger.NewStore(auditor)
	server := api.NewServer(store, auditor, log)
	if cfg.Metrics.Enabled {
		server.EnableMetrics()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("audit", auditor.Path()).Msg("ledgerd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// NewLogger builds the operational zerolog logger from config. The audit
// trail is a separate stream; this logger is for process diagnostics.
func NewLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if strings.EqualFold(cfg.Format, "json") {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
