package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/MahdiNavaei/InvoiceMind/pkg/api"
	"github.com/MahdiNavaei/InvoiceMind/pkg/auth"
	"github.com/MahdiNavaei/InvoiceMind/pkg/config"
	"github.com/MahdiNavaei/InvoiceMind/pkg/documents"
	"github.com/MahdiNavaei/InvoiceMind/pkg/governance"
	"github.com/MahdiNavaei/InvoiceMind/pkg/ledger"
	"github.com/MahdiNavaei/InvoiceMind/pkg/observability"
	"github.com/MahdiNavaei/InvoiceMind/pkg/projection"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		return runServer(stderr)
	}
	switch args[1] {
	case "server", "serve":
		return runServer(stderr)
	case "verify":
		return runVerifyCmd(stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: invoicemind [command]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  server   Start the HTTP server (default)")
	fmt.Fprintln(w, "  verify   Verify ledger integrity and exit")
	fmt.Fprintln(w, "  help     Show this help")
}

func runServer(stderr io.Writer) int {
	cfg := config.Load()
	log := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, err := observability.New(ctx, &observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "1.0.0",
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		fmt.Fprintf(stderr, "observability init failed: %v\n", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	store, err := openLedgerStore(ctx, cfg)
	if err != nil {
		log.Error("ledger store init failed", "backend", cfg.LedgerBackend, "error", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	led := ledger.New(store, ledger.WithMaskFields(cfg.AuditMaskFields))

	if err := os.MkdirAll(filepath.Dir(cfg.DocumentsPath), 0o755); err != nil {
		log.Error("documents dir init failed", "error", err)
		return 1
	}
	docs, err := documents.OpenSQLite(cfg.DocumentsPath)
	if err != nil {
		log.Error("document store init failed", "error", err)
		return 1
	}
	defer func() { _ = docs.Close() }()

	service := api.NewService(api.Options{
		Ledger:     led,
		Runs:       projection.NewRunProjector(led, log),
		Quarantine: projection.NewQuarantineProjector(led, log),
		Documents:  docs,
		Catalog: &governance.VersionCatalog{
			BundleRoot: cfg.ConfigBundleRoot,
			Defaults:   cfg.VersionDefaults(),
			Runtime:    governance.RuntimeSettings{ModelRuntime: cfg.ModelRuntime},
		},
		Provider:         provider,
		Logger:           log,
		QueueRejectDepth: cfg.QueueRejectDepth,
	})

	verifier := auth.NewVerifier(cfg.JWTSecret)
	if verifier == nil {
		log.Warn("JWT_SECRET not set, authentication disabled")
	}

	mux := service.Routes(auth.RequireRoles)

	handler := auth.RequestIDMiddleware(
		api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst).Middleware(
			auth.NewMiddleware(verifier)(
				service.Instrument(mux))))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Port, "ledger_backend", cfg.LedgerBackend)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "error", err)
			return 1
		}
	}
	return 0
}

func runVerifyCmd(stdout, stderr io.Writer) int {
	cfg := config.Load()
	ctx := context.Background()

	store, err := openLedgerStore(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "ledger store init failed: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	result, err := ledger.New(store).Verify(ctx, 0)
	if err != nil {
		fmt.Fprintf(stderr, "verify failed: %v\n", err)
		return 1
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)

	if !result.Valid {
		return 1
	}
	return 0
}

func openLedgerStore(ctx context.Context, cfg *config.Config) (ledger.Store, error) {
	switch cfg.LedgerBackend {
	case "memory":
		return ledger.NewMemoryStore(), nil
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
			return nil, err
		}
		return ledger.NewFileStore(cfg.LedgerPath)
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.LedgerPath), 0o755); err != nil {
			return nil, err
		}
		db, err := sql.Open("sqlite", cfg.LedgerPath)
		if err != nil {
			return nil, err
		}
		return ledger.NewSQLiteStore(db)
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		store := ledger.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
