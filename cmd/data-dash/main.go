// Command data-dash serves the data quality dashboard: the check API, the
// result history, live events and the embedded UI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	datadash "github.com/acme/data-dash"
	"github.com/acme/data-dash/internal/api"
	"github.com/acme/data-dash/internal/certs"
	"github.com/acme/data-dash/internal/checks"
	"github.com/acme/data-dash/internal/connections"
	"github.com/acme/data-dash/internal/history"
	"github.com/acme/data-dash/internal/notify"
	"github.com/acme/data-dash/internal/secrets"
	"github.com/acme/data-dash/internal/server"
	"github.com/acme/data-dash/internal/sse"
	"github.com/acme/data-dash/internal/storage"
)

const defaultAddr = "0.0.0.0:3000"

// Version is injected at build time using ldflags.
var Version = "(unknown)"

// config holds all server configuration.
type config struct {
	ListenAddr    string
	DatabaseURL   string
	SecretStore   string
	SecretsFile   string
	HistoryFile   string
	RetentionDays int
	UIDir         string
	BasePath      string
	LogFormat     string
	WebhookURL    string
	WebhookSecret string
	ExecuteRate   int
	TLS           certs.Config
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			fmt.Printf("data-dash version %s\n", Version)
			return
		}
	}

	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses flags and environment variables with precedence: Flag > Env > Default.
func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("data-dash", flag.ContinueOnError)

	cfg := config{}
	fs.Bool("version", false, "print version and exit")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", defaultAddr), "listen address")
	fs.StringVar(&cfg.DatabaseURL, "database-url", getEnv("DATABASE_URL", storage.DefaultDatabaseURL), "database URL (sqlite:<path> or mysql://...)")
	fs.StringVar(&cfg.SecretStore, "secret-store", getEnv("SECRET_STORE", "db"), "secret store backend (db, env or file)")
	fs.StringVar(&cfg.SecretsFile, "secrets-file", getEnv("SECRETS_FILE", ""), "path to encrypted secrets file (file store)")
	fs.StringVar(&cfg.HistoryFile, "history-file", getEnv("HISTORY_FILE", ""), "optional JSONL mirror of check results")
	fs.IntVar(&cfg.RetentionDays, "retention-days", getEnvInt("RETENTION_DAYS", history.DefaultRetentionDays), "days of check history to keep")
	fs.StringVar(&cfg.UIDir, "ui-dir", getEnv("UI_DIR", ""), "serve the UI from this directory instead of the embedded build")
	fs.StringVar(&cfg.BasePath, "base-path", getEnv("BASE_PATH", "/"), "path prefix when served behind a proxy")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "json"), "log format (json or text)")
	fs.IntVar(&cfg.ExecuteRate, "execute-rate", getEnvInt("EXECUTE_RATE", 30), "executions allowed per check per minute (0 disables the limit)")
	fs.StringVar(&cfg.WebhookURL, "webhook-url", getEnv("WEBHOOK_URL", ""), "POST check status changes to this URL")
	fs.StringVar(&cfg.WebhookSecret, "webhook-secret", getEnv("WEBHOOK_SECRET", ""), "secret key holding the webhook bearer token")

	fs.StringVar(&cfg.TLS.Dir, "tls-dir", getEnv("TLS_DIR", ""), "serve HTTPS with a self-signed certificate generated into this directory")
	fs.StringVar(&cfg.TLS.CertFile, "tls-cert", getEnv("TLS_CERT", ""), "serve HTTPS with this certificate (requires -tls-key)")
	fs.StringVar(&cfg.TLS.KeyFile, "tls-key", getEnv("TLS_KEY", ""), "private key for -tls-cert")
	tlsHosts := fs.String("tls-hosts", getEnv("TLS_HOSTS", ""), "comma separated names for the generated certificate (default localhost)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	for _, h := range strings.Split(*tlsHosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			cfg.TLS.Hosts = append(cfg.TLS.Hosts, h)
		}
	}
	if (cfg.TLS.CertFile == "") != (cfg.TLS.KeyFile == "") {
		return config{}, errors.New("-tls-cert and -tls-key must be set together")
	}

	switch cfg.SecretStore {
	case "db", "env":
	case "file":
		if cfg.SecretsFile == "" {
			return config{}, errors.New("secret store \"file\" requires -secrets-file")
		}
	default:
		return config{}, fmt.Errorf("unsupported secret store %q: must be \"db\", \"env\" or \"file\"", cfg.SecretStore)
	}

	if cfg.RetentionDays <= 0 {
		return config{}, fmt.Errorf("retention days must be positive, got %d", cfg.RetentionDays)
	}

	if cfg.ExecuteRate < 0 {
		return config{}, fmt.Errorf("execute rate must not be negative, got %d", cfg.ExecuteRate)
	}

	if cfg.WebhookSecret != "" && cfg.WebhookURL == "" {
		return config{}, errors.New("-webhook-secret requires -webhook-url")
	}

	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return config{}, fmt.Errorf("unsupported log format %q: must be \"json\" or \"text\"", cfg.LogFormat)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fallback
		}
		return n
	}
	return fallback
}

func setupLogger(format string) *slog.Logger {
	return setupLoggerWithWriter(format, os.Stdout)
}

func setupLoggerWithWriter(format string, writer io.Writer) *slog.Logger {
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, nil)
	} else {
		handler = slog.NewJSONHandler(writer, nil)
	}
	return slog.New(handler)
}

// app is the wired backend. Its background workers run until Close or
// until the context passed to newApp is cancelled.
type app struct {
	handler http.Handler
	store   *storage.Store
	history history.Writer
	broker  *sse.Broker

	cancel    context.CancelFunc
	workers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func newApp(ctx context.Context, cfg config, logger *slog.Logger) (*app, error) {
	store, err := storage.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	a := &app{store: store, cancel: cancel}

	secretStore, err := newSecretStore(cfg, store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry, err := checks.NewRegistry(checks.ExampleCheck{})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register checks: %w", err)
	}

	broker := sse.NewBroker(store, logger)
	a.broker = broker
	a.workers.Go(func() { broker.Run(ctx) })

	writers := history.MultiWriter{history.NewDBWriter(store), history.NewPublishWriter(broker)}
	a.history = writers
	if cfg.HistoryFile != "" {
		fw, err := history.NewFileWriter(cfg.HistoryFile, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create history writer: %w", err)
		}
		writers = append(writers, fw)
		a.history = writers
	}

	if cfg.WebhookURL != "" {
		n, err := newNotifier(ctx, cfg, store, secretStore, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		writers = append(writers, n)
		a.history = writers
	}

	pruner := history.NewPruner(store, cfg.HistoryFile, cfg.RetentionDays, logger)
	a.workers.Go(func() { pruner.Run(ctx) })

	ui, err := newUIHandler(cfg.UIDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	var limit *api.RateLimiter
	if cfg.ExecuteRate > 0 {
		limit = api.NewRateLimiter(cfg.ExecuteRate, time.Minute)
	}

	router := api.NewRouter(api.Deps{
		Checks:       registry,
		CheckContext: connections.NewManager(store, secretStore, logger),
		Store:        store,
		History:      writers,
		Events:       broker,
		ExecuteLimit: limit,
		Logger:       logger,
	})
	router.NoRoute(api.UIFallback(ui))

	a.handler = server.ProxyHeaderMiddleware(server.NewBasePathHandler(cfg.BasePath, router))
	return a, nil
}

// Close stops the workers, waits for them, then closes the history
// writers and the store. Later calls return the first result.
func (a *app) Close() error {
	a.closeOnce.Do(func() {
		a.cancel()
		a.workers.Wait()
		var historyErr error
		if a.history != nil {
			historyErr = a.history.Close()
		}
		a.closeErr = errors.Join(historyErr, a.store.Close())
	})
	return a.closeErr
}

func newSecretStore(cfg config, store *storage.Store, logger *slog.Logger) (secrets.Store, error) {
	switch cfg.SecretStore {
	case "env":
		return secrets.EnvStore{Prefix: "DATA_DASH_SECRET_"}, nil
	case "file":
		fileStore, err := secrets.LoadFile(cfg.SecretsFile, logger)
		if err != nil {
			return nil, err
		}
		return fileStore, nil
	default:
		return secrets.NewDBStore(store), nil
	}
}

func newNotifier(ctx context.Context, cfg config, store *storage.Store, secretStore secrets.Store, logger *slog.Logger) (*notify.Notifier, error) {
	var opts []notify.WebhookOption
	if cfg.WebhookSecret != "" {
		token, err := secretStore.Get(ctx, cfg.WebhookSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve webhook secret: %w", err)
		}
		opts = append(opts, notify.WithBearerToken(token))
	}

	webhook := notify.NewWebhookAdapter("webhook", cfg.WebhookURL, opts...)
	n := notify.NewNotifier(ctx, []notify.Adapter{webhook}, notify.NewDispatcher(notify.DispatcherConfig{Logger: logger}), logger)

	latest, err := store.LatestStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest statuses: %w", err)
	}
	seed := make(map[string]checks.Status, len(latest))
	for id, r := range latest {
		seed[id] = checks.Status(r.Status)
	}
	n.Seed(seed)

	logger.Info("webhook notifications enabled", "url", cfg.WebhookURL)
	return n, nil
}

func newUIHandler(dir string) (http.Handler, error) {
	if dir != "" {
		h, err := server.NewSPAHandlerFromDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to create SPA handler: %w", err)
		}
		return h, nil
	}
	h, err := server.NewSPAHandler(datadash.WebFS, datadash.WebRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPA handler: %w", err)
	}
	return h, nil
}

// run starts the server and handles graceful shutdown.
func run(ctx context.Context, cfg config) error {
	logger := setupLogger(cfg.LogFormat)
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("Starting data-dash", "version", Version, "secret_store", cfg.SecretStore)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	// Close cancels the workers before the store goes away, on every
	// return path.
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.TLS.Enabled() {
		assets, err := certs.LoadOrGenerate(cfg.TLS)
		if err != nil {
			return fmt.Errorf("failed to resolve tls certificate: %w", err)
		}
		srv.TLSConfig, err = certs.NewTLSConfig(assets)
		if err != nil {
			return err
		}
		slog.Info("TLS certificate ready", "cert", assets.CertPath, "ca", assets.CACertPath, "reason", assets.Reason)
	}

	// Channel to catch server errors
	serverError := make(chan error, 1)

	go func() {
		var err error
		if srv.TLSConfig != nil {
			slog.Info("Listening (HTTPS)", "addr", cfg.ListenAddr, "base_path", server.NormalizeBasePath(cfg.BasePath))
			err = srv.ListenAndServeTLS("", "")
		} else {
			slog.Info("Listening (HTTP)", "addr", cfg.ListenAddr, "base_path", server.NormalizeBasePath(cfg.BasePath))
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
		// Stop SSE streams before draining so Shutdown doesn't wait on them.
		a.cancel()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		slog.Info("Server stopped")
	case err := <-serverError:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
