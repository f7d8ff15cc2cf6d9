// Command dev-server is the development front door for the dashboard UI.
// Requests under the configured proxy prefixes (by default /checks and
// /history) are forwarded to the data-dash backend; everything else is
// served by the frontend dev server or the embedded UI build.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	datadash "github.com/acme/data-dash"
	devconfig "github.com/acme/data-dash/internal/config"
	"github.com/acme/data-dash/internal/health"
	"github.com/acme/data-dash/internal/metrics"
	"github.com/acme/data-dash/internal/server"
)

const defaultAddr = ":5173"

// config holds the command line configuration.
type config struct {
	ListenAddr    string
	ConfigFile    string
	FrontendURL   string
	BasePath      string
	Watch         bool
	ProbeInterval time.Duration
	LogFormat     string
}

func main() {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	devCfg, err := devconfig.Load(cfg.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, devCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig parses flags and environment variables with precedence: Flag > Env > Default.
func loadConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("dev-server", flag.ContinueOnError)

	cfg := config{}
	fs.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", defaultAddr), "listen address")
	fs.StringVar(&cfg.ConfigFile, "config", getEnv("DEV_CONFIG", ""), "YAML file overriding plugins and server.proxy")
	fs.StringVar(&cfg.FrontendURL, "frontend-url", getEnv("FRONTEND_URL", ""), "frontend dev server for unmatched paths (default: embedded UI)")
	fs.StringVar(&cfg.BasePath, "base-path", getEnv("BASE_PATH", "/"), "path prefix when served behind a proxy")
	fs.BoolVar(&cfg.Watch, "watch", getEnvBool("WATCH_CONFIG", true), "reload the proxy table when the config file changes")
	fs.DurationVar(&cfg.ProbeInterval, "probe-interval", getEnvDuration("PROBE_INTERVAL", 30*time.Second), "how often to probe proxy targets (0 disables)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "json"), "log format (json or text)")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if cfg.ProbeInterval < 0 {
		return config{}, fmt.Errorf("probe interval must not be negative, got %s", cfg.ProbeInterval)
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

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fallback
		}
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fallback
		}
		return d
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

// configView is the /__devserver/config response.
type configView struct {
	Plugins []devconfig.Plugin    `json:"plugins"`
	Proxy   []devconfig.ProxyRule `json:"proxy"`
}

// devRoutePrefix is reserved for the dev server's own endpoints.
const devRoutePrefix = "/__devserver/"

// newLiveConfig holds the most recently applied dev config. The watcher
// stores into it after the proxy table accepted a reload.
func newLiveConfig(c devconfig.Config) *atomic.Pointer[devconfig.Config] {
	live := &atomic.Pointer[devconfig.Config]{}
	live.Store(&c)
	return live
}

// newHandler builds the dev server handler tree around table. targets may
// be nil when probing is disabled. Only the dev endpoints go through a
// ServeMux; everything else reaches table with its path untouched, since
// the mux would redirect paths like /checks//x instead of forwarding them.
func newHandler(cfg config, live *atomic.Pointer[devconfig.Config], table *server.ProxyTable, targets *health.Checker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /__devserver/metrics", metrics.HTTPHandler())
	mux.HandleFunc("GET /__devserver/config", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(configView{Plugins: live.Load().Plugins, Proxy: table.Rules()})
	})
	if targets != nil {
		mux.HandleFunc("GET /__devserver/targets", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(targets.Statuses())
		})
	}
	return server.NewBasePathHandler(cfg.BasePath, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, devRoutePrefix) {
			mux.ServeHTTP(w, r)
			return
		}
		table.ServeHTTP(w, r)
	}))
}

// reloadCallback applies a reloaded config to the proxy table and then to
// the config served by /__devserver/config. On any failure both keep the
// last good state.
func reloadCallback(table *server.ProxyTable, live *atomic.Pointer[devconfig.Config]) devconfig.ReloadCallback {
	return func(newCfg *devconfig.Config, err error) {
		if err != nil {
			slog.Error("Config reload failed", "error", err)
			return
		}
		if err := table.Update(newCfg.Server.Proxy); err != nil {
			slog.Error("Proxy table update failed", "error", err)
			return
		}
		live.Store(newCfg)
		slog.Info("Proxy table reloaded", "rules", len(newCfg.Server.Proxy), "plugins", len(newCfg.Plugins))
	}
}

func newFallback(frontendURL string) (http.Handler, error) {
	if frontendURL != "" {
		proxy, err := server.NewDevProxyHandler(frontendURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create frontend proxy: %w", err)
		}
		return proxy, nil
	}
	spa, err := server.NewSPAHandler(datadash.WebFS, datadash.WebRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to create SPA handler: %w", err)
	}
	return spa, nil
}

// run starts the server and handles graceful shutdown.
func run(ctx context.Context, cfg config, devCfg devconfig.Config) error {
	logger := setupLogger(cfg.LogFormat)
	slog.SetDefault(logger)

	fallback, err := newFallback(cfg.FrontendURL)
	if err != nil {
		return err
	}
	table, err := server.NewProxyTable(devCfg.Server.Proxy, fallback, logger)
	if err != nil {
		return err
	}
	for _, r := range table.Rules() {
		slog.Info("Proxy rule", "prefix", r.Prefix, "target", r.Target, "change_origin", r.ChangeOrigin)
	}
	if cfg.FrontendURL != "" {
		slog.Info("Proxying unmatched paths to frontend", "url", cfg.FrontendURL)
	}

	live := newLiveConfig(devCfg)

	watcherCtx, watcherCancel := context.WithCancel(ctx)
	defer watcherCancel()

	if cfg.Watch && cfg.ConfigFile != "" {
		configWatcher := devconfig.NewWatcher(cfg.ConfigFile, reloadCallback(table, live), logger)
		go func() {
			if err := configWatcher.Run(watcherCtx); err != nil && watcherCtx.Err() == nil {
				slog.Warn("config watcher stopped with error", "error", err)
			}
		}()
	}

	var targets *health.Checker
	if cfg.ProbeInterval > 0 {
		targets = health.NewChecker(table, nil, cfg.ProbeInterval, logger)
		go targets.Run(watcherCtx)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newHandler(cfg, live, table, targets),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverError := make(chan error, 1)

	go func() {
		slog.Info("Listening (HTTP)", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverError <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down gracefully...")
		watcherCancel()
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
