// Package api serves the data-dash backend HTTP API.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acme/data-dash/internal/checks"
	"github.com/acme/data-dash/internal/history"
	"github.com/acme/data-dash/internal/metrics"
	"github.com/acme/data-dash/internal/storage"
)

// Store is the persistence the API reads and edits.
type Store interface {
	RecentResults(ctx context.Context, limit int) ([]storage.CheckResult, error)
	LatestStatuses(ctx context.Context) (map[string]storage.CheckResult, error)

	ConnectionProfiles(ctx context.Context) ([]storage.ConnectionProfile, error)
	ConnectionProfile(ctx context.Context, name string) (storage.ConnectionProfile, error)
	SaveConnectionProfile(ctx context.Context, p storage.ConnectionProfile) error
	DeleteConnectionProfile(ctx context.Context, name string) error

	SecretKeys(ctx context.Context) ([]string, error)
	SaveSecret(ctx context.Context, key, value string) error
	DeleteSecret(ctx context.Context, key string) error

	DataSources(ctx context.Context) ([]storage.DataSource, error)
	SaveDataSource(ctx context.Context, ds storage.DataSource) (storage.DataSource, error)
	DeleteDataSource(ctx context.Context, name string) error
}

// Deps are the collaborators a Handler needs. Events, History and
// ExecuteLimit may be nil.
type Deps struct {
	Checks       *checks.Registry
	CheckContext checks.Context
	Store        Store
	History      history.Writer
	Events       http.Handler
	ExecuteLimit *RateLimiter
	Logger       *slog.Logger
}

// Handler holds the API dependencies and registers its routes.
type Handler struct {
	checks  *checks.Registry
	cc      checks.Context
	store   Store
	history history.Writer
	events  http.Handler
	limit   *RateLimiter
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a Handler from deps.
func New(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hw := deps.History
	if hw == nil {
		hw = history.NoopWriter{}
	}
	return &Handler{
		checks:  deps.Checks,
		cc:      deps.CheckContext,
		store:   deps.Store,
		history: hw,
		events:  deps.Events,
		limit:   deps.ExecuteLimit,
		logger:  logger,
		now:     time.Now,
	}
}

// NewRouter returns a gin engine with the standard middleware chain and
// every API route mounted.
func NewRouter(deps Deps) *gin.Engine {
	h := New(deps)

	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(h.logger), metrics.Handler())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/checks", h.listChecks)
	r.GET("/checks/status", h.checkStatus)
	r.POST("/checks/:id/execute", h.executeCheck)

	r.GET("/history", h.listHistory)
	if h.events != nil {
		r.GET("/history/events", gin.WrapH(h.events))
	}

	r.GET("/connections", h.listConnections)
	r.GET("/connections/:name", h.getConnection)
	r.PUT("/connections/:name", h.putConnection)
	r.DELETE("/connections/:name", h.deleteConnection)

	r.GET("/secrets", h.listSecrets)
	r.PUT("/secrets/:key", h.putSecret)
	r.DELETE("/secrets/:key", h.deleteSecret)

	r.GET("/data-sources", h.listDataSources)
	r.PUT("/data-sources/:name", h.putDataSource)
	r.DELETE("/data-sources/:name", h.deleteDataSource)

	r.GET("/metrics", metrics.Exposer())
}

// apiRoots are the path roots RegisterRoutes owns.
var apiRoots = []string{"/checks", "/history", "/connections", "/secrets", "/data-sources", "/metrics"}

func isAPIPath(path string) bool {
	for _, root := range apiRoots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}

// UIFallback returns a NoRoute handler serving ui. Unmatched paths under
// an API root, including known paths with the wrong method, get the JSON
// 404 instead of the UI shell.
func UIFallback(ui http.Handler) gin.HandlerFunc {
	serveUI := gin.WrapH(ui)
	return func(c *gin.Context) {
		if isAPIPath(c.Request.URL.Path) {
			fail(c, http.StatusNotFound, "Not found", nil)
			return
		}
		serveUI(c)
	}
}

// fail writes the standard error body and attaches err for the access log.
func fail(c *gin.Context, status int, msg string, err error) {
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
