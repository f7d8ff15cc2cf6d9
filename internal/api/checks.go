package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/acme/data-dash/internal/checks"
	"github.com/acme/data-dash/internal/history"
	"github.com/acme/data-dash/internal/metrics"
)

type executeRequest struct {
	Params checks.Params `json:"params"`
}

func (h *Handler) listChecks(c *gin.Context) {
	c.JSON(http.StatusOK, h.checks.List())
}

func (h *Handler) checkStatus(c *gin.Context) {
	latest, err := h.store.LatestStatuses(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load statuses", err)
		return
	}
	out := make([]history.Entry, 0, len(latest))
	for _, r := range latest {
		out = append(out, history.FromResult(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckID < out[j].CheckID })
	c.JSON(http.StatusOK, out)
}

func (h *Handler) executeCheck(c *gin.Context) {
	id := c.Param("id")
	check, err := h.checks.Get(id)
	if errors.Is(err, checks.ErrCheckNotFound) {
		fail(c, http.StatusNotFound, "Check not found", nil)
		return
	}
	// Limited after the lookup so unknown ids never reach the limiter.
	if h.limit != nil && !h.limit.allowCheck(c, id) {
		return
	}

	var req executeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	if req.Params == nil {
		req.Params = checks.Params{}
	}

	res, err := check.Execute(c.Request.Context(), h.cc, req.Params)
	if err != nil {
		outcome, status := "execution_error", http.StatusInternalServerError
		if checks.IsConfigError(err) {
			outcome, status = "config_error", http.StatusUnprocessableEntity
		}
		metrics.CheckExecutions.WithLabelValues(id, outcome).Inc()
		h.logger.Warn("check failed", "check", id, "error", err)
		fail(c, status, err.Error(), err)
		return
	}
	metrics.CheckExecutions.WithLabelValues(id, string(res.Status)).Inc()

	if err := h.history.Record(history.NewEntry(id, res, h.now())); err != nil {
		// The result is still returned; history is best effort.
		h.logger.Error("failed to record check result", "check", id, "error", err)
	}
	c.JSON(http.StatusOK, res)
}
