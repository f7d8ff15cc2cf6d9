package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/acme/data-dash/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

func (h *Handler) listHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			fail(c, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := h.store.RecentResults(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load history", err)
		return
	}
	out := make([]history.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, history.FromResult(r))
	}
	c.JSON(http.StatusOK, out)
}
