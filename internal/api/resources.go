package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/acme/data-dash/internal/storage"
)

func (h *Handler) listConnections(c *gin.Context) {
	list, err := h.store.ConnectionProfiles(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load connections", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) getConnection(c *gin.Context) {
	p, err := h.store.ConnectionProfile(c.Request.Context(), c.Param("name"))
	if errors.Is(err, storage.ErrNotFound) {
		fail(c, http.StatusNotFound, "connection not found", nil)
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load connection", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) putConnection(c *gin.Context) {
	var p storage.ConnectionProfile
	if err := c.ShouldBindJSON(&p); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	p.Name = c.Param("name")
	if strings.TrimSpace(p.Driver) == "" || strings.TrimSpace(p.ConnectionStringTemplate) == "" {
		fail(c, http.StatusBadRequest, "driver and connection_string_template are required", nil)
		return
	}
	if p.SecretRef != nil && *p.SecretRef == "" {
		p.SecretRef = nil
	}
	if err := h.store.SaveConnectionProfile(c.Request.Context(), p); err != nil {
		fail(c, http.StatusInternalServerError, "failed to save connection", err)
		return
	}
	if p.ConnectionType == "" {
		p.ConnectionType = "database"
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) deleteConnection(c *gin.Context) {
	if err := h.store.DeleteConnectionProfile(c.Request.Context(), c.Param("name")); err != nil {
		fail(c, http.StatusInternalServerError, "failed to delete connection", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type secretRequest struct {
	Value string `json:"value"`
}

func (h *Handler) listSecrets(c *gin.Context) {
	keys, err := h.store.SecretKeys(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load secrets", err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, keys)
}

func (h *Handler) putSecret(c *gin.Context) {
	var req secretRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Value == "" {
		fail(c, http.StatusBadRequest, "value is required", err)
		return
	}
	if err := h.store.SaveSecret(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		fail(c, http.StatusInternalServerError, "failed to save secret", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSecret(c *gin.Context) {
	if err := h.store.DeleteSecret(c.Request.Context(), c.Param("key")); err != nil {
		fail(c, http.StatusInternalServerError, "failed to delete secret", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type dataSourceRequest struct {
	ConnectionName string `json:"connection_name"`
	SecretKey      string `json:"secret_key"`
}

func (h *Handler) listDataSources(c *gin.Context) {
	list, err := h.store.DataSources(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to load data sources", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) putDataSource(c *gin.Context) {
	var req dataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ConnectionName == "" || req.SecretKey == "" {
		fail(c, http.StatusBadRequest, "connection_name and secret_key are required", nil)
		return
	}
	ds, err := h.store.SaveDataSource(c.Request.Context(), storage.DataSource{
		Name:           c.Param("name"),
		ConnectionName: req.ConnectionName,
		SecretKey:      req.SecretKey,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, "failed to save data source", err)
		return
	}
	c.JSON(http.StatusOK, ds)
}

func (h *Handler) deleteDataSource(c *gin.Context) {
	if err := h.store.DeleteDataSource(c.Request.Context(), c.Param("name")); err != nil {
		fail(c, http.StatusInternalServerError, "failed to delete data source", err)
		return
	}
	c.Status(http.StatusNoContent)
}
