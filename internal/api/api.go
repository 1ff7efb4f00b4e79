// Package api serves the resolved corpus over a read-only HTTP API.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storydesk/storydesk/internal/storage"
	"github.com/storydesk/storydesk/internal/types"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Handler serves items, update histories and statistics
type Handler struct {
	store  storage.Storage
	logger *slog.Logger
}

// NewHandler creates a handler over store
func NewHandler(store storage.Storage, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger}
}

// NewRouter returns a gin engine with every route registered
func NewRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), h.logRequests())
	RegisterRoutes(r, h)
	return r
}

// RegisterRoutes adds the v1 routes. There are no write routes.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	v1 := r.Group("/v1")
	{
		v1.GET("/items", h.ListItems)
		v1.GET("/items/:id", h.GetItem)
		v1.GET("/items/:id/updates", h.GetUpdates)
		v1.GET("/stats", h.Stats)
	}
}

// ListItems: GET /v1/items?resolution=NEW&canonical_id=...&limit=50
func (h *Handler) ListItems(c *gin.Context) {
	var filter types.ItemFilter
	if raw := c.Query("resolution"); raw != "" {
		res := types.Resolution(strings.ToUpper(raw))
		if !res.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolution: " + raw})
			return
		}
		filter.Resolution = &res
	}
	if id := c.Query("canonical_id"); id != "" {
		filter.CanonicalID = &id
	}
	filter.Limit = parseLimit(c.Query("limit"))

	items, err := h.store.ListItems(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	if items == nil {
		items = []*types.ContentItem{}
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{"count": len(items), "limit": filter.Limit},
		"data": items,
	})
}

// GetItem: GET /v1/items/:id, where :id is an item id or slug
func (h *Handler) GetItem(c *gin.Context) {
	item, err := h.lookup(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

// GetUpdates: GET /v1/items/:id/updates, oldest first
func (h *Handler) GetUpdates(c *gin.Context) {
	item, err := h.lookup(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	updates := item.Updates
	if updates == nil {
		updates = []types.UpdateEntry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"meta": gin.H{"item_id": item.ID, "count": len(updates), "updated_at": item.UpdatedAt},
		"data": updates,
	})
}

// Stats: GET /v1/stats
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.store.GetStatistics(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (h *Handler) lookup(c *gin.Context) (*types.ContentItem, error) {
	key := c.Param("id")
	item, err := h.store.GetItem(c.Request.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		return h.store.GetItemBySlug(c.Request.Context(), key)
	}
	return item, err
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("api request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func (h *Handler) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.logger.Debug("api request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status())
	}
}

func parseLimit(s string) int {
	l, err := strconv.Atoi(s)
	if err != nil || l <= 0 {
		return defaultLimit
	}
	if l > maxLimit {
		return maxLimit
	}
	return l
}
