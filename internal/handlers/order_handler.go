package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"refund-insights-service/internal/middleware"
	"refund-insights-service/internal/repository"
)

// OrderHandler handles order listing endpoints
type OrderHandler struct {
	repo     *repository.OrderRepository
	pageSize int
}

// NewOrderHandler creates a new order handler
func NewOrderHandler(repo *repository.OrderRepository, pageSize int) *OrderHandler {
	if pageSize <= 0 {
		pageSize = 20
	}
	return &OrderHandler{repo: repo, pageSize: pageSize}
}

// ListOrders handles GET /api/v1/orders with filtering, search, sorting and
// pagination
func (h *OrderHandler) ListOrders(c *gin.Context) {
	shop := middleware.GetShop(c)

	filters := repository.OrderFilters{
		Shop:       shop,
		FilterType: c.DefaultQuery("filter", repository.FilterAll),
		Search:     c.Query("search"),
		SortBy:     c.DefaultQuery("sortBy", "created_at"),
		SortOrder:  c.DefaultQuery("sortOrder", "desc"),
		Limit:      h.pageSize,
	}

	switch filters.FilterType {
	case repository.FilterAll, repository.FilterRefunded, repository.FilterNonRefunded:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "filter must be All, Refunded or Non-Refunded"})
		return
	}

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && page > 0 {
		filters.Page = page
	} else {
		filters.Page = 1
	}

	if fromStr := c.Query("from"); fromStr != "" {
		t, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date, expected YYYY-MM-DD"})
			return
		}
		filters.DateFrom = &t
	}
	if toStr := c.Query("to"); toStr != "" {
		t, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date, expected YYYY-MM-DD"})
			return
		}
		end := t.Add(24*time.Hour - time.Nanosecond)
		filters.DateTo = &end
	}

	orders, total, err := h.repo.ListOrders(c.Request.Context(), filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	totalPages := (total + int64(h.pageSize) - 1) / int64(h.pageSize)
	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"pagination": gin.H{
			"page":       filters.Page,
			"pageSize":   h.pageSize,
			"total":      total,
			"totalPages": totalPages,
		},
	})
}

// GetOrder handles GET /api/v1/orders/:id. The id is the numeric tail of
// the order GID, since full GIDs contain slashes.
func (h *OrderHandler) GetOrder(c *gin.Context) {
	shop := middleware.GetShop(c)

	id := c.Param("id")
	if !strings.HasPrefix(id, "gid://") {
		id = "gid://shopify/Order/" + id
	}

	order, err := h.repo.GetByID(c.Request.Context(), shop, id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		return
	}

	c.JSON(http.StatusOK, order)
}
