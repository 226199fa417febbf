package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"refund-insights-service/internal/middleware"
	"refund-insights-service/internal/services"
)

// ReportHandler handles dashboard report endpoints
type ReportHandler struct {
	service *services.ReportService
}

// NewReportHandler creates a new report handler
func NewReportHandler(service *services.ReportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// GetSummary handles GET /api/v1/reports/summary
func (h *ReportHandler) GetSummary(c *gin.Context) {
	shop := middleware.GetShop(c)
	from, to, err := services.ParseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.service.Summary(c.Request.Context(), shop, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute summary"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetChart handles GET /api/v1/reports/chart. With a product query param it
// returns that product's refund series instead of the shop-wide one.
func (h *ReportHandler) GetChart(c *gin.Context) {
	shop := middleware.GetShop(c)
	from, to, err := services.ParseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if product := c.Query("product"); product != "" {
		points, err := h.service.ProductChart(c.Request.Context(), shop, product, from, to)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute product chart"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"product": product, "points": points})
		return
	}

	points, err := h.service.Chart(c.Request.Context(), shop, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute chart"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"points": points})
}

// GetTopReasons handles GET /api/v1/reports/top-reasons
func (h *ReportHandler) GetTopReasons(c *gin.Context) {
	shop := middleware.GetShop(c)
	from, to, err := services.ParseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reasons, err := h.service.TopReasons(c.Request.Context(), shop, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute top reasons"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reasons": reasons})
}

// GetTopProducts handles GET /api/v1/reports/top-products
func (h *ReportHandler) GetTopProducts(c *gin.Context) {
	shop := middleware.GetShop(c)
	from, to, err := services.ParseDateRange(c.Query("from"), c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	products, err := h.service.TopProducts(c.Request.Context(), shop, from, to)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute top products"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"products": products})
}
