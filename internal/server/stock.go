package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	stockdomain "github.com/atelierhq/atelier/internal/stock/domain"
)

type createStockItemRequest struct {
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	Quantity  int64            `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price"`
	CostPrice *decimal.Decimal `json:"cost_price"`
}

func (s *Server) CreateStockItem(c *gin.Context) {
	var req createStockItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.stockSvc.CreateItem(c.Request.Context(), stockdomain.CreateItemRequest{
		SKU:       strings.TrimSpace(req.SKU),
		Name:      strings.TrimSpace(req.Name),
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
		CostPrice: req.CostPrice,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": item})
}

func (s *Server) ListStockItems(c *gin.Context) {
	active, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}

	items, err := s.stockSvc.List(c.Request.Context(), stockdomain.ListItemRequest{Active: active})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetStockItemBySKU(c *gin.Context) {
	sku := strings.TrimSpace(c.Param("sku"))
	item, err := s.stockSvc.GetBySKU(c.Request.Context(), sku)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

type adjustStockItemRequest struct {
	Delta int64  `json:"delta"`
	Note  string `json:"note"`
}

func (s *Server) AdjustStockItem(c *gin.Context) {
	sku := strings.TrimSpace(c.Param("sku"))

	var req adjustStockItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.stockSvc.Adjust(c.Request.Context(), sku, req.Delta, strings.TrimSpace(req.Note))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

type setStockItemActiveRequest struct {
	Active bool `json:"active"`
}

func (s *Server) SetStockItemActive(c *gin.Context) {
	sku := strings.TrimSpace(c.Param("sku"))

	var req setStockItemActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	item, err := s.stockSvc.SetActive(c.Request.Context(), sku, req.Active)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) DeleteStockItem(c *gin.Context) {
	if err := s.stockSvc.DeleteItem(c.Request.Context(), c.Param("sku")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
