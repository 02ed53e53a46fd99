package inventory

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vasilkosturski/orderflow/internal/platform/httpx"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service           *Service
	lowStockThreshold int
}

func NewHandler(service *Service, lowStockThreshold int) *Handler {
	return &Handler{service: service, lowStockThreshold: lowStockThreshold}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	inv := r.Group("/api/inventory")
	inv.GET("", h.List)
	inv.POST("", h.Provision)
	inv.GET("/low-stock", h.LowStock)
	inv.GET("/product/:productId", h.Get)
	inv.PUT("/adjust/:productId", h.Adjust)
}

// View is the API representation of a stock record.
type View struct {
	ProductID         int64     `json:"productId"`
	Quantity          int       `json:"quantity"`
	ReservedQuantity  int       `json:"reservedQuantity"`
	AvailableQuantity int       `json:"availableQuantity"`
	Version           int64     `json:"version"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func toView(inv *Inventory) View {
	return View{
		ProductID:         inv.ProductID,
		Quantity:          inv.Quantity,
		ReservedQuantity:  inv.ReservedQuantity,
		AvailableQuantity: inv.Available(),
		Version:           inv.Version,
		UpdatedAt:         inv.UpdatedAt,
	}
}

func toViews(items []Inventory) []View {
	views := make([]View, 0, len(items))
	for i := range items {
		views = append(views, toView(&items[i]))
	}
	return views
}

func (h *Handler) List(c *gin.Context) {
	items, err := h.service.List(c.Request.Context())
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "", toViews(items))
}

func (h *Handler) Get(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}
	inv, err := h.service.Get(c.Request.Context(), productID)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "", toView(inv))
}

func (h *Handler) LowStock(c *gin.Context) {
	threshold := h.lowStockThreshold
	if v := c.Query("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			_ = c.Error(httpx.BadRequest("threshold must be a non-negative integer", err))
			return
		}
		threshold = n
	}

	items, err := h.service.LowStock(c.Request.Context(), threshold)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "", toViews(items))
}

type quantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *Handler) Adjust(c *gin.Context) {
	productID, ok := productIDParam(c)
	if !ok {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(httpx.BadRequest("Invalid request body", err))
		return
	}
	if req.Quantity == nil || *req.Quantity < 0 {
		_ = c.Error(httpx.BadRequest("quantity must be a non-negative integer", nil))
		return
	}

	inv, err := h.service.Adjust(c.Request.Context(), productID, *req.Quantity)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "Inventory adjusted", toView(inv))
}

type provisionRequest struct {
	ProductID int64 `json:"productId"`
	Quantity  *int  `json:"quantity"`
}

func (h *Handler) Provision(c *gin.Context) {
	var req provisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(httpx.BadRequest("Invalid request body", err))
		return
	}
	if req.Quantity == nil {
		_ = c.Error(httpx.BadRequest("quantity is required", nil))
		return
	}

	inv, err := h.service.Provision(c.Request.Context(), req.ProductID, *req.Quantity)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusCreated, "Inventory provisioned", toView(inv))
}

func productIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("productId"), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(httpx.BadRequest("productId must be a positive integer", err))
		return 0, false
	}
	return id, true
}

func toAPIError(err error) *httpx.APIError {
	switch {
	case errors.Is(err, ErrProductNotFound):
		return httpx.NotFound("Product not found", err)
	case errors.Is(err, ErrProductExists), errors.Is(err, ErrVersionConflict):
		return httpx.Conflict(err.Error(), err)
	case errors.Is(err, ErrInvalidAdjustment):
		return httpx.BadRequest(err.Error(), err)
	default:
		return httpx.Internal(err)
	}
}
