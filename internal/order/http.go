package order

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/vasilkosturski/orderflow/internal/platform/httpx"

	"github.com/gin-gonic/gin"
)

const (
	IdempotencyKeyHeader = "Idempotency-Key"
	defaultDelayMinutes  = 5
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	orders := r.Group("/api/orders")
	orders.POST("", h.Create)
	orders.GET("/simple", h.CreateSimple)
	orders.POST("/simple", h.CreateSimple)
	orders.GET("", h.List)
	orders.GET("/statistics", h.Statistics)
	orders.GET("/delayed", h.Delayed)
	orders.GET("/status/:status", h.ListByStatus)
	orders.GET("/:orderId", h.Get)
	orders.PUT("/:orderId/status", h.UpdateStatus)
}

type createOrderRequest struct {
	ProductID      int64  `json:"productId"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *Handler) Create(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(httpx.BadRequest("Invalid request body", err))
		return
	}
	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		req.IdempotencyKey = key
	}

	h.admit(c, AdmitRequest{ProductID: req.ProductID, Quantity: req.Quantity, DedupKey: req.IdempotencyKey})
}

func (h *Handler) CreateSimple(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Query("productId"), 10, 64)
	if err != nil {
		_ = c.Error(httpx.BadRequest("productId must be an integer", err))
		return
	}
	quantity, err := strconv.Atoi(c.Query("quantity"))
	if err != nil {
		_ = c.Error(httpx.BadRequest("quantity must be an integer", err))
		return
	}

	h.admit(c, AdmitRequest{ProductID: productID, Quantity: quantity, DedupKey: c.GetHeader(IdempotencyKeyHeader)})
}

func (h *Handler) admit(c *gin.Context, req AdmitRequest) {
	o, err := h.service.Admit(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusCreated, "Order created successfully", o)
}

func (h *Handler) Get(c *gin.Context) {
	o, err := h.service.Get(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "", o)
}

func (h *Handler) List(c *gin.Context) {
	orders, err := h.service.List(c.Request.Context())
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "", orders)
}

func (h *Handler) ListByStatus(c *gin.Context) {
	status, err := ParseStatus(c.Param("status"))
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	orders, err := h.service.ListByStatus(c.Request.Context(), status)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "", orders)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	raw := c.Query("status")
	if raw == "" {
		var req updateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(httpx.BadRequest("Invalid request body", err))
			return
		}
		raw = req.Status
	}

	status, err := ParseStatus(raw)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}

	o, err := h.service.UpdateStatus(c.Request.Context(), c.Param("orderId"), status)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "Order status updated", o)
}

func (h *Handler) Statistics(c *gin.Context) {
	counts, err := h.service.Statistics(c.Request.Context())
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "", counts)
}

func (h *Handler) Delayed(c *gin.Context) {
	minutes := defaultDelayMinutes
	if v := c.Query("minutes"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 0 {
			_ = c.Error(httpx.BadRequest("minutes must be a non-negative integer", err))
			return
		}
		minutes = m
	}

	orders, err := h.service.Delayed(c.Request.Context(), time.Duration(minutes)*time.Minute)
	if err != nil {
		_ = c.Error(toAPIError(err))
		return
	}
	httpx.OK(c, http.StatusOK, "", orders)
}

func toAPIError(err error) *httpx.APIError {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return httpx.BadRequest(verr.Error(), err)
	case errors.Is(err, ErrNotFound):
		return httpx.NotFound("Order not found", err)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusChanged):
		return httpx.Conflict(err.Error(), err)
	case errors.Is(err, ErrCacheUnavailable):
		return httpx.Unavailable("Idempotency cache unavailable, retry later", err)
	default:
		return httpx.Internal(err)
	}
}
