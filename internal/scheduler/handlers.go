package scheduler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/driftlabs/mixpool/internal/amount"
)

// Handler provides HTTP endpoints for payment scheduling.
type Handler struct {
	service *Service
}

// NewHandler creates a new scheduler handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up scheduler routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.PlanPayment)
	r.GET("/payments/:id", h.GetPayment)
	r.POST("/batches", h.CreateBatch)
	r.GET("/batches/:id", h.GetBatch)
}

// PlanRequest schedules a payout. Amount is a BTC decimal string. The delay
// bounds are optional and fall back to the policy defaults.
type PlanRequest struct {
	Address         string     `json:"address" binding:"required"`
	Amount          string     `json:"amount" binding:"required"`
	Policy          PolicyType `json:"policy" binding:"required"`
	MinDelaySeconds int64      `json:"minDelaySeconds"`
	MaxDelaySeconds int64      `json:"maxDelaySeconds"`
}

// PlanPayment handles POST /v1/payments
func (h *Handler) PlanPayment(c *gin.Context) {
	var req PlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	sats, err := amount.FromBTC(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": err.Error(),
		})
		return
	}

	if req.MinDelaySeconds < 0 || req.MaxDelaySeconds < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Delay bounds must not be negative",
		})
		return
	}

	policy := Policy{
		Type:     req.Policy,
		MinDelay: time.Duration(req.MinDelaySeconds) * time.Second,
		MaxDelay: time.Duration(req.MaxDelaySeconds) * time.Second,
	}
	p, err := h.service.PlanPayment(c.Request.Context(), req.Address, sats, policy)
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownPolicy):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_policy",
				"message": "Policy must be immediate, delayed, or random_window",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be positive",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "plan_failed",
				"message": "Failed to plan payment",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"payment": p})
}

// GetPayment handles GET /v1/payments/:id
func (h *Handler) GetPayment(c *gin.Context) {
	p, err := h.service.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": p})
}

// BatchRequest optionally overrides the batch size.
type BatchRequest struct {
	BatchSize int `json:"batchSize"`
}

// CreateBatch handles POST /v1/batches
//
// The body is optional; an absent or zero batchSize uses the default.
func (h *Handler) CreateBatch(c *gin.Context) {
	var req BatchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil || req.BatchSize < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}

	b, err := h.service.CreateBatch(c.Request.Context(), req.BatchSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "batch_failed",
			"message": "Failed to create batch",
		})
		return
	}
	if b == nil {
		c.JSON(http.StatusOK, gin.H{"batch": nil, "message": "No payments queued"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"batch": b})
}

// GetBatch handles GET /v1/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	b, err := h.service.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Batch not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batch": b})
}
