package pool

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/driftlabs/mixpool/internal/amount"
)

// Handler provides HTTP endpoints for the liquidity pool.
type Handler struct {
	service *Service
}

// NewHandler creates a new pool handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up pool routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/pool/reservations", h.CreateReservation)
	r.GET("/pool/obligations/:id", h.GetObligation)
	r.POST("/pool/obligations/:id/fulfill", h.FulfillObligation)
	r.POST("/pool/obligations/:id/expire", h.ExpireObligation)
	r.GET("/pool/reserve", h.GetReserve)
	r.GET("/pool/health", h.GetHealth)
}

// ReserveRequest carries a reservation amount as a BTC decimal string.
type ReserveRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// CreateReservation handles POST /v1/pool/reservations
func (h *Handler) CreateReservation(c *gin.Context) {
	var req ReserveRequest
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

	ob, err := h.service.Reserve(c.Request.Context(), sats)
	if err != nil {
		switch {
		case errors.Is(err, ErrInsufficientLiquidity):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "insufficient_liquidity",
				"message": "Available balance cannot cover the requested amount",
			})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_amount",
				"message": "Amount must be positive",
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "reservation_failed",
				"message": "Failed to reserve liquidity",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"obligation": ob,
		"amountBtc":  amount.ToBTC(ob.Amount),
	})
}

// GetObligation handles GET /v1/pool/obligations/:id
func (h *Handler) GetObligation(c *gin.Context) {
	ob, err := h.service.store.FindObligation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Obligation not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"obligation": ob,
		"amountBtc":  amount.ToBTC(ob.Amount),
	})
}

// FulfillObligation handles POST /v1/pool/obligations/:id/fulfill
func (h *Handler) FulfillObligation(c *gin.Context) {
	h.release(c, h.service.Fulfill)
}

// ExpireObligation handles POST /v1/pool/obligations/:id/expire
func (h *Handler) ExpireObligation(c *gin.Context) {
	h.release(c, h.service.Expire)
}

func (h *Handler) release(c *gin.Context, op func(ctx context.Context, id string) (bool, error)) {
	id := c.Param("id")

	done, err := op(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "release_failed",
			"message": err.Error(),
		})
		return
	}
	if !done {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_releasable",
			"message": "Obligation is missing or already resolved",
		})
		return
	}

	ob, err := h.service.store.FindObligation(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"obligation": ob})
}

// GetReserve handles GET /v1/pool/reserve
func (h *Handler) GetReserve(c *gin.Context) {
	reserve, err := h.service.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reserve":      reserve,
		"totalBtc":     amount.ToBTC(reserve.TotalAmount),
		"availableBtc": amount.ToBTC(reserve.AvailableAmount),
		"reservedBtc":  amount.ToBTC(reserve.ReservedAmount),
	})
}

// GetHealth handles GET /v1/pool/health
func (h *Handler) GetHealth(c *gin.Context) {
	health, err := h.service.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"health": health})
}
