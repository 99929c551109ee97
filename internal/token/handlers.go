package token

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for address tokens.
type Handler struct {
	service *Service
}

// NewHandler creates a new token handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up token routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/tokens", h.EmitToken)
	r.GET("/tokens/:id", h.GetToken)
	r.POST("/tokens/resolve", h.ResolveAddress)
	r.POST("/tokens/sweep", h.Sweep)
}

// EmitRequest selects the namespace purpose for a new token. A policy may
// be supplied to override the purpose's default.
type EmitRequest struct {
	Purpose Purpose           `json:"purpose" binding:"required"`
	Policy  *ExpirationPolicy `json:"policy,omitempty"`
}

// EmitToken handles POST /v1/tokens
func (h *Handler) EmitToken(c *gin.Context) {
	var req EmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	var t *AddressToken
	var err error
	if req.Policy != nil {
		t, err = h.service.EmitWithPolicy(c.Request.Context(), req.Purpose, *req.Policy)
	} else {
		t, err = h.service.Emit(c.Request.Context(), req.Purpose)
	}
	if err != nil {
		if errors.Is(err, ErrUnknownPurpose) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "unknown_purpose",
				"message": "Purpose must be deposit, withdrawal, or internal",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "emit_failed",
			"message": "Failed to emit token",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"token": t})
}

// GetToken handles GET /v1/tokens/:id
func (h *Handler) GetToken(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Token not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": t})
}

// ResolveRequest carries the address being looked up.
type ResolveRequest struct {
	Address string `json:"address" binding:"required"`
}

// ResolveAddress handles POST /v1/tokens/resolve
//
// A miss returns 404 with no hint of whether the address ever existed.
func (h *Handler) ResolveAddress(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	t, ok, err := h.service.Resolve(c.Request.Context(), req.Address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "resolve_failed",
			"message": "Failed to resolve address",
		})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Address does not resolve",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": t})
}

// Sweep handles POST /v1/tokens/sweep
func (h *Handler) Sweep(c *gin.Context) {
	expired, err := h.service.SweepExpired(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "sweep_failed",
			"message": "Failed to sweep expired tokens",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"expired": expired})
}
