package chain

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for chain data.
type Handler struct {
	source DataSource
	sim    *SimulatedSource // nil when running against a real API
}

// NewHandler creates a chain handler. Pass the simulator (or nil) so the
// dev-only mining endpoint can be exposed only when it applies.
func NewHandler(source DataSource, sim *SimulatedSource) *Handler {
	return &Handler{source: source, sim: sim}
}

// RegisterRoutes sets up chain routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/chain/height", h.GetHeight)
	r.GET("/chain/fees", h.GetFees)
	if h.sim != nil {
		r.POST("/chain/simulate/block", h.SimulateBlock)
	}
}

// GetHeight handles GET /v1/chain/height
func (h *Handler) GetHeight(c *gin.Context) {
	height, err := h.source.TipHeight(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "chain_unavailable",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"height": height})
}

// GetFees handles GET /v1/chain/fees
func (h *Handler) GetFees(c *gin.Context) {
	fees, err := h.source.FeeEstimates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "chain_unavailable",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"fees": fees})
}

// SimulateBlock handles POST /v1/chain/simulate/block (simulator only)
func (h *Handler) SimulateBlock(c *gin.Context) {
	height := h.sim.SimulateNewBlock()
	c.JSON(http.StatusOK, gin.H{"height": height})
}
