package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	statusTradingEnabled  = "trading_enabled"
	statusTradingDisabled = "trading_disabled"
)

// Respond with a status and include the current snapshot if available (best-effort).
func (h *Handler) respondWithStatusAndState(c *gin.Context, status string) {
	ctx := c.Request.Context()
	resp := gin.H{"status": status}
	st, err := h.services.Telemetry.GetState(ctx)
	if err == nil {
		resp["state"] = st
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary      Enable automatic trading
// @Description  Takes effect on the next trading evaluation; outstanding orders are unaffected
// @Tags         trading
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, state"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/trading/enable [post]
// @Security     BearerAuth
func (h *Handler) enableTrading(c *gin.Context) {
	h.services.Trading.SetEnabled(true)
	if h.log != nil {
		h.log.Infow("trading_enabled_via_api")
	}
	h.respondWithStatusAndState(c, statusTradingEnabled)
}

// @Summary      Disable automatic trading
// @Description  No new orders are created; outstanding orders still expire and settle normally
// @Tags         trading
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, state"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/trading/disable [post]
// @Security     BearerAuth
func (h *Handler) disableTrading(c *gin.Context) {
	h.services.Trading.SetEnabled(false)
	if h.log != nil {
		h.log.Infow("trading_disabled_via_api")
	}
	h.respondWithStatusAndState(c, statusTradingDisabled)
}
