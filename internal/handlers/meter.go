package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK = "ok"

	errGetState     = "failed to load state"
	errGetReadings  = "failed to load readings"
	errGetOrders    = "failed to load orders"
	errLimitInvalid = "invalid 'limit'; expected a positive integer"
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// parseLimit reads the optional ?limit= query parameter. Zero means "use the
// service default". Returns false if the request was already answered.
func (h *Handler) parseLimit(c *gin.Context) (int, bool) {
	qs := c.Query("limit")
	if qs == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(qs)
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": errLimitInvalid})
		return 0, false
	}
	return limit, true
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Get meter state
// @Description  Latest published snapshot: measurement, quality, safety, trading totals, connection health
// @Tags         meter
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/meter/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.services.Telemetry.GetState(ctx)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetState, "meter_get_state_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      List recent readings
// @Tags         meter
// @Produce      json
// @Param        limit  query  int  false  "Max rows, newest first (default 100, cap 1000)"
// @Success      200  {object}  map[string]interface{}  "count, readings"
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/meter/readings [get]
// @Security     BearerAuth
func (h *Handler) getReadings(c *gin.Context) {
	limit, ok := h.parseLimit(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	readings, err := h.services.Telemetry.ListReadings(ctx, limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetReadings, "meter_list_readings_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":    len(readings),
		"readings": readings,
	})
}

// @Summary      List recent orders
// @Tags         meter
// @Produce      json
// @Param        limit  query  int  false  "Max rows, newest first (default 100, cap 1000)"
// @Success      200  {object}  map[string]interface{}  "count, orders"
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/meter/orders [get]
// @Security     BearerAuth
func (h *Handler) getOrders(c *gin.Context) {
	limit, ok := h.parseLimit(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	orders, err := h.services.Telemetry.ListOrders(ctx, limit)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetOrders, "meter_list_orders_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(orders),
		"orders": orders,
	})
}
