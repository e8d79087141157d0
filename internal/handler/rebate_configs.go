package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fidus/internal/models"
	"fidus/internal/repository"
)

type RebateConfigsHandler struct {
	Repo repository.Repository
}

func (h *RebateConfigsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/rebate-configs")
	g.GET("", h.list)
	g.POST("", h.create)
}

type createRebateConfigRequest struct {
	Broker        string          `json:"broker"`
	RatePerLot    decimal.Decimal `json:"rate_per_lot"`
	EffectiveDate string          `json:"effective_date"`
	Active        *bool           `json:"active"`
	Notes         string          `json:"notes"`
}

// @Summary List broker rebate rates
// @Tags rebates
// @Param broker query string false "broker"
// @Success 200 {object} map[string]any
// @Router /api/rebate-configs [get]
func (h *RebateConfigsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListBrokerRebateConfigs(c.Request.Context(), strings.TrimSpace(c.Query("broker")))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

// @Summary Add a broker rebate rate
// @Description Rates are versioned by effective date. The newest active rate effective on or before a period end applies to that period.
// @Tags rebates
// @Accept json
// @Param body body createRebateConfigRequest true "rate"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Router /api/rebate-configs [post]
func (h *RebateConfigsHandler) create(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var body createRebateConfigRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	body.Broker = strings.TrimSpace(body.Broker)
	if body.Broker == "" {
		Error(c, http.StatusBadRequest, "broker is required", nil)
		return
	}
	if body.RatePerLot.IsNegative() {
		Error(c, http.StatusBadRequest, "rate_per_lot must not be negative", nil)
		return
	}
	effective, ok := parseTime(body.EffectiveDate)
	if !ok {
		Error(c, http.StatusBadRequest, "effective_date must be RFC3339 or YYYY-MM-DD", nil)
		return
	}
	active := true
	if body.Active != nil {
		active = *body.Active
	}
	item := &models.BrokerRebateConfig{
		Broker:        body.Broker,
		RatePerLot:    body.RatePerLot,
		EffectiveDate: effective,
		Active:        active,
		Notes:         strings.TrimSpace(body.Notes),
	}
	if err := h.Repo.InsertBrokerRebateConfig(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}
