package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fidus/internal/rebate"
	"fidus/internal/repository"
	"fidus/internal/service"
)

type RebatesHandler struct {
	Repo       repository.Repository
	Calculator *rebate.Calculator
	Job        *service.RebateJob
}

func (h *RebatesHandler) Register(r *gin.Engine) {
	g := r.Group("/api/rebates")
	g.POST("/calculate", h.calculate)
	g.GET("", h.list)
	g.GET("/summary", h.summary)
	g.POST("/:id/status", h.setStatus)
}

type calculateRebatesRequest struct {
	Start       string  `json:"start"`
	End         string  `json:"end"`
	AccountIDs  []int64 `json:"account_ids"`
	AutoApprove bool    `json:"auto_approve"`
}

// periodEnd treats a bare date as the last instant of that day.
func periodEnd(val string) (time.Time, bool) {
	t, ok := parseTime(val)
	if !ok {
		return time.Time{}, false
	}
	if len(strings.TrimSpace(val)) == len("2006-01-02") {
		t = t.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
	return t, true
}

// @Summary Calculate rebates for a period
// @Description Without start and end the previous calendar month is used.
// @Tags rebates
// @Accept json
// @Param body body calculateRebatesRequest false "period"
// @Success 200 {object} rebate.CalculationResult
// @Failure 400 {object} map[string]any
// @Router /api/rebates/calculate [post]
func (h *RebatesHandler) calculate(c *gin.Context) {
	if h.Job == nil {
		Error(c, http.StatusInternalServerError, "rebate job unavailable", nil)
		return
	}
	var body calculateRebatesRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			Error(c, http.StatusBadRequest, "invalid body", nil)
			return
		}
	}
	var (
		res rebate.CalculationResult
		err error
	)
	if strings.TrimSpace(body.Start) == "" && strings.TrimSpace(body.End) == "" {
		res, err = h.Job.RunPreviousMonth(c.Request.Context())
	} else {
		start, okStart := parseTime(body.Start)
		end, okEnd := periodEnd(body.End)
		if !okStart || !okEnd {
			Error(c, http.StatusBadRequest, "start and end must be RFC3339 or YYYY-MM-DD", nil)
			return
		}
		res, err = h.Job.Run(c.Request.Context(), rebate.Request{
			Start:       start,
			End:         end,
			AccountIDs:  body.AccountIDs,
			AutoApprove: body.AutoApprove,
		})
	}
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, res, nil)
}

var rebateOrder = map[string]string{
	"period_start":  "period_start",
	"login":         "login",
	"volume_lots":   "volume_lots",
	"rebate_amount": "rebate_amount",
	"calculated_at": "calculated_at",
}

func (h *RebatesHandler) listParams(c *gin.Context) repository.ListRebateParams {
	return repository.ListRebateParams{
		Login:              int64QueryPtr(c, "login"),
		Broker:             strQueryPtr(c, "broker"),
		VerificationStatus: strQueryPtr(c, "status"),
		PeriodFrom:         timeQueryPtr(c, "period_from"),
		PeriodTo:           timeQueryPtr(c, "period_to"),
	}
}

// @Summary List rebate transactions
// @Tags rebates
// @Param login query int false "MT5 login"
// @Param broker query string false "broker"
// @Param status query string false "pending|approved|verified|paid"
// @Param period_from query string false "period start lower bound"
// @Param period_to query string false "period end upper bound"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param order_by query string false "period_start|login|volume_lots|rebate_amount|calculated_at"
// @Param asc query bool false "ascending"
// @Success 200 {object} map[string]any
// @Router /api/rebates [get]
func (h *RebatesHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := h.listParams(c)
	params.Limit = limit
	params.Offset = offset
	params.OrderBy = parseOrder(c.Query("order_by"), rebateOrder)
	params.Asc = boolQueryPtr(c, "asc")
	items, err := h.Repo.ListRebateTransactions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountRebateTransactions(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Rebate totals grouped by broker and status
// @Tags rebates
// @Param login query int false "MT5 login"
// @Param broker query string false "broker"
// @Param status query string false "verification status"
// @Param period_from query string false "period start lower bound"
// @Param period_to query string false "period end upper bound"
// @Success 200 {object} rebate.Summary
// @Router /api/rebates/summary [get]
func (h *RebatesHandler) summary(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListRebateTransactions(c.Request.Context(), h.listParams(c))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, rebate.Summarize(items), map[string]any{"count": len(items)})
}

type setRebateStatusRequest struct {
	Status string `json:"status"`
}

// @Summary Move a rebate transaction through its workflow
// @Tags rebates
// @Accept json
// @Param id path int true "transaction id"
// @Param body body setRebateStatusRequest true "target status"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/rebates/{id}/status [post]
func (h *RebatesHandler) setStatus(c *gin.Context) {
	if h.Calculator == nil {
		Error(c, http.StatusInternalServerError, "rebate calculator unavailable", nil)
		return
	}
	id, err := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	var body setRebateStatusRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Status) == "" {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Calculator.SetStatus(c.Request.Context(), id, strings.ToLower(strings.TrimSpace(body.Status)))
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}
