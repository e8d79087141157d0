package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fidus/internal/classifier"
	"fidus/internal/client/mt5bridge"
	"fidus/internal/repository"
	"fidus/internal/service"
)

type AccountsHandler struct {
	Repo     repository.Repository
	Accounts *service.AccountService
	Sync     *service.AccountSyncService
}

func (h *AccountsHandler) Register(r *gin.Engine) {
	g := r.Group("/api/accounts")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:login", h.get)
	g.POST("/:login/deactivate", h.deactivate)
	g.GET("/:login/live", h.live)
	g.GET("/:login/deals", h.deals)
	g.GET("/:login/classification", h.classification)
	g.GET("/:login/pnl", h.pnl)
}

var accountOrder = map[string]string{
	"login":          "login",
	"broker":         "broker",
	"balance":        "balance",
	"equity":         "equity",
	"profit":         "profit",
	"last_synced_at": "last_synced_at",
}

// @Summary List accounts
// @Tags accounts
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Param active query bool false "active filter"
// @Param rebate_tracking query bool false "rebate tracking filter"
// @Param broker query string false "broker"
// @Param fund_code query string false "fund code"
// @Param order_by query string false "login|broker|balance|equity|profit|last_synced_at"
// @Param asc query bool false "ascending"
// @Success 200 {object} map[string]any
// @Router /api/accounts [get]
func (h *AccountsHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	params := repository.ListAccountsParams{
		Limit:          limit,
		Offset:         offset,
		Active:         boolQueryPtr(c, "active"),
		RebateTracking: boolQueryPtr(c, "rebate_tracking"),
		Broker:         strQueryPtr(c, "broker"),
		FundCode:       strQueryPtr(c, "fund_code"),
		OrderBy:        parseOrder(c.Query("order_by"), accountOrder),
		Asc:            boolQueryPtr(c, "asc"),
	}
	if params.OrderBy == "" {
		params.OrderBy = "login"
		params.Asc = boolPtr(true)
	}
	items, err := h.Repo.ListAccounts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	total, err := h.Repo.CountAccounts(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

// @Summary Register or update an account
// @Tags accounts
// @Accept json
// @Param body body service.RegisterAccountRequest true "account"
// @Success 200 {object} map[string]any
// @Router /api/accounts [post]
func (h *AccountsHandler) create(c *gin.Context) {
	if h.Accounts == nil {
		Error(c, http.StatusInternalServerError, "account service unavailable", nil)
		return
	}
	var req service.RegisterAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item, err := h.Accounts.Register(c.Request.Context(), req)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Get account
// @Tags accounts
// @Param login path int true "MT5 login"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/accounts/{login} [get]
func (h *AccountsHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	login, ok := loginParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid login", nil)
		return
	}
	item, err := h.Repo.GetAccountByLogin(c.Request.Context(), login)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "account not found", nil)
		return
	}
	Ok(c, item, nil)
}

// @Summary Deactivate account
// @Tags accounts
// @Param login path int true "MT5 login"
// @Success 200 {object} map[string]any
// @Router /api/accounts/{login}/deactivate [post]
func (h *AccountsHandler) deactivate(c *gin.Context) {
	if h.Accounts == nil {
		Error(c, http.StatusInternalServerError, "account service unavailable", nil)
		return
	}
	login, ok := loginParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid login", nil)
		return
	}
	item, err := h.Accounts.Deactivate(c.Request.Context(), login)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, item, nil)
}

// @Summary Live bridge snapshot (cached)
// @Tags accounts
// @Param login path int true "MT5 login"
// @Success 200 {object} map[string]any
// @Failure 502 {object} map[string]any
// @Router /api/accounts/{login}/live [get]
func (h *AccountsHandler) live(c *gin.Context) {
	if h.Accounts == nil {
		Error(c, http.StatusInternalServerError, "account service unavailable", nil)
		return
	}
	login, ok := loginParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid login", nil)
		return
	}
	info, cached, err := h.Accounts.Live(c.Request.Context(), login)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, info, map[string]any{"cached": cached})
}

// @Summary Stored deals
// @Tags accounts
// @Param login path int true "MT5 login"
// @Param type query string false "trade|balance|transfer|credit|unknown"
// @Param since query string false "RFC3339 or YYYY-MM-DD"
// @Param until query string false "RFC3339 or YYYY-MM-DD"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/accounts/{login}/deals [get]
func (h *AccountsHandler) deals(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	login, ok := loginParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid login", nil)
		return
	}
	limit := intQuery(c, "limit", 200)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListDeals(c.Request.Context(), repository.ListDealsParams{
		Login:  login,
		Type:   strQueryPtr(c, "type"),
		Since:  timeQueryPtr(c, "since"),
		Until:  timeQueryPtr(c, "until"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset, "count": len(items)})
}

type classificationResponse struct {
	Login       int64               `json:"login"`
	Since       *time.Time          `json:"since,omitempty"`
	Until       *time.Time          `json:"until,omitempty"`
	Totals      map[string]string   `json:"totals"`
	Counts      map[string]int      `json:"counts"`
	Total       int                 `json:"total"`
	Malformed   int                 `json:"malformed"`
	NeedsReview []classifiedDealDTO `json:"needs_review"`
	Entries     []classifiedDealDTO `json:"entries,omitempty"`
}

type classifiedDealDTO struct {
	Ticket       int64     `json:"ticket"`
	Bucket       string    `json:"bucket"`
	Rule         string    `json:"rule"`
	Type         string    `json:"type"`
	Amount       string    `json:"amount"`
	Comment      string    `json:"comment,omitempty"`
	Counterparty *int64    `json:"counterparty,omitempty"`
	CloseTime    time.Time `json:"close_time"`
}

// @Summary Classify stored deals
// @Tags accounts
// @Param login path int true "MT5 login"
// @Param since query string false "RFC3339 or YYYY-MM-DD"
// @Param until query string false "RFC3339 or YYYY-MM-DD"
// @Param entries query bool false "include every classified deal"
// @Success 200 {object} classificationResponse
// @Router /api/accounts/{login}/classification [get]
func (h *AccountsHandler) classification(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusInternalServerError, "sync service unavailable", nil)
		return
	}
	login, ok := loginParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid login", nil)
		return
	}
	w := mt5bridge.Window{}
	since := timeQueryPtr(c, "since")
	until := timeQueryPtr(c, "until")
	if since != nil {
		w.From = *since
	}
	if until != nil {
		w.To = *until
	}
	res, err := h.Sync.ClassifyStored(c.Request.Context(), login, w)
	if err != nil {
		Fail(c, err)
		return
	}
	resp := classificationResponse{
		Login:       login,
		Since:       since,
		Until:       until,
		Totals:      map[string]string{},
		Counts:      map[string]int{},
		Total:       res.Total,
		Malformed:   res.Malformed,
		NeedsReview: []classifiedDealDTO{},
	}
	withEntries := strings.EqualFold(c.Query("entries"), "true")
	for bucket, total := range res.Totals {
		resp.Totals[string(bucket)] = total.StringFixed(2)
		resp.Counts[string(bucket)] = res.Counts[bucket]
	}
	for _, bucket := range classifier.Buckets {
		for _, e := range res.Entries[bucket] {
			dto := classifiedDealDTO{
				Ticket:       e.Deal.Ticket,
				Bucket:       string(bucket),
				Rule:         e.Rule,
				Type:         e.Deal.Type,
				Amount:       e.Deal.Amount.String(),
				Comment:      e.Deal.Comment,
				Counterparty: e.Counterparty,
				CloseTime:    e.Deal.CloseTime,
			}
			if withEntries {
				resp.Entries = append(resp.Entries, dto)
			}
			if bucket == classifier.BucketNeedsReview {
				resp.NeedsReview = append(resp.NeedsReview, dto)
			}
		}
	}
	Ok(c, resp, nil)
}

// @Summary Latest true P&L for an account
// @Tags pnl
// @Param login path int true "MT5 login"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/accounts/{login}/pnl [get]
func (h *AccountsHandler) pnl(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	login, ok := loginParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid login", nil)
		return
	}
	item, err := h.Repo.GetPnLRecordByLogin(c.Request.Context(), login)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "pnl not computed yet", nil)
		return
	}
	Ok(c, item, nil)
}
