package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fidus/internal/repository"
	"fidus/internal/service"
)

type SyncHandler struct {
	Repo repository.Repository
	Sync *service.AccountSyncService
}

func (h *SyncHandler) Register(r *gin.Engine) {
	g := r.Group("/api/sync")
	g.POST("", h.syncAll)
	g.POST("/:login", h.syncOne)
	g.GET("/runs", h.runs)
}

// @Summary Sync every active account now
// @Tags sync
// @Success 200 {object} map[string]any
// @Failure 409 {object} map[string]any
// @Router /api/sync [post]
func (h *SyncHandler) syncAll(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusInternalServerError, "sync service unavailable", nil)
		return
	}
	res, err := h.Sync.SyncAll(c.Request.Context())
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, res, nil)
}

// @Summary Sync one account now
// @Tags sync
// @Param login path int true "MT5 login"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]any
// @Router /api/sync/{login} [post]
func (h *SyncHandler) syncOne(c *gin.Context) {
	if h.Sync == nil {
		Error(c, http.StatusInternalServerError, "sync service unavailable", nil)
		return
	}
	login, ok := loginParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid login", nil)
		return
	}
	out, err := h.Sync.SyncAccount(c.Request.Context(), login)
	if err != nil {
		Fail(c, err)
		return
	}
	Ok(c, out, nil)
}

// @Summary Recent batch runs
// @Tags sync
// @Param kind query string false "account_sync|rebate_calc"
// @Param limit query int false "limit"
// @Param offset query int false "offset"
// @Success 200 {object} map[string]any
// @Router /api/sync/runs [get]
func (h *SyncHandler) runs(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 20)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListSyncRuns(c.Request.Context(), repository.ListSyncRunsParams{
		Kind:   strQueryPtr(c, "kind"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"limit": limit, "offset": offset, "count": len(items)})
}
