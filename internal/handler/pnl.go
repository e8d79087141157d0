package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fidus/internal/repository"
)

type PnLHandler struct {
	Repo repository.Repository
}

func (h *PnLHandler) Register(r *gin.Engine) {
	r.GET("/api/pnl", h.list)
}

// @Summary True P&L for every account
// @Tags pnl
// @Success 200 {object} map[string]any
// @Router /api/pnl [get]
func (h *PnLHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListPnLRecords(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}
