package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/notify"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/evetabi/tradesim/internal/ws"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// DashboardHandler serves /admin/dashboard and /admin/prices.
type DashboardHandler struct {
	positions *service.PositionService
	targets   *service.DailyTargetService
	prices    *service.PriceSource
	hub       *ws.Hub          // nil when the admin API runs standalone
	notifier  *notify.Notifier // nil when the admin API runs standalone
	cfg       *config.Config
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(
	positions *service.PositionService,
	targets *service.DailyTargetService,
	prices *service.PriceSource,
	hub *ws.Hub,
	notifier *notify.Notifier,
	cfg *config.Config,
) *DashboardHandler {
	return &DashboardHandler{
		positions: positions,
		targets:   targets,
		prices:    prices,
		hub:       hub,
		notifier:  notifier,
		cfg:       cfg,
	}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	open, err := h.positions.ListOpen(ctx, h.cfg.Engine.BatchSize)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	floating := decimal.Zero
	for _, v := range h.positions.Valuations(open) {
		floating = floating.Add(v.PnL)
	}

	targets, err := h.targets.ListActive(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	pending := decimal.Zero
	for _, t := range targets {
		pending = pending.Add(t.TargetAmount.Sub(t.PaidOut))
	}

	data := gin.H{
		"open_positions":  len(open),
		"floating_pnl":    floating,
		"active_targets":  len(targets),
		"pending_payouts": pending,
		"server_time":     time.Now().UTC(),
	}
	if h.hub != nil {
		data["ws_clients"] = h.hub.ConnectedCount()
	}
	if h.notifier != nil {
		data["notifications_dropped"] = h.notifier.Dropped()
	}
	respondSuccess(c, http.StatusOK, data)
}

// Prices godoc
// GET /admin/prices
// Last mark per symbol as seen by this process.
func (h *DashboardHandler) Prices(c *gin.Context) {
	respondSuccess(c, http.StatusOK, h.prices.Snapshot())
}
