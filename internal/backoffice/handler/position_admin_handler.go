package handler

import (
	"errors"
	"net/http"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PositionAdminHandler serves /admin/positions/*.
type PositionAdminHandler struct {
	positions *service.PositionService
	history   *repository.HistoryRepository
}

// NewPositionAdminHandler creates a PositionAdminHandler.
func NewPositionAdminHandler(positions *service.PositionService, history *repository.HistoryRepository) *PositionAdminHandler {
	return &PositionAdminHandler{positions: positions, history: history}
}

// List godoc
// GET /admin/positions?status=open&page=1&limit=50
func (h *PositionAdminHandler) List(c *gin.Context) {
	page, limit := adminPagination(c)
	status := domain.PositionStatus(c.Query("status"))

	ps, err := h.positions.List(c.Request.Context(), status, limit, (page-1)*limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, ps, page, limit)
}

// Detail godoc
// GET /admin/positions/:id
// Includes the history row once the position is closed.
func (h *PositionAdminHandler) Detail(c *gin.Context) {
	id, ok := parseID(c, "position")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	p, err := h.positions.Get(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	out := gin.H{"position": p}
	if !p.IsOpen() {
		trade, err := h.history.GetByPositionID(ctx, id)
		if err != nil && !errors.Is(err, domain.ErrPositionNotFound) {
			respondDomainError(c, err)
			return
		}
		out["history"] = trade
	}
	respondSuccess(c, http.StatusOK, out)
}

// Open godoc
// POST /admin/positions
// Body: {"user_id": "...", "symbol": "XAUUSD", "direction": "long", "size": "0.01",
//
//	"duration_seconds": 3600, "target_pnl": "25", "take_profit": "2700", "stop_loss": "2600"}
func (h *PositionAdminHandler) Open(c *gin.Context) {
	var body struct {
		UserID          uuid.UUID        `json:"user_id"   binding:"required"`
		Symbol          string           `json:"symbol"    binding:"required"`
		Direction       domain.Direction `json:"direction" binding:"required"`
		Size            decimal.Decimal  `json:"size"`
		DurationSeconds int64            `json:"duration_seconds"`
		TargetPnL       decimal.Decimal  `json:"target_pnl"`
		TakeProfit      *decimal.Decimal `json:"take_profit"`
		StopLoss        *decimal.Decimal `json:"stop_loss"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	p, err := h.positions.OpenPosition(c.Request.Context(), domain.OpenPositionRequest{
		UserID:          body.UserID,
		Symbol:          body.Symbol,
		Direction:       body.Direction,
		Size:            body.Size,
		DurationSeconds: body.DurationSeconds,
		TargetPnL:       body.TargetPnL,
		TakeProfit:      body.TakeProfit,
		StopLoss:        body.StopLoss,
	})
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, p)
}

// Close godoc
// POST /admin/positions/:id/close
// Books the position at the current mark with reason "admin".
func (h *PositionAdminHandler) Close(c *gin.Context) {
	id, ok := parseID(c, "position")
	if !ok {
		return
	}

	out, err := h.positions.ClosePosition(c.Request.Context(), id, adminID(c), domain.ReasonAdmin)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	data := gin.H{
		"position_id": id,
		"closed":      out.Applied,
		"pnl":         out.PnL,
	}
	if out.Applied {
		data["balance_after"] = out.BalanceAfter
	}
	respondSuccess(c, http.StatusOK, data)
}
