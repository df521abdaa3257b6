package handler

import (
	"net/http"

	"github.com/evetabi/tradesim/internal/api/middleware"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PositionHandler serves the caller's positions and manual closes.
type PositionHandler struct {
	positions *service.PositionService
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(positions *service.PositionService) *PositionHandler {
	return &PositionHandler{positions: positions}
}

// ListMine godoc
// GET /api/positions [JWT]
// Returns the caller's open positions with their latest valuation.
func (h *PositionHandler) ListMine(c *gin.Context) {
	userID := middleware.GetUserID(c)

	ps, err := h.positions.ListOpenByUser(c.Request.Context(), userID)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, h.positions.Valuations(ps))
}

// GetByID godoc
// GET /api/positions/:id [JWT]
func (h *PositionHandler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid position id")
		return
	}

	p, err := h.positions.Get(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	if p.UserID != middleware.GetUserID(c) {
		// do not leak other users' ids
		respondDomainError(c, domain.ErrPositionNotFound)
		return
	}
	respondSuccess(c, http.StatusOK, p)
}

// Close godoc
// POST /api/positions/:id/close [JWT]
// Closes the caller's position at the current mark. Closing twice is not an
// error; the second call reports closed=false and carries no balance_after.
func (h *PositionHandler) Close(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid position id")
		return
	}

	out, err := h.positions.ClosePosition(c.Request.Context(), id, middleware.GetUserID(c), domain.ReasonManual)
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
