package handler

import (
	"net/http"

	"github.com/evetabi/tradesim/internal/api/middleware"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/gin-gonic/gin"
)

// AccountHandler serves the caller's ledger state, audit trail, closed
// trades and daily targets.
type AccountHandler struct {
	accounts *repository.AccountRepository
	history  *repository.HistoryRepository
	targets  *service.DailyTargetService
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(
	accounts *repository.AccountRepository,
	history *repository.HistoryRepository,
	targets *service.DailyTargetService,
) *AccountHandler {
	return &AccountHandler{accounts: accounts, history: history, targets: targets}
}

// Me godoc
// GET /api/account [JWT]
func (h *AccountHandler) Me(c *gin.Context) {
	acct, err := h.accounts.GetByUserID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, acct)
}

// Operations godoc
// GET /api/account/operations?page=1&limit=20 [JWT]
func (h *AccountHandler) Operations(c *gin.Context) {
	page, limit, offset := pagination(c)
	ops, err := h.accounts.ListOperations(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, ops, page, limit)
}

// History godoc
// GET /api/history?page=1&limit=20 [JWT]
func (h *AccountHandler) History(c *gin.Context) {
	page, limit, offset := pagination(c)
	trades, err := h.history.ListByUser(c.Request.Context(), middleware.GetUserID(c), limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, trades, page, limit)
}

// Targets godoc
// GET /api/targets [JWT]
func (h *AccountHandler) Targets(c *gin.Context) {
	ts, err := h.targets.ListActiveByUser(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, ts)
}
