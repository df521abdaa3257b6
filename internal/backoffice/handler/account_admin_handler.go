package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/tradesim/internal/repository"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountAdminHandler serves /admin/accounts/* and /admin/targets.
type AccountAdminHandler struct {
	accounts *repository.AccountRepository
	ledger   *service.LedgerWriter
	targets  *service.DailyTargetService
}

// NewAccountAdminHandler creates an AccountAdminHandler.
func NewAccountAdminHandler(
	accounts *repository.AccountRepository,
	ledger *service.LedgerWriter,
	targets *service.DailyTargetService,
) *AccountAdminHandler {
	return &AccountAdminHandler{accounts: accounts, ledger: ledger, targets: targets}
}

// Detail godoc
// GET /admin/accounts/:id
func (h *AccountAdminHandler) Detail(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	acct, err := h.accounts.GetByUserID(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	ops, err := h.accounts.ListOperations(ctx, id, 20, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"account":           acct,
		"recent_operations": ops,
	})
}

// AdjustBalance godoc
// POST /admin/accounts/:id/adjust
// Body: {"amount": "-25.50", "note": "chargeback"}
func (h *AccountAdminHandler) AdjustBalance(c *gin.Context) {
	id, ok := parseID(c, "user")
	if !ok {
		return
	}
	var body struct {
		Amount string `json:"amount" binding:"required"`
		Note   string `json:"note"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a decimal string")
		return
	}

	note := body.Note
	if note == "" {
		note = "admin balance adjustment"
	}
	op, err := h.ledger.ApplyAdjustment(c.Request.Context(), id, amount, note)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, op)
}

// ScheduleTarget godoc
// POST /admin/targets
// Body: {"user_id": "...", "amount": "100", "duration_seconds": 1800}
func (h *AccountAdminHandler) ScheduleTarget(c *gin.Context) {
	var body struct {
		UserID          uuid.UUID `json:"user_id"          binding:"required"`
		Amount          string    `json:"amount"           binding:"required"`
		DurationSeconds int64     `json:"duration_seconds" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a decimal string")
		return
	}

	t, err := h.targets.Schedule(c.Request.Context(), body.UserID, amount, time.Duration(body.DurationSeconds)*time.Second)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, t)
}

// ListTargets godoc
// GET /admin/targets
func (h *AccountAdminHandler) ListTargets(c *gin.Context) {
	ts, err := h.targets.ListActive(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, ts)
}
