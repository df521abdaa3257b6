package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard admin response helpers (mirrors internal/api/handler/response.go)
// ──────────────────────────────────────────────────────────────────────────────

func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

func respondList(c *gin.Context, items interface{}, page, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"page":  page,
			"limit": limit,
		},
	})
}

// respondDomainError maps a service error to its HTTP status and code.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPositionNotFound):
		respondError(c, http.StatusNotFound, "ERR_POSITION_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		respondError(c, http.StatusNotFound, "ERR_ACCOUNT_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrTargetNotFound):
		respondError(c, http.StatusNotFound, "ERR_TARGET_NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrNoPrice):
		respondError(c, http.StatusServiceUnavailable, "ERR_NO_PRICE", err.Error())
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "ERR_CONFLICT", err.Error())
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", err.Error())
	}
}

// adminPagination reads page/limit query params with sane defaults for admin views.
func adminPagination(c *gin.Context) (page, limit int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 500 {
		limit = 50
	}
	return
}

// adminID returns the operator id stored by the admin JWT middleware.
func adminID(c *gin.Context) uuid.UUID {
	v, _ := c.Get("userID")
	id, _ := v.(uuid.UUID)
	return id
}

func parseID(c *gin.Context, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ID", "invalid "+what+" id")
		return uuid.Nil, false
	}
	return id, true
}
