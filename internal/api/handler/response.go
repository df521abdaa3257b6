package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/evetabi/tradesim/internal/domain"
	"github.com/gin-gonic/gin"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
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
	case errors.Is(err, domain.ErrForbidden):
		respondError(c, http.StatusForbidden, "ERR_FORBIDDEN", err.Error())
	case domain.IsAuthError(err):
		respondError(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", err.Error())
	case domain.IsConflict(err):
		respondError(c, http.StatusConflict, "ERR_CONFLICT", err.Error())
	case domain.IsValidation(err):
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", "internal error")
	}
}

// pagination reads page/limit query params with sane defaults.
func pagination(c *gin.Context) (page, limit, offset int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ = strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit, (page - 1) * limit
}
