package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/tradesim/internal/backoffice/handler"
	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/domain"
	"github.com/evetabi/tradesim/internal/notify"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/evetabi/tradesim/internal/ws"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc     *service.AuthService
	PositionSvc *service.PositionService
	TargetSvc   *service.DailyTargetService
	Ledger      *service.LedgerWriter
	PriceSrc    *service.PriceSource
	AccountRepo *repository.AccountRepository
	HistoryRepo *repository.HistoryRepository
	Hub         *ws.Hub          // optional
	Notifier    *notify.Notifier // optional
	Cfg         *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine served on BackofficePort.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	dashH := handler.NewDashboardHandler(deps.PositionSvc, deps.TargetSvc, deps.PriceSrc, deps.Hub, deps.Notifier, deps.Cfg)
	posH := handler.NewPositionAdminHandler(deps.PositionSvc, deps.HistoryRepo)
	acctH := handler.NewAccountAdminHandler(deps.AccountRepo, deps.Ledger, deps.TargetSvc)

	jwtMW := adminJWTMiddleware(deps.AuthSvc)
	operateMW := requireRole(domain.UserRole.CanOperate)
	adminMW := requireRole(domain.UserRole.IsAdmin)

	admin := r.Group("/admin")
	admin.Use(jwtMW)
	{
		admin.GET("/dashboard", dashH.Dashboard)
		admin.GET("/prices", dashH.Prices)

		// Positions
		p := admin.Group("/positions")
		{
			p.GET("", posH.List)
			p.POST("", operateMW, posH.Open)
			p.GET("/:id", posH.Detail)
			p.POST("/:id/close", operateMW, posH.Close)
		}

		// Accounts
		a := admin.Group("/accounts")
		{
			a.GET("/:id", acctH.Detail)
			a.POST("/:id/adjust", adminMW, acctH.AdjustBalance)
		}

		// Daily targets
		t := admin.Group("/targets")
		{
			t.GET("", acctH.ListTargets)
			t.POST("", adminMW, acctH.ScheduleTarget)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			abort(c, http.StatusForbidden, "ERR_IP_DENIED", "access denied: your IP is not whitelisted")
			return
		}
		c.Next()
	}
}

// ── Admin JWT middleware ──────────────────────────────────────────────────────

// adminJWTMiddleware validates a JWT and requires the caller to have a
// backoffice-capable role.
func adminJWTMiddleware(authSvc *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "unauthorized")
			return
		}

		claims, err := authSvc.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "invalid token")
			return
		}
		userID, err := claims.UserID()
		if err != nil {
			abort(c, http.StatusUnauthorized, "ERR_UNAUTHORIZED", "invalid token")
			return
		}

		if !domain.UserRole(claims.Role).CanAccessBackoffice() {
			abort(c, http.StatusForbidden, "ERR_FORBIDDEN", "insufficient permissions")
			return
		}

		c.Set("userID", userID)
		c.Set("role", domain.UserRole(claims.Role))
		c.Next()
	}
}

// requireRole restricts a route to roles accepted by allow.
func requireRole(allow func(domain.UserRole) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get("role")
		r, _ := role.(domain.UserRole)
		if !allow(r) {
			abort(c, http.StatusForbidden, "ERR_FORBIDDEN", "insufficient permissions")
			return
		}
		c.Next()
	}
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}
