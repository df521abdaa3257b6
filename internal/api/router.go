package api

import (
	"net/http"

	"github.com/evetabi/tradesim/internal/api/handler"
	"github.com/evetabi/tradesim/internal/api/middleware"
	"github.com/evetabi/tradesim/internal/config"
	"github.com/evetabi/tradesim/internal/repository"
	"github.com/evetabi/tradesim/internal/service"
	"github.com/evetabi/tradesim/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc     *service.AuthService
	PositionSvc *service.PositionService
	TargetSvc   *service.DailyTargetService
	AccountRepo *repository.AccountRepository
	HistoryRepo *repository.HistoryRepository
	Hub         *ws.Hub
	Cfg         *config.Config
}

// SetupRouter creates and configures the user-facing Gin engine with all
// routes, middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	positionH := handler.NewPositionHandler(deps.PositionSvc)
	accountH := handler.NewAccountHandler(deps.AccountRepo, deps.HistoryRepo, deps.TargetSvc)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiters ─────────────────────────────────────────────────────────
	readRL := middleware.RateLimitMiddleware(30)
	closeRL := middleware.RateLimitMiddleware(5)

	api := r.Group("/api")
	api.Use(jwtMW, readRL)
	{
		positions := api.Group("/positions")
		{
			positions.GET("", positionH.ListMine)
			positions.GET("/:id", positionH.GetByID)
			positions.POST("/:id/close", closeRL, positionH.Close)
		}

		api.GET("/account", accountH.Me)
		api.GET("/account/operations", accountH.Operations)
		api.GET("/history", accountH.History)
		api.GET("/targets", accountH.Targets)
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// With no configured origins every origin is allowed; otherwise only the
// listed ones are echoed back.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if len(allowed) == 0 {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
