// Package agent wires the session machine and resource gate behind the local
// HTTP and websocket API used by the UI shell.
package agent

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"verichat/internal/gate"
	"verichat/internal/handler"
	"verichat/internal/hub"
	"verichat/internal/metrics"
	"verichat/internal/middleware"
	"verichat/internal/session"
)

type Deps struct {
	Machine        *session.Machine
	Gate           *gate.Gate
	Location       *gate.Location
	Hub            *hub.Hub
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	Version        string
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("verichat_agent")
	}
	if deps.Hub == nil {
		deps.Hub = hub.New()
	}
	if deps.Location == nil {
		deps.Location = gate.NewLocation("/")
	}
	origins := middleware.NewOriginMatcher(deps.AllowedOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(middleware.CORS(origins, deps.Metrics))

	health := &handler.HealthHandler{Service: "verichat-agent", Version: deps.Version}
	r.GET("/health", health.Check)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	ws := &handler.WebSocketHandler{Hub: deps.Hub, Machine: deps.Machine, Origins: origins, Logger: deps.Logger}
	r.GET("/ws", ws.Serve)

	v1 := r.Group("/v1")
	requireSession := middleware.RequireSession(deps.Machine)

	sessionHandler := &handler.SessionHandler{Machine: deps.Machine, Logger: deps.Logger}
	v1.GET("/session", sessionHandler.Get)
	v1.POST("/session/login", sessionHandler.Login)
	v1.POST("/session/logout", sessionHandler.Logout)
	v1.POST("/session/mfa", requireSession, sessionHandler.SetupMfa)
	v1.POST("/session/mfa/dismiss", requireSession, sessionHandler.DismissMfa)
	v1.DELETE("/session/mfa/dismiss", requireSession, sessionHandler.ResetMfaDismissal)
	v1.PUT("/session/username", requireSession, sessionHandler.SetUsername)
	v1.PUT("/session/avatar", requireSession, sessionHandler.SetAvatar)
	v1.PATCH("/session/user", requireSession, sessionHandler.UpdateUser)

	gateHandler := &handler.GateHandler{Gate: deps.Gate, Location: deps.Location, Logger: deps.Logger}
	v1.POST("/gate", requireSession, gateHandler.Enter)
	v1.GET("/location", gateHandler.CurrentLocation)

	xpHandler := &handler.XPHandler{Machine: deps.Machine, Logger: deps.Logger}
	v1.GET("/xp", requireSession, xpHandler.Get)
	v1.POST("/xp", requireSession, xpHandler.Award)

	return r
}
