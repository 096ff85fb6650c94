package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"verichat/internal/auth"
	"verichat/internal/handler"
	"verichat/internal/metrics"
	"verichat/internal/middleware"
)

type Deps struct {
	Signer             *auth.Signer
	Publisher          *auth.Publisher
	AllowedOrigins     []string
	AssertionRateLimit int
	Metrics            *metrics.Metrics
	Logger             *zap.Logger
	Version            string
}

func NewRouter(deps Deps) *gin.Engine {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("verichat_backend")
	}
	if deps.AssertionRateLimit <= 0 {
		deps.AssertionRateLimit = 60
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(deps.Logger, deps.Metrics))
	r.Use(middleware.CORS(middleware.NewOriginMatcher(deps.AllowedOrigins), deps.Metrics))

	health := &handler.HealthHandler{Service: "verichat-backend", Version: deps.Version}
	r.GET("/health", health.Check)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	keysHandler := &handler.KeysHandler{
		Signer:    deps.Signer,
		Publisher: deps.Publisher,
		Metrics:   deps.Metrics,
		Logger:    deps.Logger,
	}
	r.GET("/.well-known/jwks.json", keysHandler.JWKS)

	assertionLimiter := middleware.NewRateLimiter(deps.AssertionRateLimit, time.Minute)
	r.GET("/api/generate-jwt", middleware.RateLimitMiddleware(assertionLimiter, middleware.ByClientIP, deps.Metrics), keysHandler.GenerateJWT)

	return r
}
