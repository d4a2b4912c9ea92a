package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quorumkit/governance-service/internal/domain"
	"github.com/quorumkit/governance-service/pkg/logger"
)

func NewRouter(service domain.GovernanceService, logger *logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(),
		RateLimitMiddleware(100, 200),
	)

	handler := NewHandler(service, logger)

	router.GET("/health", handler.GetHealth)
	router.GET("/ready", handler.GetReadiness)

	api := router.Group("/gov")
	{
		api.POST("/proposals", handler.CreateProposal)
		api.GET("/proposals", handler.ListProposals)
		api.GET("/proposals/:id", handler.GetProposal)
		api.POST("/proposals/:id/votes", handler.CastVote)
		api.POST("/proposals/:id/queue", handler.QueueProposal)
		api.POST("/proposals/:id/cancel", handler.CancelProposal)
		api.GET("/operations/:id", handler.GetOperation)
		api.POST("/operations/:id/execute", handler.ExecuteOperation)
		api.POST("/operations/:id/cancel", handler.CancelOperation)
		api.GET("/power/:account", handler.GetPower)
	}

	router.GET("/stats", handler.GetStats)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
