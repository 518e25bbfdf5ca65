package main

import (
	"fmt"
	"os"

	"district-relay/backend/pkg/health"
	"district-relay/backend/pkg/logger"
	"district-relay/backend/pkg/metrics"
	"district-relay/backend/pkg/middleware"
	"district-relay/backend/prover"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	err := logger.Initialize(logger.Config{
		Environment: os.Getenv("ENVIRONMENT"),
		Level:       os.Getenv("LOG_LEVEL"),
		Service:     "prover",
		Version:     "1.0.0",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics.Initialize(metrics.Config{ServiceName: "prover"})

	config := prover.LoadConfig()
	api := prover.NewAPI(config)

	progress := make(chan prover.ProgressEvent, 8)
	go func() {
		for ev := range progress {
			logger.Info("circuit init progress", zap.String("stage", ev.Stage), zap.Int("percent", ev.Percent))
		}
	}()
	if err := api.Initialize(progress); err != nil {
		logger.Fatal("failed to initialize circuit manager", zap.Error(err))
	}
	close(progress)
	metrics.SetCircuitInitialized(true)

	router := gin.New()
	router.Use(logger.GinLogger())
	router.Use(logger.GinRecovery())
	router.Use(middleware.Security())
	router.Use(metrics.HTTPMiddleware())

	limiter := middleware.NewRateLimiter(50, 10) // proving is expensive, lower limit
	router.Use(limiter.Middleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:5174", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	healthConfig := health.Config{
		ServiceName: "prover",
		Version:     "1.0.0",
		Checks: map[string]health.Checker{
			"circuit": func() health.CheckResult {
				return health.CheckResult{Status: "healthy"}
			},
		},
	}
	router.GET("/health", health.Handler(healthConfig))
	router.GET("/health/ready", health.ReadinessHandler())
	router.GET("/health/live", health.LivenessHandler())

	router.POST("/proof/generate", api.GenerateProof)
	router.POST("/action-domain/build", api.BuildActionDomain)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("starting prover service", zap.String("port", config.Port))
	if err := router.Run(":" + config.Port); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
