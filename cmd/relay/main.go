package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"district-relay/backend/pkg/coordinator"
	"district-relay/backend/pkg/credentialstore"
	"district-relay/backend/pkg/health"
	"district-relay/backend/pkg/logger"
	"district-relay/backend/pkg/metrics"
	"district-relay/backend/pkg/middleware"
	"district-relay/backend/pkg/registryclient"
	"district-relay/backend/pkg/teecrypto"
	"district-relay/backend/prover"
	"district-relay/backend/relay"
	"district-relay/backend/relay/workers"
)

// storeAdapter satisfies workers.SubmissionStore by projecting
// *relay.Submission rows onto workers.SubmissionRecord, keeping the workers
// package free of a direct dependency on relay's persisted row type.
type storeAdapter struct {
	store *relay.Store
}

func (a storeAdapter) GetByID(ctx context.Context, submissionID string) (*workers.SubmissionRecord, error) {
	sub, err := a.store.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	return &workers.SubmissionRecord{
		ID:                   sub.ID,
		Proof:                sub.Proof,
		PublicInputs:         sub.PublicInputs,
		VerifierDepth:        sub.VerifierDepth,
		Nullifier:            sub.Nullifier,
		EncryptedAddressBlob: sub.EncryptedAddressBlob,
		EncryptedMessageBlob: sub.EncryptedMessageBlob,
	}, nil
}

func (a storeAdapter) MarkVerified(ctx context.Context, submissionID, onChainTx string) error {
	return a.store.MarkVerified(ctx, submissionID, onChainTx)
}

func (a storeAdapter) MarkFailed(ctx context.Context, submissionID string) error {
	return a.store.MarkFailed(ctx, submissionID)
}

func (a storeAdapter) MarkDelivered(ctx context.Context, submissionID string) error {
	return a.store.MarkDelivered(ctx, submissionID)
}

const (
	onChainWorkerConcurrency = 4
	teeWorkerConcurrency     = 4
)

func main() {
	if err := logger.Initialize(logger.Config{
		Environment: os.Getenv("ENVIRONMENT"),
		Level:       os.Getenv("LOG_LEVEL"),
		Service:     "relay",
		Version:     "1.0.0",
	}); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics.Initialize(metrics.Config{ServiceName: "relay"})

	config := relay.LoadConfig()

	store, err := relay.NewStore(config.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer store.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := store.Migrate(migrateCtx); err != nil {
		cancelMigrate()
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	cancelMigrate()

	signer, err := workers.NewSigner(config.RelayerPrivateKey)
	if err != nil {
		logger.Fatal("failed to initialize relayer signer", zap.Error(err))
	}

	verifierClient, err := workers.NewEthVerifierClient(config.VerifierRPCURL, config.VerifierContract, config.ChainID, config.VerifierGasLimit)
	if err != nil {
		logger.Fatal("failed to initialize verifier client", zap.Error(err))
	}
	teeClient := workers.NewHTTPTEEClient(config.TEEWorkerURL, nil)

	adapter := storeAdapter{store: store}
	onChainWorker := workers.NewOnChainWorker(adapter, verifierClient, signer)
	teeWorker := workers.NewTEEDeliveryWorker(adapter, teeClient)
	queue := workers.NewQueue(onChainWorker, teeWorker)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	queue.Run(ctx, onChainWorkerConcurrency, teeWorkerConcurrency)

	auth := relay.BearerTokenAuthenticator{}
	api := relay.NewAPI(store, auth, config, queue)

	// C3: the district-registry client, and C2: the session credential
	// cache registration populates. Both back the registration endpoint.
	credentials, err := credentialstore.NewPostgresStore(config.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect credential store", zap.Error(err))
	}
	credMigrateCtx, cancelCredMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := credentials.Migrate(credMigrateCtx); err != nil {
		cancelCredMigrate()
		logger.Fatal("failed to run credential store migrations", zap.Error(err))
	}
	cancelCredMigrate()

	registry, err := registryclient.New(registryclient.Config{
		BaseURL:        config.RegistryBaseURL,
		AllowedHosts:   config.RegistryAllowedHosts,
		RequestsPerSec: config.RegistryRPS,
		Burst:          config.RegistryBurst,
	})
	if err != nil {
		logger.Fatal("failed to initialize registry client", zap.Error(err))
	}
	registrationAPI := relay.NewRegistrationAPI(registry, credentials, auth, config.IdentityProviderAddress)

	// C6: the submission coordinator, hosted here rather than behind a
	// separate process, running its own in-process circuit manager the same
	// way cmd/prover does.
	circuitManager := prover.NewCircuitManager(&prover.Config{
		ProvingKeyPath:   config.ProvingKeyPath,
		VerifyingKeyPath: config.VerifyingKeyPath,
	})
	circuitProgress := make(chan prover.ProgressEvent, 8)
	go func() {
		for ev := range circuitProgress {
			logger.Info("coordinator circuit init progress", zap.String("stage", ev.Stage), zap.Int("percent", ev.Percent))
		}
	}()
	if err := circuitManager.Initialize(circuitProgress); err != nil {
		logger.Fatal("failed to initialize coordinator circuit manager", zap.Error(err))
	}
	close(circuitProgress)

	keyFetcher := workers.NewHTTPTEEKeyFetcher(config.TEEWorkerURL, nil)
	encryptor := teecrypto.CoordinatorAdapter{Encryptor: teecrypto.NewEncryptor(keyFetcher)}
	submitter := relay.NewCoordinatorSubmitter(api)
	coord := coordinator.New(credentials, circuitManager, encryptor, submitter)
	sendAPI := relay.NewSendAPI(coord, auth)

	router := gin.New()
	router.Use(logger.GinLogger())
	router.Use(logger.GinRecovery())
	router.Use(middleware.Security())
	router.Use(metrics.HTTPMiddleware())

	limiter := middleware.NewRateLimiter(100, 20)
	router.Use(limiter.Middleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:5173", "http://localhost:5174", "http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	healthConfig := health.Config{
		ServiceName: "relay",
		Version:     "1.0.0",
		Checks: map[string]health.Checker{
			"database": func() health.CheckResult {
				return health.CheckResult{Status: "healthy"}
			},
		},
	}
	router.GET("/health", health.Handler(healthConfig))
	router.GET("/health/ready", health.ReadinessHandler())
	router.GET("/health/live", health.LivenessHandler())

	router.POST("/submit", api.Submit)
	router.POST("/v1/register", registrationAPI.Register)
	router.POST("/send", sendAPI.Send)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("starting relay service", zap.String("port", config.Port))
	if err := router.Run(":" + config.Port); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
