// Command socd is the orchestrator composition root: it wires config,
// storage, the LLM router, and the autonomy/audit subsystems into one
// process exposing /healthz and /metrics (spec §5's "orchestrator"
// service, the one with the fullest dependency set in
// pkg/ops.ServiceDependencies).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aluskort/soc-core/db"
	"github.com/aluskort/soc-core/internal/config"
	"github.com/aluskort/soc-core/pkg/audit"
	"github.com/aluskort/soc-core/pkg/audit/evidence"
	"github.com/aluskort/soc-core/pkg/autonomy"
	"github.com/aluskort/soc-core/pkg/detection"
	"github.com/aluskort/soc-core/pkg/llm"
	llmclient "github.com/aluskort/soc-core/pkg/llm/client"
	"github.com/aluskort/soc-core/pkg/llm/worker"
	"github.com/aluskort/soc-core/pkg/migration"
	"github.com/aluskort/soc-core/pkg/notify"
	"github.com/aluskort/soc-core/pkg/ops"
	"github.com/aluskort/soc-core/pkg/queue"
	"github.com/aluskort/soc-core/pkg/storage/cache"
	"github.com/aluskort/soc-core/pkg/storage/graph"
	"github.com/aluskort/soc-core/pkg/storage/postgres"
	"github.com/aluskort/soc-core/pkg/storage/vector"
)

const serviceName = "orchestrator"

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to the service config file")
	runEmbeddingMigration := flag.Bool("run-embedding-migration", false, "run the embedding backfill job to completion and exit, instead of starting the orchestrator")
	flag.Parse()

	logLevel := zap.NewAtomicLevel()
	logger, err := newLogger(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, *runEmbeddingMigration, logger, logLevel); err != nil {
		logger.Fatal("service exited with error", zap.Error(err))
	}
}

func newLogger(level zap.AtomicLevel) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	return cfg.Build()
}

func run(configPath string, runEmbeddingMigration bool, logger *zap.Logger, logLevel zap.AtomicLevel) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(logLevel, cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgPool, err := postgres.Open(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres: %w", err)
	}
	defer pgPool.Close()

	if err := db.Migrate(pgPool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
	})
	defer redisClient.Close()

	if err := config.Watch(ctx, configPath, logger, func(reloaded *config.Config) {
		applyLogLevel(logLevel, reloaded.Logging.Level)
	}); err != nil {
		logger.Warn("config hot-reload watcher disabled", zap.Error(err))
	}

	registerer := prometheus.DefaultRegisterer
	for _, c := range llm.Collectors() {
		registerer.MustRegister(c)
	}

	health, router := wireRouter(cfg)
	notifier := notify.NewNotifier(os.Getenv("SLACK_BOT_TOKEN"), os.Getenv("SLACK_CHANNEL"), logger)
	health.SetOnTrip(func(p llm.Provider) {
		notifier.BreakerTripped(ctx, string(p))
	})

	anthropicProvider, bedrockProvider, rawBedrock, err := wireProviders(ctx, cfg, health)
	if err != nil {
		logger.Warn("bedrock fallback provider unavailable, anthropic-only", zap.Error(err))
	}
	providers := worker.Providers{llm.ProviderAnthropic: anthropicProvider}
	if bedrockProvider != nil {
		providers[llm.ProviderBedrock] = bedrockProvider
	}
	concurrency := llm.NewConcurrencyController(convertPriorityLimits(cfg.Concurrency.PriorityLimits), cfg.Concurrency.TenantQuotas)
	routingMetrics := llm.NewRoutingMetrics()

	for _, c := range audit.Collectors() {
		registerer.MustRegister(c)
	}

	escalation := llm.NewEscalationManager(llm.DefaultEscalationPolicy)

	killSwitch := autonomy.NewKillSwitchManager(pgPool, logger)
	chains := audit.NewChainStateManager(pgPool, logger)
	writer := audit.NewWriter(chains, pgPool, logger)

	rollout := autonomy.NewRolloutManager(killSwitch, writer, logger)
	rollout.SetNotifier(notifier)

	constraintPolicy, err := autonomy.NewConstraintPolicy(ctx, autonomy.DefaultConstraintModule, logger)
	if err != nil {
		return fmt.Errorf("compile autonomy constraint policy: %w", err)
	}
	if result, err := constraintPolicy.Evaluate(ctx, autonomy.PolicyInput{}); err != nil {
		logger.Warn("autonomy constraint policy self-check failed", zap.Error(err))
	} else {
		logger.Info("autonomy constraint policy loaded", zap.Bool("baseline_allow", result.Allow))
	}

	s3Client := buildS3Client(ctx, cfg, logger)

	offsetLookup := queue.NewOffsetLookup(redisClient)
	verificationScheduler := audit.NewScheduler(pgPool, offsetLookup, audit.NewPrometheusMetrics(), logger)

	retention := audit.NewRetentionLifecycle(pgPool, s3Client, cfg.Audit.ColdBucket, cfg.Tenancy.LegalHold, cfg.Audit.WarmRetentionMonths, logger)
	if _, err := retention.CreateNextPartitions(ctx, 3); err != nil {
		logger.Warn("initial partition pre-creation failed", zap.Error(err))
	}

	evidenceStore := evidence.NewStore(s3Client, cfg.Audit.EvidenceBucket, logger)
	evidenceBuilder := evidence.NewBuilder(pgPool, evidenceStore)

	executor := worker.NewExecutor(router, health, concurrency, routingMetrics, providers, escalation, evidenceStore, logger)

	vectorStore := vector.New(pgPool)
	checkpoints := postgres.NewCheckpointRepository(pgPool)
	if runEmbeddingMigration {
		if err := runEmbeddingBackfill(ctx, cfg, vectorStore, checkpoints, rawBedrock, logger); err != nil {
			return fmt.Errorf("embedding migration: %w", err)
		}
		return nil
	}

	graphClient, closeGraph := buildGraphClient(ctx, cfg, logger)
	if closeGraph != nil {
		defer closeGraph()
	}
	var consequenceClient detection.ConsequenceClient
	if graphClient != nil {
		consequenceClient = graphClient
	}

	cacheClient := cache.New(redisClient, logger)

	producer := queue.NewProducer(redisClient, logger)
	alertPublisher := queue.NewAlertPublisher(producer)
	detectionRunner := detection.NewRunner(nil, postgres.NewQueryAdapter(pgPool), alertPublisher, writer, consequenceClient, logger)

	jobConsumer := queue.NewConsumer(redisClient, logger, "llm-workers", hostname())
	for _, topic := range []string{
		"jobs.llm.priority.critical", "jobs.llm.priority.high",
		"jobs.llm.priority.normal", "jobs.llm.priority.low",
	} {
		topic := topic
		go func() {
			if err := jobConsumer.Run(ctx, producer, topic, executor.HandleJob); err != nil {
				logger.Error("llm job consumer stopped", zap.String("topic", topic), zap.Error(err))
			}
		}()
	}

	checker := ops.NewHealthCheck(serviceName, version, map[string]ops.Checker{
		"postgres": pingPostgres(pgPool),
		"redis":    pingRedis(redisClient),
		"queue":    pingRedis(redisClient),
		"vector":   pingPostgres(pgPool),
		"cache":    pingCache(cacheClient),
	})

	srv := buildHTTPServer(cfg, checker, evidenceBuilder)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("orchestrator listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	detectionTicker := time.NewTicker(time.Minute)
	defer detectionTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-detectionTicker.C:
				detectionRunner.RunDue(ctx, now)
			}
		}
	}()

	verificationTicker := time.NewTicker(5 * time.Minute)
	defer verificationTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-verificationTicker.C:
				if _, err := verificationScheduler.RunContinuousCheck(ctx); err != nil {
					logger.Warn("continuous chain verification failed", zap.Error(err))
				}
			}
		}
	}()

	retentionTicker := time.NewTicker(24 * time.Hour)
	defer retentionTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-retentionTicker.C:
				summary, err := retention.RunMonthlyExport(ctx, now)
				if err != nil {
					logger.Warn("monthly retention export failed", zap.Error(err))
					continue
				}
				if summary.PartitionName == "" {
					continue
				}
				dropped, err := retention.DropOldPartition(ctx, summary.PartitionName, summary.Verified, cfg.Audit.BufferMonths)
				if err != nil {
					logger.Warn("warm partition drop failed", zap.String("partition", summary.PartitionName), zap.Error(err))
				} else if dropped {
					logger.Info("dropped exported warm partition", zap.String("partition", summary.PartitionName))
				}
			}
		}
	}()

	partitionTicker := time.NewTicker(30 * 24 * time.Hour)
	defer partitionTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-partitionTicker.C:
				created, err := retention.CreateNextPartitions(ctx, 3)
				if err != nil {
					logger.Warn("partition pre-creation failed", zap.Error(err))
				} else {
					logger.Info("pre-created upcoming audit_records partitions", zap.Strings("partitions", created))
				}
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func applyLogLevel(logLevel zap.AtomicLevel, level string) {
	if level == "" {
		return
	}
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return
	}
}

// wireRouter seeds the model registry from config and wraps it with a
// HealthRegistry fed by the Anthropic/Bedrock provider clients.
func wireRouter(cfg *config.Config) (*llm.HealthRegistry, *llm.Router) {
	registry := make(map[llm.ModelTier]llm.ModelConfig, len(cfg.LLM.Tiers))
	for tier, m := range cfg.LLM.Tiers {
		registry[llm.ModelTier(tier)] = llm.ModelConfig{
			Provider:              llm.Provider(m.Provider),
			ModelID:               m.ModelID,
			MaxContextTokens:      m.MaxContextTokens,
			CostPerMTokInput:      m.CostPerMTokInput,
			CostPerMTokOutput:     m.CostPerMTokOutput,
			SupportsExtendedThink: m.SupportsExtendedThink,
			SupportsToolUse:       m.SupportsToolUse,
			SupportsPromptCaching: m.SupportsPromptCaching,
			BatchEligible:         m.BatchEligible,
		}
	}

	breakerCfg := cfg.Breakers["default"]
	failureThreshold := breakerCfg.FailureThreshold
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	recoveryTimeout := breakerCfg.RecoveryTimeoutSeconds
	if recoveryTimeout == 0 {
		recoveryTimeout = 30 * time.Second
	}
	health := llm.NewHealthRegistry(failureThreshold, recoveryTimeout)

	router := llm.NewRouter(registry, nil)
	return health, router
}

// wireProviders constructs the guarded Anthropic/Bedrock clients. Kept
// separate from wireRouter so a deployment can run the router without
// live provider credentials (e.g. in a batch-only mode).
func wireProviders(ctx context.Context, cfg *config.Config, health *llm.HealthRegistry) (*llmclient.BreakerGuarded, *llmclient.BreakerGuarded, *llmclient.BedrockProvider, error) {
	anthropic := llmclient.NewAnthropicProvider(cfg.LLM.AnthropicAPIKey)
	anthropicGuarded := llmclient.NewBreakerGuarded(llm.ProviderAnthropic, anthropic, health)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.LLM.BedrockRegion))
	if err != nil {
		return anthropicGuarded, nil, nil, fmt.Errorf("load aws config: %w", err)
	}
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	bedrock := llmclient.NewBedrockProvider(bedrockClient)
	bedrockGuarded := llmclient.NewBreakerGuarded(llm.ProviderBedrock, bedrock, health)

	return anthropicGuarded, bedrockGuarded, bedrock, nil
}

// buildS3Client constructs the S3 client shared by the evidence store and
// the retention lifecycle's warm-to-cold export. Returns nil (not a
// fatal error) when AWS credentials aren't resolvable, so a deployment
// without evidence/retention storage configured still starts.
func buildS3Client(ctx context.Context, cfg *config.Config, logger *zap.Logger) *s3.Client {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Warn("s3 client disabled: failed to load aws config", zap.Error(err))
		return nil
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.S3Endpoint)
		}
	})
}

func buildGraphClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*graph.Client, func()) {
	if cfg.Storage.Neo4jURI == "" {
		return nil, nil
	}
	driver, err := neo4j.NewDriverWithContext(cfg.Storage.Neo4jURI,
		neo4j.BasicAuth(cfg.Storage.Neo4jUser, cfg.Storage.Neo4jPassword, ""))
	if err != nil {
		logger.Warn("graph store disabled: failed to create neo4j driver", zap.Error(err))
		return nil, nil
	}
	return graph.New(driver, "neo4j", logger), func() { driver.Close(ctx) }
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "socd-worker"
	}
	return h
}

func convertPriorityLimits(in map[string]config.PriorityLimit) map[string]llm.PriorityLimit {
	if in == nil {
		return nil
	}
	out := make(map[string]llm.PriorityLimit, len(in))
	for k, v := range in {
		out[k] = llm.PriorityLimit{MaxConcurrent: v.MaxConcurrent, MaxRPM: v.MaxRPM}
	}
	return out
}

func pingPostgres(pinger interface{ PingContext(context.Context) error }) ops.Checker {
	return func(ctx context.Context) ops.DependencyStatus {
		start := time.Now()
		err := pinger.PingContext(ctx)
		status := ops.DependencyStatus{Name: "postgres", CheckedAt: time.Now(), LatencyMs: float64(time.Since(start).Milliseconds())}
		if err != nil {
			status.Error = err.Error()
			return status
		}
		status.Healthy = true
		return status
	}
}

func pingRedis(rdb *redis.Client) ops.Checker {
	return func(ctx context.Context) ops.DependencyStatus {
		start := time.Now()
		err := rdb.Ping(ctx).Err()
		status := ops.DependencyStatus{Name: "redis", CheckedAt: time.Now(), LatencyMs: float64(time.Since(start).Milliseconds())}
		if err != nil {
			status.Error = err.Error()
			return status
		}
		status.Healthy = true
		return status
	}
}

func pingCache(c *cache.Client) ops.Checker {
	return func(ctx context.Context) ops.DependencyStatus {
		start := time.Now()
		healthy := c.HealthCheck(ctx)
		status := ops.DependencyStatus{Name: "cache", CheckedAt: time.Now(), LatencyMs: float64(time.Since(start).Milliseconds()), Healthy: healthy}
		if !healthy {
			status.Error = "cache health check failed"
		}
		return status
	}
}

// runEmbeddingBackfill runs the re-embedding migration job (spec §4.13) to
// completion using the Bedrock Titan embedding model and exits; it never
// starts the orchestrator's HTTP/consumer surface.
func runEmbeddingBackfill(ctx context.Context, cfg *config.Config, vectorStore *vector.Store, checkpoints *postgres.CheckpointRepository, bedrock *llmclient.BedrockProvider, logger *zap.Logger) error {
	if bedrock == nil {
		return fmt.Errorf("bedrock provider unavailable, cannot embed")
	}
	embedFn := func(ctx context.Context, payload map[string]interface{}) ([]float32, error) {
		text, _ := payload["text"].(string)
		return bedrock.EmbedText(ctx, cfg.Embedding.NewModel, text)
	}

	job := migration.NewJob(vectorStore, checkpoints, embedFn, cfg.Embedding.OldModel, cfg.Embedding.NewModel, cfg.Embedding.Collection, logger)
	summary, err := job.Run(ctx, "")
	if err != nil {
		return err
	}
	logger.Info("embedding backfill finished",
		zap.String("status", summary.Status),
		zap.Int("points_migrated", summary.PointsMigrated),
		zap.String("last_point_id", summary.LastPointID))
	return nil
}

func buildHTTPServer(cfg *config.Config, checker *ops.HealthCheck, evidenceBuilder *evidence.Builder) *http.Server {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		resp := checker.Liveness()
		w.WriteHeader(resp.Status.HTTPStatusCode())
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		resp := checker.Readiness(req.Context())
		w.WriteHeader(resp.Status.HTTPStatusCode())
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/investigations/{investigationID}/evidence", func(w http.ResponseWriter, req *http.Request) {
		investigationID := chi.URLParam(req, "investigationID")
		tenantID := req.URL.Query().Get("tenant_id")
		if tenantID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		pkg, err := evidenceBuilder.BuildPackage(req.Context(), investigationID, tenantID)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pkg)
	})

	return &http.Server{
		Addr:         ":" + cfg.Server.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
