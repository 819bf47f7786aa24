package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/instabids/messaging-guard/cmd/mainconfig"
	"github.com/instabids/messaging-guard/internal/analysis"
	"github.com/instabids/messaging-guard/internal/api/router"
	appconfig "github.com/instabids/messaging-guard/internal/config"
	"github.com/instabids/messaging-guard/internal/conversation"
	"github.com/instabids/messaging-guard/internal/extract"
	"github.com/instabids/messaging-guard/internal/http/handlers"
	"github.com/instabids/messaging-guard/internal/llm"
	"github.com/instabids/messaging-guard/internal/observability/metrics"
	"github.com/instabids/messaging-guard/internal/pipeline"
	"github.com/instabids/messaging-guard/internal/scope"
	"github.com/instabids/messaging-guard/internal/storage"
	"github.com/instabids/messaging-guard/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting messaging-guard API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	var analysisClient llm.AnalysisClient
	switch cfg.AnalysisProvider {
	case "bedrock":
		client, err := llm.NewBedrockAnalysisClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		if err != nil {
			logger.Error("failed to configure bedrock analysis", "error", err)
			os.Exit(1)
		}
		analysisClient = client
	case "openai":
		client, err := llm.NewOpenAIAnalysisClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			logger.Error("failed to configure openai analysis", "error", err)
			os.Exit(1)
		}
		analysisClient = client
	default:
		logger.Warn("no analysis provider configured, running pattern layers only")
	}

	var imageExtractor extract.ImageTextExtractor
	var pdfExtractor extract.PDFTextExtractor
	if cfg.BedrockModelID != "" {
		bedrockExtractor, err := extract.NewBedrockExtractor(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		if err != nil {
			logger.Error("failed to configure bedrock extractor", "error", err)
			os.Exit(1)
		}
		imageExtractor = bedrockExtractor
		pdfExtractor = bedrockExtractor
	}

	var fetcher extract.AttachmentFetcher
	if cfg.AttachmentBucket != "" {
		fetcher, err = extract.NewS3Fetcher(s3.NewFromConfig(awsCfg), cfg.AttachmentBucket)
		if err != nil {
			logger.Error("failed to configure attachment fetcher", "error", err)
			os.Exit(1)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	store := storage.NewStore(pool)
	outbox := storage.NewUpdateOutbox(pool)
	contexts := conversation.NewContextStore(redisClient)

	extractor := extract.NewExtractor(imageExtractor, pdfExtractor, fetcher, cfg.ExtractionMaxBytes, logger)
	classifier := analysis.NewClassifier(analysisClient, analysis.Thresholds{
		Redact: cfg.RedactThreshold,
		Block:  cfg.BlockThreshold,
	}, logger)
	detector := scope.NewDetector(analysisClient, logger)

	service := pipeline.NewService(extractor, classifier, detector, store, outbox, contexts, pipelineMetrics, logger, pipeline.Options{
		ScopeMinConfidence: cfg.ScopeMinConfidence,
		AnalysisTimeout:    cfg.AnalysisTimeout,
		ContextWindow:      cfg.ContextWindow,
	})

	var pub *pipeline.Publisher
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory queue; async jobs are lost on restart")
		pub = pipeline.NewPublisher(pipeline.NewMemoryQueue(0), logger)
	} else if cfg.PipelineQueueURL != "" {
		pub = pipeline.NewPublisher(pipeline.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.PipelineQueueURL), logger)
	}

	messagesHandler := handlers.NewMessagesHandler(service, pub, logger)
	conversationsHandler := handlers.NewConversationsHandler(store, service, contexts, logger)

	r := router.New(&router.Config{
		Logger:               logger,
		MessagesHandler:      messagesHandler,
		ConversationsHandler: conversationsHandler,
		MetricsHandler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		AdminAuthSecret:      cfg.AdminJWTSecret,
		CORSAllowedOrigins:   nil,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
