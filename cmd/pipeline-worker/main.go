package main

import (
	"context"
	"crypto/tls"
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
	"github.com/redis/go-redis/v9"

	"github.com/instabids/messaging-guard/cmd/mainconfig"
	"github.com/instabids/messaging-guard/internal/analysis"
	"github.com/instabids/messaging-guard/internal/bidrecord"
	appconfig "github.com/instabids/messaging-guard/internal/config"
	"github.com/instabids/messaging-guard/internal/conversation"
	"github.com/instabids/messaging-guard/internal/extract"
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
	logger.Info("starting messaging-guard pipeline worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.NewRegistry())

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

	var worker *pipeline.Worker
	if cfg.UseMemoryQueue {
		logger.Warn("using in-memory queue; jobs are lost on restart")
		worker = pipeline.NewWorker(service, pipeline.NewMemoryQueue(0), logger, pipeline.WithWorkerCount(cfg.WorkerCount))
	} else {
		sqsQueue := pipeline.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.PipelineQueueURL)
		worker = pipeline.NewWorker(service, sqsQueue, logger, pipeline.WithWorkerCount(cfg.WorkerCount))
	}

	worker.Start(ctx)

	// Confirmed update requests flow to the bid record service through the
	// outbox deliverer, with retry backoff on transient failures.
	if cfg.BidRecordBaseURL != "" {
		client, err := bidrecord.NewClient(bidrecord.Config{
			BaseURL: cfg.BidRecordBaseURL,
			APIKey:  cfg.BidRecordAPIKey,
			Timeout: cfg.BidRecordTimeout,
		})
		if err != nil {
			logger.Error("failed to configure bid record client", "error", err)
			os.Exit(1)
		}
		deliverer := storage.NewDeliverer(outbox, bidrecord.NewOutboxHandler(client), logger).
			WithBatchSize(int32(cfg.OutboxBatchSize)).
			WithInterval(cfg.OutboxInterval).
			WithRetryPolicy(int32(cfg.OutboxMaxAttempts), cfg.OutboxBackoffBase).
			WithMetrics(pipelineMetrics)
		go deliverer.Start(ctx)
	} else {
		logger.Warn("bid record service not configured, confirmed updates stay queued")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down pipeline worker...")
	cancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("pipeline worker stopped")
	case <-time.After(30 * time.Second):
		logger.Warn("pipeline worker shutdown timed out")
	}
}
