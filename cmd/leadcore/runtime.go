package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/agents"
	"github.com/leadcore/intent-core/internal/ai"
	"github.com/leadcore/intent-core/internal/alert"
	"github.com/leadcore/intent-core/internal/automation"
	"github.com/leadcore/intent-core/internal/cache"
	"github.com/leadcore/intent-core/internal/config"
	"github.com/leadcore/intent-core/internal/domain"
	httpserver "github.com/leadcore/intent-core/internal/http"
	"github.com/leadcore/intent-core/internal/http/handlers"
	"github.com/leadcore/intent-core/internal/logging"
	"github.com/leadcore/intent-core/internal/mail"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/policy"
	"github.com/leadcore/intent-core/internal/queue"
	"github.com/leadcore/intent-core/internal/repository"
	"github.com/leadcore/intent-core/internal/retry"
	"github.com/leadcore/intent-core/internal/service"
	"github.com/leadcore/intent-core/internal/telemetry"
)

type runtime struct {
	consumer    queue.Consumer
	publisher   automation.Publisher
	alerter     alert.Alerter
	retryPolicy retry.Policy

	signals   *service.SignalService
	workflows *service.WorkflowService
	offers    *service.OfferService
	agents    *service.AgentService

	logger  *slog.Logger
	closers []func()
}

func buildRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, error) {
	rt := &runtime{logger: logger, retryPolicy: retry.DefaultPolicy()}
	if cfg.RetryMaxRetries > 0 {
		rt.retryPolicy.MaxRetries = cfg.RetryMaxRetries
	}
	if cfg.RetryBaseDelayMS > 0 {
		rt.retryPolicy.BaseDelay = cfg.RetryBaseDelay()
	}

	store, storeCloser := setupStore(ctx, cfg, logger)
	rt.closers = append(rt.closers, storeCloser)

	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	rt.closers = append(rt.closers, queueCloser)
	rt.consumer = consumer

	publisher, publisherCloser := setupPublisher(cfg, logger)
	rt.closers = append(rt.closers, publisherCloser)
	rt.publisher = publisher

	mailer := setupMailer(cfg, logger)
	rt.alerter = alert.NewNotifier(mailer, cfg.AlertRecipients, logging.WithModule("alert"))

	generator := ai.NewOpenRouterClient(ai.OpenRouterConfig{
		APIKey:  cfg.OpenRouterAPIKey,
		BaseURL: cfg.OpenRouterBaseURL,
		Timeout: time.Duration(cfg.OpenRouterTimeoutMS) * time.Millisecond,
		Retry:   rt.retryPolicy,
		AppName: "leadcore",
	})
	if !generator.Available() {
		logger.Info("OPENROUTER_API_KEY not configured, copy falls back to templates")
	}
	copyCache := cache.New(cache.Config{
		TTL:        time.Duration(cfg.CopyCacheTTLSeconds) * time.Second,
		MaxEntries: cfg.CopyCacheMaxEntries,
	})
	copywriter := agents.NewCopywriter(generator, copyCache, agents.CopywriterConfig{Model: cfg.CopyModel}, logging.WithModule("copywriter"))

	engine := offer.NewEngine(cfg.OfferThresholds)
	registry, err := agents.NewBuiltinRegistry(agents.Dependencies{
		Subscribers:         store,
		Engine:              engine,
		Copywriter:          copywriter,
		Mailer:              mailer,
		HighIntentThreshold: cfg.HighIntentThreshold,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}

	traces := telemetry.NewTraceStore(telemetry.DefaultTraceCapacity)
	metrics := telemetry.NewMetrics()
	invoker := agent.NewInvoker(traces, metrics, logging.WithModule("agent"))

	denylist, err := policy.NewDenylist(cfg.AgentDenylist)
	if err != nil {
		rt.Close()
		return nil, err
	}

	routes, err := workflowRoutes(cfg.WorkflowRoutes)
	if err != nil {
		rt.Close()
		return nil, err
	}

	executor := service.NewWorkflowExecutor(registry, invoker, store, rt.alerter, rt.retryPolicy, logging.WithModule("workflow-executor"))
	rt.signals = service.NewSignalService(store, producer, cfg.HighIntentThreshold, logging.WithModule("signals"))
	rt.workflows = service.NewWorkflowService(store, executor, routes, producer, logging.WithModule("workflow")).
		WithApprovalLease(2 * cfg.ServerWriteTimeout())
	rt.agents = service.NewAgentService(registry, invoker, agent.NewBatchRunner(registry, invoker, rt.alerter), denylist, traces, metrics)
	rt.offers = service.NewOfferService(store, engine, service.RecomputeConfig{
		Window:  24 * time.Hour,
		Limit:   cfg.OfferRecomputeLimit,
		Spacing: cfg.OfferRecomputeSpacing(),
	}, logging.WithModule("offers"))

	return rt, nil
}

func (rt *runtime) router(ctx context.Context, cfg config.Config) http.Handler {
	api := handlers.NewAPI(handlers.Dependencies{
		Signals:   rt.signals,
		Workflows: rt.workflows,
		Offers:    rt.offers,
		Agents:    rt.agents,
		Logger:    logging.WithModule("handlers"),
	})
	if cfg.AdminToken == "" {
		rt.logger.Warn("ADMIN_TOKEN not configured, admin endpoints are open")
	}
	return httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         logging.WithModule("http"),
		AdminToken:     cfg.AdminToken,
		AdminTimeout:   cfg.AdminRequestTimeout(),
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func workflowRoutes(overrides map[string]string) (service.Routes, error) {
	routes := service.DefaultRoutes()
	for event, workflow := range overrides {
		workflowType := domain.WorkflowType(workflow)
		if !workflowType.Valid() {
			return nil, fmt.Errorf("workflow route %s: unknown workflow %q", event, workflow)
		}
		routes[domain.LifecycleEvent(event)] = workflowType
	}
	return routes, nil
}

func setupStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.Store, func()) {
	if cfg.DatabaseURL == "" {
		logger.Info("DATABASE_URL not configured, using in-memory store")
		return repository.NewMemoryStore(), func() {}
	}

	pgStore, err := repository.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Warn("failed to initialize postgres store, fallback to memory", "error", err)
		return repository.NewMemoryStore(), func() {}
	}
	logger.Info("postgres store initialized")
	return pgStore, pgStore.Close
}

func setupQueue(ctx context.Context, cfg config.Config, logger *slog.Logger) (queue.Producer, queue.Consumer, func()) {
	var (
		baseProducer queue.Producer
		consumer     queue.Consumer
		baseCloser   = func() {}
	)
	queueLogger := logging.WithModule("queue")

	if cfg.RedisAddr == "" {
		logger.Info("REDIS_ADDR not configured, using local queue")
		local := queue.NewLocalQueue(512, cfg.QueueMaxAttempts, queueLogger)
		baseProducer = local
		consumer = local
	} else {
		streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			Stream:      cfg.RedisStream,
			DLQStream:   cfg.RedisDLQ,
			Group:       cfg.RedisGroup,
			Consumer:    cfg.RedisConsumer,
			MaxAttempts: cfg.QueueMaxAttempts,
		})
		if err != nil {
			logger.Warn("failed to initialize redis streams queue, fallback to local", "error", err)
			local := queue.NewLocalQueue(512, cfg.QueueMaxAttempts, queueLogger)
			baseProducer = local
			consumer = local
		} else {
			logger.Info("redis streams queue initialized", "stream", cfg.RedisStream)
			baseProducer = streams
			consumer = streams
			baseCloser = func() {
				if err := streams.Close(); err != nil {
					logger.Warn("failed to close redis streams queue", "error", err)
				}
			}
		}
	}

	producer := baseProducer
	batchingCloser := func() {}
	if cfg.QueueBatchingEnabled {
		batching := queue.NewBatchingProducer(ctx, baseProducer, queue.BatchingConfig{
			MaxBatchSize:       cfg.QueueBatchSize,
			FlushInterval:      time.Duration(cfg.QueueBatchFlushMS) * time.Millisecond,
			FlushTimeout:       time.Duration(cfg.QueueBatchFlushTimeoutMS) * time.Millisecond,
			QueueCapacity:      cfg.QueueBatchQueueCapacity,
			MaxInFlightBatches: cfg.QueueBatchMaxInFlight,
		})
		producer = batching
		batchingCloser = batching.Close
		logger.Info("queue batching enabled",
			"size", cfg.QueueBatchSize,
			"flush_ms", cfg.QueueBatchFlushMS,
			"queue_capacity", cfg.QueueBatchQueueCapacity,
			"max_in_flight", cfg.QueueBatchMaxInFlight,
		)
	}

	return producer, consumer, func() {
		batchingCloser()
		baseCloser()
	}
}

func setupPublisher(cfg config.Config, logger *slog.Logger) (automation.Publisher, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info("KAFKA_BROKERS not configured, automation events are logged only")
		return automation.NewLogPublisher(logging.WithModule("automation")), func() {}
	}
	publisher := automation.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	logger.Info("kafka publisher initialized", "topic", cfg.KafkaTopic)
	return publisher, func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("failed to close kafka publisher", "error", err)
		}
	}
}

func setupMailer(cfg config.Config, logger *slog.Logger) mail.Mailer {
	if cfg.MailEndpoint == "" {
		logger.Info("MAIL_ENDPOINT not configured, emails are logged only")
		return mail.NewLogMailer(logging.WithModule("mail"))
	}
	return mail.NewHTTPMailer(mail.HTTPMailerConfig{
		Endpoint: cfg.MailEndpoint,
		APIKey:   cfg.MailAPIKey,
		From:     cfg.MailFrom,
		Timeout:  time.Duration(cfg.MailTimeoutMS) * time.Millisecond,
	})
}
