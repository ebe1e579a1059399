// Command leadcore-bench drives the HTTP API in-process and reports latency
// percentiles per scenario against the latency objectives.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/agents"
	"github.com/leadcore/intent-core/internal/alert"
	"github.com/leadcore/intent-core/internal/automation"
	"github.com/leadcore/intent-core/internal/domain"
	httpserver "github.com/leadcore/intent-core/internal/http"
	"github.com/leadcore/intent-core/internal/http/handlers"
	"github.com/leadcore/intent-core/internal/mail"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/queue"
	"github.com/leadcore/intent-core/internal/repository"
	"github.com/leadcore/intent-core/internal/retry"
	"github.com/leadcore/intent-core/internal/service"
	"github.com/leadcore/intent-core/internal/telemetry"
	"github.com/leadcore/intent-core/internal/worker"
)

const benchSubscribers = 64

type scenarioResult struct {
	Name          string   `json:"name"`
	Total         int      `json:"total"`
	Success       int      `json:"success"`
	Errors        int      `json:"errors"`
	P50MS         float64  `json:"p50_ms"`
	P95MS         float64  `json:"p95_ms"`
	P99MS         float64  `json:"p99_ms"`
	MaxMS         float64  `json:"max_ms"`
	ThroughputRPS float64  `json:"throughput_rps"`
	ErrorSamples  []string `json:"error_samples,omitempty"`
}

type runResult struct {
	GeneratedAtUTC string           `json:"generated_at_utc"`
	Environment    string           `json:"environment"`
	Results        []scenarioResult `json:"results"`
	HighIntent     int              `json:"high_intent_events"`
	SLOEvaluation  map[string]bool  `json:"slo_evaluation"`
}

type benchEnv struct {
	server    *httptest.Server
	publisher *automation.LogPublisher
	signals   *service.SignalService
	cancel    context.CancelFunc
}

func main() {
	cmd := &cli.Command{
		Name:  "leadcore-bench",
		Usage: "Benchmark signal ingestion, next-step reads, offer recommendations and workflow routing",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "signals-total", Value: 2000, Usage: "total signal requests"},
			&cli.IntFlag{Name: "signals-concurrency", Value: 32, Usage: "concurrency for signal requests"},
			&cli.IntFlag{Name: "next-step-total", Value: 1000, Usage: "total next-step requests"},
			&cli.IntFlag{Name: "next-step-concurrency", Value: 24, Usage: "concurrency for next-step requests"},
			&cli.IntFlag{Name: "offers-total", Value: 1000, Usage: "total offer recommendation requests"},
			&cli.IntFlag{Name: "offers-concurrency", Value: 24, Usage: "concurrency for offer recommendation requests"},
			&cli.IntFlag{Name: "route-total", Value: 500, Usage: "total workflow route requests"},
			&cli.IntFlag{Name: "route-concurrency", Value: 16, Usage: "concurrency for workflow route requests"},
			&cli.StringFlag{Name: "output", Usage: "optional path to persist benchmark results JSON"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			env, err := startBenchEnvironment(ctx)
			if err != nil {
				return fmt.Errorf("start local benchmark environment: %w", err)
			}
			defer env.cancel()
			defer env.server.Close()

			client := &http.Client{Timeout: 10 * time.Second}
			signalTypes := []string{service.SignalFocus, service.SignalStuck, service.SignalTimeline}
			events := []string{string(domain.EventSubscribed), string(domain.EventBlueprintCompleted), string(domain.EventCTAClicked)}

			signals := runScenario("signal_ingest", command.Int("signals-total"), command.Int("signals-concurrency"), func(index int) error {
				return postJSON(client, env.server.URL+"/signal", map[string]any{
					"subscriberId": subscriberID(index),
					"signalType":   signalTypes[index%len(signalTypes)],
					"value":        fmt.Sprintf("bench value %d", index%17),
				}, http.StatusOK)
			})
			nextStep := runScenario("next_step", command.Int("next-step-total"), command.Int("next-step-concurrency"), func(index int) error {
				return getJSON(client, env.server.URL+"/next-step?id="+subscriberID(index), http.StatusOK)
			})
			offers := runScenario("offer_recommendation", command.Int("offers-total"), command.Int("offers-concurrency"), func(index int) error {
				return getJSON(client, env.server.URL+"/offers/recommendation?id="+subscriberID(index), http.StatusOK)
			})
			routes := runScenario("workflow_route", command.Int("route-total"), command.Int("route-concurrency"), func(index int) error {
				return postJSON(client, env.server.URL+"/workflow/route", map[string]any{
					"subscriberId": subscriberID(index),
					"event":        events[index%len(events)],
				}, http.StatusOK)
			})

			env.signals.Wait()
			highIntent := countHighIntent(env.publisher)
			report := runResult{
				GeneratedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
				Environment:    "local-httptest",
				Results:        []scenarioResult{signals, nextStep, offers, routes},
				HighIntent:     highIntent,
				SLOEvaluation: map[string]bool{
					"signal_p95_le_50ms":           signals.P95MS <= 50,
					"next_step_p95_le_50ms":        nextStep.P95MS <= 50,
					"offer_recommendation_no_errs": offers.Errors == 0,
					"high_intent_once_per_lead":    highIntent <= benchSubscribers,
				},
			}

			encoded, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("marshal benchmark report: %w", err)
			}
			if path := command.String("output"); path != "" {
				if err := os.WriteFile(path, encoded, 0o644); err != nil {
					return fmt.Errorf("write output file: %w", err)
				}
			}
			_, err = fmt.Fprintln(os.Stdout, string(encoded))
			return err
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("benchmark failed", "error", err)
		os.Exit(1)
	}
}

func subscriberID(index int) string {
	return fmt.Sprintf("bench-%03d", index%benchSubscribers)
}

func startBenchEnvironment(parent context.Context) (*benchEnv, error) {
	ctx, cancel := context.WithCancel(parent)
	logger := slog.New(slog.DiscardHandler)

	store := repository.NewMemoryStore()
	now := time.Now().UTC()
	for i := 0; i < benchSubscribers; i++ {
		if err := store.CreateSubscriber(ctx, &domain.Subscriber{
			ID:              subscriberID(i),
			Email:           fmt.Sprintf("%s@example.com", subscriberID(i)),
			Name:            fmt.Sprintf("Bench %d", i),
			JourneyPosition: domain.JourneyLead,
			CreatedAt:       now.Add(-time.Duration(i) * time.Hour),
		}); err != nil {
			cancel()
			return nil, err
		}
	}

	localQueue := queue.NewLocalQueue(8192, 3, logger)
	mailer := mail.NewLogMailer(logger)
	publisher := automation.NewLogPublisher(logger)
	notifier := alert.NewNotifier(mailer, nil, logger)
	engine := offer.NewEngine(offer.DefaultThresholds())
	traces := telemetry.NewTraceStore(telemetry.DefaultTraceCapacity)
	metrics := telemetry.NewMetrics()
	retryPolicy := retry.Policy{MaxRetries: 1, BaseDelay: time.Millisecond}

	registry, err := agents.NewBuiltinRegistry(agents.Dependencies{
		Subscribers:         store,
		Engine:              engine,
		Copywriter:          agents.NewCopywriter(nil, nil, agents.CopywriterConfig{}, logger),
		Mailer:              mailer,
		HighIntentThreshold: service.DefaultHighIntentThreshold,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	invoker := agent.NewInvoker(traces, metrics, logger)

	signals := service.NewSignalService(store, localQueue, service.DefaultHighIntentThreshold, logger)
	executor := service.NewWorkflowExecutor(registry, invoker, store, notifier, retryPolicy, logger)
	api := handlers.NewAPI(handlers.Dependencies{
		Signals:   signals,
		Workflows: service.NewWorkflowService(store, executor, nil, localQueue, logger),
		Offers:    service.NewOfferService(store, engine, service.DefaultRecomputeConfig(), logger),
		Agents: service.NewAgentService(registry, invoker, agent.NewBatchRunner(registry, invoker, notifier),
			nil, traces, metrics),
		Logger: logger,
	})
	router := httpserver.NewRouter(ctx, httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		RateLimitRPS:   50000,
		RateLimitBurst: 50000,
	})

	go worker.NewProcessor(localQueue, publisher, notifier, retryPolicy, logger).Start(ctx)

	return &benchEnv{
		server:    httptest.NewServer(router),
		publisher: publisher,
		signals:   signals,
		cancel:    cancel,
	}, nil
}

func countHighIntent(publisher *automation.LogPublisher) int {
	// the worker drains asynchronously
	deadline := time.Now().Add(2 * time.Second)
	count := 0
	for {
		count = 0
		for _, event := range publisher.Published() {
			if event.Kind == domain.AutomationHighIntent {
				count++
			}
		}
		if count > 0 || time.Now().After(deadline) {
			return count
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func runScenario(name string, total, concurrency int, requestFn func(index int) error) scenarioResult {
	if total <= 0 {
		return scenarioResult{Name: name}
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	type sample struct {
		durationMS float64
		err        string
	}

	startedAt := time.Now()
	jobs := make(chan int, total)
	results := make(chan sample, total)
	for i := 0; i < total; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				requestStart := time.Now()
				err := requestFn(index)
				s := sample{durationMS: float64(time.Since(requestStart).Microseconds()) / 1000.0}
				if err != nil {
					s.err = err.Error()
				}
				results <- s
			}
		}()
	}
	wg.Wait()
	close(results)

	durations := make([]float64, 0, total)
	errorSamples := make([]string, 0, 5)
	success := 0
	for item := range results {
		durations = append(durations, item.durationMS)
		if item.err == "" {
			success++
			continue
		}
		if len(errorSamples) < 5 {
			errorSamples = append(errorSamples, item.err)
		}
	}

	sort.Float64s(durations)
	throughput := 0.0
	if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 {
		throughput = float64(total) / elapsed
	}

	return scenarioResult{
		Name:          name,
		Total:         total,
		Success:       success,
		Errors:        total - success,
		P50MS:         percentile(durations, 0.50),
		P95MS:         percentile(durations, 0.95),
		P99MS:         percentile(durations, 0.99),
		MaxMS:         percentile(durations, 1.00),
		ThroughputRPS: round2(throughput),
		ErrorSamples:  errorSamples,
	}
}

func postJSON(client *http.Client, url string, payload any, expectedStatus int) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	request, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	return do(client, request, expectedStatus)
}

func getJSON(client *http.Client, url string, expectedStatus int) error {
	request, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	return do(client, request, expectedStatus)
}

func do(client *http.Client, request *http.Request, expectedStatus int) error {
	request.Header.Set("Accept", "application/json")
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode != expectedStatus {
		body, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
		return fmt.Errorf("unexpected status %d (expected %d): %s", response.StatusCode, expectedStatus, string(body))
	}
	_, _ = io.Copy(io.Discard, response.Body)
	return nil
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return round2(values[0])
	}
	if p >= 1 {
		return round2(values[len(values)-1])
	}
	rank := int(math.Ceil(float64(len(values))*p)) - 1
	rank = max(0, min(rank, len(values)-1))
	return round2(values[rank])
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
