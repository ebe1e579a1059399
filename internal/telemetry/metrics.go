package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/leadcore/intent-core/agents"

// AgentMetrics is the aggregate for one agent name.
type AgentMetrics struct {
	Agent           string     `json:"agent"`
	Invocations     int64      `json:"invocations"`
	Successes       int64      `json:"successes"`
	Failures        int64      `json:"failures"`
	TotalDurationMS int64      `json:"totalDurationMs"`
	AvgDurationMS   float64    `json:"avgDurationMs"`
	LastRunAt       *time.Time `json:"lastRunAt,omitempty"`
}

// Metrics keeps per-agent counters in memory and mirrors them to an
// OpenTelemetry meter provider.
type Metrics struct {
	mu     sync.Mutex
	agents map[string]*AgentMetrics

	invocations metric.Float64Counter
	failures    metric.Float64Counter
	duration    metric.Float64Histogram
}

// NewMetrics mirrors to the global meter provider installed by Setup.
func NewMetrics() *Metrics {
	return NewMetricsWithProvider(otel.GetMeterProvider())
}

func NewMetricsWithProvider(provider metric.MeterProvider) *Metrics {
	m := &Metrics{agents: make(map[string]*AgentMetrics)}

	meter := provider.Meter(meterName)
	if counter, err := meter.Float64Counter("leadcore.agent.invocations"); err == nil {
		m.invocations = counter
	}
	if counter, err := meter.Float64Counter("leadcore.agent.failures"); err == nil {
		m.failures = counter
	}
	if histogram, err := meter.Float64Histogram("leadcore.agent.duration", metric.WithUnit("s")); err == nil {
		m.duration = histogram
	}
	return m
}

func (m *Metrics) Observe(agent string, success bool, duration time.Duration, at time.Time) {
	if m == nil {
		return
	}

	m.mu.Lock()
	entry, ok := m.agents[agent]
	if !ok {
		entry = &AgentMetrics{Agent: agent}
		m.agents[agent] = entry
	}
	entry.Invocations++
	if success {
		entry.Successes++
	} else {
		entry.Failures++
	}
	entry.TotalDurationMS += duration.Milliseconds()
	runAt := at.UTC()
	entry.LastRunAt = &runAt
	m.mu.Unlock()

	attrs := metric.WithAttributes(attribute.String("agent", agent), attribute.Bool("success", success))
	ctx := context.Background()
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, attrs)
	}
	if !success && m.failures != nil {
		m.failures.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
}

// Snapshot returns a copy of every agent's counters sorted by name.
func (m *Metrics) Snapshot() []AgentMetrics {
	if m == nil {
		return []AgentMetrics{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]AgentMetrics, 0, len(m.agents))
	for _, entry := range m.agents {
		out = append(out, entry.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Agent < out[j].Agent })
	return out
}

// ForAgent returns the counters for one agent; the zero value when unseen.
func (m *Metrics) ForAgent(agent string) AgentMetrics {
	if m == nil {
		return AgentMetrics{Agent: agent}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.agents[agent]
	if !ok {
		return AgentMetrics{Agent: agent}
	}
	return entry.copy()
}

func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents = make(map[string]*AgentMetrics)
}

func (a *AgentMetrics) copy() AgentMetrics {
	out := *a
	if a.LastRunAt != nil {
		runAt := *a.LastRunAt
		out.LastRunAt = &runAt
	}
	if out.Invocations > 0 {
		out.AvgDurationMS = float64(out.TotalDurationMS) / float64(out.Invocations)
	}
	return out
}
