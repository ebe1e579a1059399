package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/policy"
	"github.com/leadcore/intent-core/internal/telemetry"
)

const recentTracesPerRun = 10

// AgentRun is an ad hoc invocation result merged with its diagnostics.
type AgentRun struct {
	Agent string `json:"agent"`
	agent.Result
	Metadata     agent.Metadata         `json:"metadata"`
	RecentTraces []telemetry.TraceEvent `json:"recentTraces"`
	Metrics      telemetry.AgentMetrics `json:"metrics"`
}

// AgentService is the administrative surface over the registry. Every entry
// point checks the denylist before touching the registry or trace store.
type AgentService struct {
	registry *agent.Registry
	invoker  *agent.Invoker
	batches  *agent.BatchRunner
	denylist *policy.Denylist
	traces   *telemetry.TraceStore
	metrics  *telemetry.Metrics
}

func NewAgentService(
	registry *agent.Registry,
	invoker *agent.Invoker,
	batches *agent.BatchRunner,
	denylist *policy.Denylist,
	traces *telemetry.TraceStore,
	metrics *telemetry.Metrics,
) *AgentService {
	if denylist == nil {
		denylist = policy.MustDenylist(policy.DefaultDenylistPattern)
	}
	return &AgentService{
		registry: registry,
		invoker:  invoker,
		batches:  batches,
		denylist: denylist,
		traces:   traces,
		metrics:  metrics,
	}
}

func (s *AgentService) Run(ctx context.Context, name string, input json.RawMessage) (AgentRun, error) {
	name, err := s.checkName(name)
	if err != nil {
		return AgentRun{}, err
	}

	target, ok := s.registry.Get(name)
	if !ok {
		return AgentRun{}, fmt.Errorf("%w: agent %s", ErrNotFound, name)
	}
	metadata := target.Metadata()
	if err := agent.ValidateInput(metadata, input); err != nil {
		return AgentRun{}, classify(err, "validate input")
	}

	result := s.invoker.Invoke(ctx, target, input)
	recent := s.traces.ForAgent(name)
	if len(recent) > recentTracesPerRun {
		recent = recent[:recentTracesPerRun]
	}
	return AgentRun{
		Agent:        name,
		Result:       result,
		Metadata:     metadata,
		RecentTraces: recent,
		Metrics:      s.metrics.ForAgent(name),
	}, nil
}

func (s *AgentService) RunBatch(ctx context.Context, name string, inputs []json.RawMessage) (agent.BatchResult, error) {
	name, err := s.checkName(name)
	if err != nil {
		return agent.BatchResult{}, err
	}
	result, err := s.batches.Run(ctx, name, inputs)
	if err != nil {
		return agent.BatchResult{}, classify(err, "run batch")
	}
	return result, nil
}

// Traces returns recent traces, optionally for a single agent.
func (s *AgentService) Traces(name string, limit int) ([]telemetry.TraceEvent, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return s.traces.Recent(limit), nil
	}
	if err := s.denylist.EnsureDispatchable(name); err != nil {
		return nil, classify(err, "traces")
	}
	traces := s.traces.ForAgent(name)
	if limit > 0 && len(traces) > limit {
		traces = traces[:limit]
	}
	return traces, nil
}

// ClearTraces drops every held trace. A named agent is still checked against
// the denylist so the endpoint answers the same way for every name.
func (s *AgentService) ClearTraces(name string) error {
	if name = strings.TrimSpace(name); name != "" {
		if err := s.denylist.EnsureDispatchable(name); err != nil {
			return classify(err, "clear traces")
		}
	}
	s.traces.Clear()
	return nil
}

func (s *AgentService) ListAgents() []agent.Metadata {
	return s.registry.AllMetadata()
}

func (s *AgentService) Metrics() []telemetry.AgentMetrics {
	return s.metrics.Snapshot()
}

func (s *AgentService) checkName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: agent is required", ErrInvalidArgument)
	}
	if err := s.denylist.EnsureDispatchable(name); err != nil {
		return "", classify(err, "dispatch")
	}
	return name, nil
}
