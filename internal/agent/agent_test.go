package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadcore/intent-core/internal/alert"
	"github.com/leadcore/intent-core/internal/telemetry"
)

type echoAgent struct {
	name   string
	schema map[string]any
}

func (a echoAgent) Metadata() Metadata {
	return Metadata{Name: a.name, Description: "echoes input", Category: "test", Version: "1", InputSchema: a.schema}
}

func (a echoAgent) Process(_ context.Context, input json.RawMessage) Result {
	var payload struct {
		Fail  bool   `json:"fail"`
		Panic bool   `json:"panic"`
		Value string `json:"value"`
	}
	if err := DecodeInput(input, &payload); err != nil {
		return Failed(err)
	}
	if payload.Panic {
		panic("boom")
	}
	if payload.Fail {
		return Failed(errors.New("crafted failure"))
	}
	return Succeeded(map[string]string{"value": payload.Value})
}

type recordingAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (a *recordingAlerter) SendCritical(_ context.Context, subject, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subjects = append(a.subjects, subject)
}

func newTestRunner(t *testing.T, alerter *recordingAlerter) (*BatchRunner, *telemetry.TraceStore, *telemetry.Metrics) {
	t.Helper()
	registry, err := NewRegistry(echoAgent{name: "echo"})
	require.NoError(t, err)
	traces := telemetry.NewTraceStore(telemetry.DefaultTraceCapacity)
	metrics := telemetry.NewMetrics()
	var alerts alert.Alerter
	if alerter != nil {
		alerts = alerter
	}
	return NewBatchRunner(registry, NewInvoker(traces, metrics, nil), alerts), traces, metrics
}

func TestRegistry(t *testing.T) {
	registry, err := NewRegistry(echoAgent{name: "zeta"}, echoAgent{name: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "zeta"}, registry.List())
	agent, ok := registry.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", agent.Metadata().Name)
	_, ok = registry.Get("missing")
	assert.False(t, ok)

	metadata := registry.AllMetadata()
	require.Len(t, metadata, 2)
	assert.Equal(t, "alpha", metadata[0].Name)

	assert.ErrorIs(t, registry.Register(echoAgent{name: "alpha"}), ErrDuplicate)
	assert.Error(t, registry.Register(echoAgent{name: " "}))
}

func TestValidateInputAgainstSchema(t *testing.T) {
	metadata := echoAgent{name: "echo", schema: map[string]any{
		"type":     "object",
		"required": []any{"value"},
		"properties": map[string]any{
			"value": map[string]any{"type": "string"},
		},
	}}.Metadata()

	assert.NoError(t, ValidateInput(metadata, json.RawMessage(`{"value":"x"}`)))
	assert.ErrorIs(t, ValidateInput(metadata, json.RawMessage(`{"value":3}`)), ErrInvalidInput)
	assert.ErrorIs(t, ValidateInput(metadata, json.RawMessage(`{}`)), ErrInvalidInput)
	assert.ErrorIs(t, ValidateInput(metadata, json.RawMessage(`{not json`)), ErrInvalidInput)
	assert.NoError(t, ValidateInput(Metadata{Name: "free"}, nil))
}

func TestInvokerRecordsTraceAndRecoversPanics(t *testing.T) {
	traces := telemetry.NewTraceStore(10)
	metrics := telemetry.NewMetrics()
	invoker := NewInvoker(traces, metrics, nil)
	agent := echoAgent{name: "echo"}

	ok := invoker.Invoke(context.Background(), agent, json.RawMessage(`{"value":"lead@example.com"}`))
	require.True(t, ok.Success)

	panicked := invoker.Invoke(context.Background(), agent, json.RawMessage(`{"panic":true}`))
	assert.False(t, panicked.Success)
	assert.Contains(t, panicked.Error, "agent panicked")
	assert.Error(t, panicked.Err())

	recent := traces.ForAgent("echo")
	require.Len(t, recent, 2)
	assert.False(t, recent[0].Success)
	assert.NotContains(t, recent[1].InputDigest, "lead@example.com")

	counters := metrics.ForAgent("echo")
	assert.Equal(t, int64(2), counters.Invocations)
	assert.Equal(t, int64(1), counters.Failures)
}

func TestBatchIsolatesFailures(t *testing.T) {
	alerter := &recordingAlerter{}
	runner, traces, _ := newTestRunner(t, alerter)

	inputs := []json.RawMessage{
		json.RawMessage(`{"value":"a"}`),
		json.RawMessage(`{"fail":true}`),
		json.RawMessage(`{"panic":true}`),
		json.RawMessage(`{"value":"d"}`),
	}
	result, err := runner.Run(context.Background(), "echo", inputs)
	require.NoError(t, err)

	require.Len(t, result.Results, 4)
	for index, item := range result.Results {
		assert.Equal(t, index, item.Index)
	}
	assert.True(t, result.Results[0].Success)
	assert.False(t, result.Results[1].Success)
	assert.Equal(t, "crafted failure", result.Results[1].Error)
	assert.False(t, result.Results[2].Success)
	assert.True(t, result.Results[3].Success)
	assert.Equal(t, map[string]string{"value": "d"}, result.Results[3].Output)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 4, traces.Len())

	require.Len(t, alerter.subjects, 1)
	assert.Equal(t, "batch echo: 2 of 4 items failed", alerter.subjects[0])
}

func TestBatchBounds(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil)

	_, err := runner.Run(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	tooMany := make([]json.RawMessage, MaxBatchItems+1)
	_, err = runner.Run(context.Background(), "echo", tooMany)
	assert.ErrorIs(t, err, ErrInvalidInput)

	exact := make([]json.RawMessage, MaxBatchItems)
	for i := range exact {
		exact[i] = json.RawMessage(fmt.Sprintf(`{"value":"%d"}`, i))
	}
	result, err := runner.Run(context.Background(), "echo", exact)
	require.NoError(t, err)
	assert.Len(t, result.Results, MaxBatchItems)
	assert.Equal(t, MaxBatchItems, result.Succeeded)
}

func TestBatchUnknownAgent(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil)
	_, err := runner.Run(context.Background(), "missing", []json.RawMessage{json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchSchemaFailureIsPerItem(t *testing.T) {
	registry, err := NewRegistry(echoAgent{name: "strict", schema: map[string]any{
		"type":     "object",
		"required": []any{"value"},
	}})
	require.NoError(t, err)
	runner := NewBatchRunner(registry, NewInvoker(nil, nil, nil), nil)

	result, err := runner.Run(context.Background(), "strict", []json.RawMessage{
		json.RawMessage(`{}`),
		json.RawMessage(`{"value":"ok"}`),
	})
	require.NoError(t, err)
	assert.False(t, result.Results[0].Success)
	assert.True(t, result.Results[1].Success)
}

func TestBatchReportsItemsLeftWhenContextEnds(t *testing.T) {
	alerter := &recordingAlerter{}
	runner, traces, _ := newTestRunner(t, alerter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := runner.Run(ctx, "echo", []json.RawMessage{
		json.RawMessage(`{"value":"a"}`),
		json.RawMessage(`{"value":"b"}`),
	})
	require.NoError(t, err)

	require.Len(t, result.Results, 2)
	assert.Equal(t, 2, result.Failed)
	for _, item := range result.Results {
		assert.False(t, item.Success)
		assert.Contains(t, item.Error, "context canceled")
	}
	assert.Zero(t, traces.Len())
	require.Len(t, alerter.subjects, 1)
}
