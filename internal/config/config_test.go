package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "HIGH_INTENT_THRESHOLD", "KAFKA_BROKERS", "AGENT_DENYLIST", "OFFER_RECOMPUTE_SPACING_MS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 9, cfg.HighIntentThreshold)
	assert.Equal(t, 70, cfg.OfferThresholds.Membership)
	assert.Equal(t, 40, cfg.OfferThresholds.Credits)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "chat|concierge|conversation", cfg.AgentDenylist)
	assert.Equal(t, int64(200), cfg.OfferRecomputeSpacing().Milliseconds())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HIGH_INTENT_THRESHOLD", "15")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("WORKER_ENABLED", "false")
	t.Setenv("QUEUE_BATCH_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 15, cfg.HighIntentThreshold)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.InDelta(t, 2.5, cfg.RateLimitRPS, 1e-9)
	assert.False(t, cfg.WorkerEnabled)
	assert.Equal(t, 32, cfg.QueueBatchSize)
}

func TestServerWriteTimeoutOutlastsAdminDeadline(t *testing.T) {
	t.Setenv("ADMIN_REQUEST_TIMEOUT_MS", "")
	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.AdminRequestTimeout())
	assert.Greater(t, cfg.ServerWriteTimeout(), cfg.AdminRequestTimeout())

	t.Setenv("ADMIN_REQUEST_TIMEOUT_MS", "60000")
	cfg = Load()
	assert.Equal(t, time.Minute, cfg.AdminRequestTimeout())
	assert.Equal(t, time.Minute+serverWriteMargin, cfg.ServerWriteTimeout())

	cfg.AdminRequestTimeoutMS = 0
	assert.Equal(t, 30*time.Second, cfg.AdminRequestTimeout())
}

func TestApplyOverlay(t *testing.T) {
	cfg := Load()
	err := cfg.ApplyOverlay([]byte(`
high_intent_threshold: 12
offer_thresholds:
  membership: 80
  email_opens: 5
agent_denylist: "chat|assistant"
workflow_routes:
  webinar_attended: nurture
alert_recipients:
  - ops@example.com
offer_recompute_cron: "*/30 * * * *"
`))
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.HighIntentThreshold)
	assert.Equal(t, 80, cfg.OfferThresholds.Membership)
	assert.Equal(t, 40, cfg.OfferThresholds.Credits)
	assert.Equal(t, 5, cfg.OfferThresholds.EmailOpens)
	assert.Equal(t, "chat|assistant", cfg.AgentDenylist)
	assert.Equal(t, "nurture", cfg.WorkflowRoutes["webinar_attended"])
	assert.Equal(t, []string{"ops@example.com"}, cfg.AlertRecipients)
	assert.Equal(t, "*/30 * * * *", cfg.OfferRecomputeCron)
}

func TestApplyOverlayRejectsBadInput(t *testing.T) {
	cfg := Load()
	assert.Error(t, cfg.ApplyOverlay([]byte("workflow_routes:\n  subscribed: onboarding\n")))
	assert.Error(t, cfg.ApplyOverlay([]byte("unknown_key: 1\n")))
	assert.NoError(t, cfg.ApplyOverlay(nil))
	assert.NoError(t, cfg.ApplyOverlayFile(""))
	assert.Error(t, cfg.ApplyOverlayFile(filepath.Join(t.TempDir(), "missing.yaml")))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, ".env.local")
	second := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(first, []byte("LEADCORE_TEST_A=local\n"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte(`# comment
export LEADCORE_TEST_A=base
LEADCORE_TEST_B="line\nbreak"
LEADCORE_TEST_C='raw\n'
LEADCORE_TEST_D=value # trailing
LEADCORE_TEST_E=preset
not a pair
`), 0o600))

	t.Setenv("LEADCORE_TEST_E", "from-env")
	for _, key := range []string{"LEADCORE_TEST_A", "LEADCORE_TEST_B", "LEADCORE_TEST_C", "LEADCORE_TEST_D"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	require.NoError(t, LoadDotEnv(first, second, filepath.Join(dir, "missing")))
	assert.Equal(t, "local", os.Getenv("LEADCORE_TEST_A"))
	assert.Equal(t, "line\nbreak", os.Getenv("LEADCORE_TEST_B"))
	assert.Equal(t, `raw\n`, os.Getenv("LEADCORE_TEST_C"))
	assert.Equal(t, "value", os.Getenv("LEADCORE_TEST_D"))
	assert.Equal(t, "from-env", os.Getenv("LEADCORE_TEST_E"))
}
