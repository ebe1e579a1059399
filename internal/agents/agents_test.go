package agents

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/ai"
	"github.com/leadcore/intent-core/internal/cache"
	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/mail"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/repository"
	"github.com/leadcore/intent-core/internal/retry"
)

type stubGenerator struct {
	available bool
	text      string
	err       error
	calls     int
}

func (g *stubGenerator) Available() bool { return g.available }

func (g *stubGenerator) Generate(context.Context, ai.GenerateRequest) (ai.GenerateResult, error) {
	g.calls++
	if g.err != nil {
		return ai.GenerateResult{}, g.err
	}
	return ai.GenerateResult{Text: g.text, ModelID: "stub-model"}, nil
}

type mockMailer struct {
	mock.Mock
}

func (m *mockMailer) Send(ctx context.Context, message mail.Message) error {
	return m.Called(ctx, message).Error(0)
}

func seedStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, store.CreateSubscriber(context.Background(), &domain.Subscriber{
		ID:               "sub-1",
		Email:            "ada@example.com",
		Name:             "Ada Lovelace",
		IntentScore:      45,
		JourneyPosition:  domain.JourneyWarm,
		LeadIntelligence: json.RawMessage(`{"email_opens":2}`),
		CreatedAt:        now.Add(-48 * time.Hour),
	}))
	for i, signal := range []struct{ kind, value string }{
		{"focus", "brand refresh"},
		{"stuck", "pricing"},
		{"focus", "new website"},
	} {
		_, err := store.RecordSignal(context.Background(), domain.Signal{
			ID:           "sig-" + signal.kind + string(rune('a'+i)),
			SubscriberID: "sub-1",
			SignalType:   signal.kind,
			Value:        signal.value,
			CreatedAt:    now.Add(time.Duration(i) * time.Minute),
		}, 0)
		require.NoError(t, err)
	}
	return store
}

func TestCopywriterUsesGeneratorAndCache(t *testing.T) {
	generator := &stubGenerator{available: true, text: "```json\n{\"subject\":\"Hello Ada\",\"body\":\"Welcome in.\"}\n```"}
	copywriter := NewCopywriter(generator, cache.New(cache.Config{}), CopywriterConfig{}, nil)

	first := copywriter.Compose(context.Background(), CopyRequest{Kind: "welcome", Name: "Ada"})
	assert.Equal(t, "Hello Ada", first.Subject)
	assert.Equal(t, CopySourceModel, first.Source)
	assert.False(t, first.Cached)

	second := copywriter.Compose(context.Background(), CopyRequest{Kind: "welcome", Name: " ada "})
	assert.True(t, second.Cached)
	assert.Equal(t, 1, generator.calls)
}

func TestCopywriterFallsBackToTemplate(t *testing.T) {
	for name, generator := range map[string]*stubGenerator{
		"unavailable": {available: false},
		"error":       {available: true, err: errors.New("timeout")},
		"junk":        {available: true, text: "not json"},
	} {
		t.Run(name, func(t *testing.T) {
			copywriter := NewCopywriter(generator, nil, CopywriterConfig{}, nil)
			draft := copywriter.Compose(context.Background(), CopyRequest{Kind: "upsell", Name: "Ada", Offer: "membership"})
			assert.Equal(t, CopySourceTemplate, draft.Source)
			assert.Equal(t, "Ada, your membership is ready", draft.Subject)
		})
	}
}

func TestCopywriterProcessRequiresKind(t *testing.T) {
	copywriter := NewCopywriter(nil, nil, CopywriterConfig{}, nil)
	result := copywriter.Process(context.Background(), json.RawMessage(`{}`))
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err(), agent.ErrInvalidInput)
}

func TestOfferPathwayForStoredSubscriber(t *testing.T) {
	pathway := NewOfferPathway(seedStore(t), offer.NewEngine(offer.DefaultThresholds()))

	result := pathway.Process(context.Background(), json.RawMessage(`{"subscriberId":"sub-1"}`))
	require.True(t, result.Success, result.Error)
	assert.Equal(t, offer.KindCredits, result.Output.(offer.Recommendation).Kind())

	missing := pathway.Process(context.Background(), json.RawMessage(`{"subscriberId":"nope"}`))
	assert.ErrorIs(t, missing.Err(), repository.ErrNotFound)
}

func TestOfferPathwayForRawScores(t *testing.T) {
	pathway := NewOfferPathway(repository.NewMemoryStore(), offer.NewEngine(offer.DefaultThresholds()))

	result := pathway.Process(context.Background(), json.RawMessage(`{"intentScore":10,"emailOpens":0,"behaviorScore":0}`))
	require.True(t, result.Success)
	assert.Nil(t, result.Output.(offer.Recommendation).Recommendation)

	invalid := pathway.Process(context.Background(), json.RawMessage(`{"intentScore":10,"journeyPosition":"vip"}`))
	assert.ErrorIs(t, invalid.Err(), agent.ErrInvalidInput)

	empty := pathway.Process(context.Background(), json.RawMessage(`{}`))
	assert.ErrorIs(t, empty.Err(), agent.ErrInvalidInput)
}

func TestEmailAgentSendsWithSubscriberDetails(t *testing.T) {
	store := seedStore(t)
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mock.MatchedBy(func(message mail.Message) bool {
		return message.To[0] == "ada@example.com" &&
			message.Subject == "Ada, your credits is ready" &&
			message.Tags[0] == "workflow:upsell"
	})).Return(nil).Once()

	email := NewEmailAgent(domain.WorkflowUpsell, NewCopywriter(nil, nil, CopywriterConfig{}, nil), mailer, store, offer.NewEngine(offer.DefaultThresholds()))
	assert.Equal(t, "upsell-email", email.Metadata().Name)

	result := email.Process(context.Background(), json.RawMessage(`{"subscriberId":"sub-1","queueItemId":"q-1"}`))
	require.True(t, result.Success, result.Error)
	output := result.Output.(EmailOutput)
	assert.Equal(t, "credits", output.Offer)
	assert.Equal(t, "q-1", output.QueueItemID)
	mailer.AssertExpectations(t)
}

func TestEmailAgentDryRunSkipsMailer(t *testing.T) {
	mailer := &mockMailer{}
	email := NewEmailAgent(domain.WorkflowWelcome, NewCopywriter(nil, nil, CopywriterConfig{}, nil), mailer, seedStore(t), nil)

	result := email.Process(context.Background(), json.RawMessage(`{"subscriberId":"sub-1","dryRun":true}`))
	require.True(t, result.Success)
	output := result.Output.(EmailOutput)
	assert.True(t, output.DryRun)
	assert.Equal(t, "Welcome aboard, Ada", output.Subject)
	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestEmailAgentKeepsMailerErrorForRetry(t *testing.T) {
	mailer := &mockMailer{}
	mailer.On("Send", mock.Anything, mock.Anything).
		Return(&retry.StatusError{Service: "mail", StatusCode: 503}).Once()

	email := NewEmailAgent(domain.WorkflowNurture, NewCopywriter(nil, nil, CopywriterConfig{}, nil), mailer, seedStore(t), nil)
	result := email.Process(context.Background(), json.RawMessage(`{"email":"x@example.com","name":"X","focus":"growth"}`))

	assert.False(t, result.Success)
	assert.True(t, retry.IsRecoverable(result.Err()))
}

func TestLeadDigestSummarisesSignals(t *testing.T) {
	digestAgent := NewLeadDigest(seedStore(t), offer.NewEngine(offer.DefaultThresholds()), 9)

	result := digestAgent.Process(context.Background(), json.RawMessage(`{"subscriberId":"sub-1","limit":2}`))
	require.True(t, result.Success, result.Error)
	digest := result.Output.(LeadDigest)

	assert.Equal(t, offer.ReadinessHot, digest.Readiness)
	assert.Equal(t, map[string]int{"focus": 2, "stuck": 1}, digest.SignalCounts)
	assert.Equal(t, "new website", digest.Latest["focus"])
	require.Len(t, digest.RecentSignals, 2)
	assert.Equal(t, "new website", digest.RecentSignals[0].Value)
	assert.Equal(t, offer.KindCredits, digest.Recommendation.Kind())
}

func TestLeadDigestDefaultsUnsetThreshold(t *testing.T) {
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateSubscriber(context.Background(), &domain.Subscriber{
		ID:          "sub-2",
		Email:       "warm@example.com",
		IntentScore: 6,
		CreatedAt:   time.Now().UTC(),
	}))

	for _, threshold := range []int{0, -4} {
		digestAgent := NewLeadDigest(store, offer.NewEngine(offer.DefaultThresholds()), threshold)
		result := digestAgent.Process(context.Background(), json.RawMessage(`{"subscriberId":"sub-2"}`))
		require.True(t, result.Success, result.Error)
		assert.Equal(t, offer.ReadinessWarm, result.Output.(LeadDigest).Readiness, "threshold %d", threshold)
	}
}

func TestBuiltinRegistry(t *testing.T) {
	registry, err := NewBuiltinRegistry(Dependencies{
		Subscribers:         repository.NewMemoryStore(),
		Engine:              offer.NewEngine(offer.DefaultThresholds()),
		Copywriter:          NewCopywriter(nil, nil, CopywriterConfig{}, nil),
		Mailer:              mail.NewLogMailer(nil),
		HighIntentThreshold: 9,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"copywriter", "lead-digest", "nurture-email", "offer-pathway", "upsell-email", "welcome-email"}, registry.List())

	for _, metadata := range registry.AllMetadata() {
		assert.NotEmpty(t, metadata.InputSchema, metadata.Name)
	}

	_, err = NewBuiltinRegistry(Dependencies{})
	assert.Error(t, err)
}
