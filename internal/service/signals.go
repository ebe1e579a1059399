package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/queue"
	"github.com/leadcore/intent-core/internal/repository"
)

const (
	DefaultHighIntentThreshold = domain.DefaultHighIntentThreshold
	maxSignalFieldLength       = 256
)

// Next-step signal types surfaced to the front end.
const (
	SignalFocus    = "focus"
	SignalStuck    = "stuck"
	SignalTimeline = "timeline"
)

type SignalOutcome struct {
	IntentScore int  `json:"intentScore"`
	HighIntent  bool `json:"highIntent"`
	// Crossed is true only for the signal that first set firstHighIntentAt.
	Crossed bool `json:"-"`
}

type NextStep struct {
	Focus          *string         `json:"focus"`
	Stuck          *string         `json:"stuck"`
	Timeline       *string         `json:"timeline"`
	ReadinessLabel offer.Readiness `json:"readinessLabel"`
	IntentScore    int             `json:"intentScore"`
}

// SignalService records behavioral signals and raises the high-intent
// automation event the first time a subscriber crosses the threshold.
type SignalService struct {
	subscribers repository.SubscriberRepository
	events      *eventDispatcher
	threshold   int
	logger      *slog.Logger
	now         func() time.Time
}

func NewSignalService(
	subscribers repository.SubscriberRepository,
	producer queue.Producer,
	highIntentThreshold int,
	logger *slog.Logger,
) *SignalService {
	highIntentThreshold = domain.HighIntentThreshold(highIntentThreshold)
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SignalService{
		subscribers: subscribers,
		events:      &eventDispatcher{producer: producer, logger: logger},
		threshold:   highIntentThreshold,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *SignalService) Threshold() int {
	return s.threshold
}

func (s *SignalService) Record(
	ctx context.Context,
	subscriberID string,
	signalType string,
	value string,
) (SignalOutcome, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	signalType = strings.TrimSpace(signalType)
	if subscriberID == "" || signalType == "" || strings.TrimSpace(value) == "" {
		return SignalOutcome{}, fmt.Errorf("%w: subscriberId, signalType and value are required", ErrInvalidArgument)
	}
	if len(signalType) > maxSignalFieldLength || len(value) > maxSignalFieldLength {
		return SignalOutcome{}, fmt.Errorf("%w: signal fields must be at most %d characters", ErrInvalidArgument, maxSignalFieldLength)
	}

	now := s.now()
	recorded, err := s.subscribers.RecordSignal(ctx, domain.Signal{
		ID:           uuid.NewString(),
		SubscriberID: subscriberID,
		SignalType:   signalType,
		Value:        value,
		CreatedAt:    now,
	}, domain.SignalIncrement)
	if err != nil {
		return SignalOutcome{}, classify(err, "record signal")
	}

	outcome := SignalOutcome{
		IntentScore: recorded.IntentScore,
		HighIntent:  recorded.IntentScore > s.threshold,
	}
	if !outcome.HighIntent || recorded.FirstHighIntentAt != nil {
		return outcome, nil
	}

	marked, err := s.subscribers.MarkHighIntent(ctx, subscriberID, now)
	if err != nil {
		s.logger.Error("mark high intent failed", "subscriber_id", subscriberID, "error", err)
		return outcome, nil
	}
	if marked {
		outcome.Crossed = true
		s.dispatchHighIntent(ctx, subscriberID, recorded.IntentScore, now)
	}
	return outcome, nil
}

func (s *SignalService) dispatchHighIntent(ctx context.Context, subscriberID string, score int, at time.Time) {
	payload, _ := json.Marshal(map[string]any{
		"intentScore": score,
		"threshold":   s.threshold,
		"crossedAt":   at,
	})
	s.events.dispatch(ctx, domain.AutomationEvent{
		EventID:      uuid.NewString(),
		Kind:         domain.AutomationHighIntent,
		SubscriberID: subscriberID,
		Payload:      payload,
		RequestedAt:  at,
	})
	s.logger.Info("subscriber crossed high intent threshold",
		"subscriber_id", subscriberID, "intent_score", score, "threshold", s.threshold)
}

// Wait blocks until in-flight high-intent dispatches finish.
func (s *SignalService) Wait() {
	s.events.wait()
}

func (s *SignalService) NextStep(ctx context.Context, subscriberID string) (NextStep, error) {
	subscriberID = strings.TrimSpace(subscriberID)
	if subscriberID == "" {
		return NextStep{}, fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}

	subscriber, err := s.subscribers.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return NextStep{}, classify(err, "get subscriber")
	}
	latest, err := s.subscribers.LatestSignals(ctx, subscriberID, []string{SignalFocus, SignalStuck, SignalTimeline})
	if err != nil {
		return NextStep{}, classify(err, "latest signals")
	}

	return NextStep{
		Focus:          signalValue(latest, SignalFocus),
		Stuck:          signalValue(latest, SignalStuck),
		Timeline:       signalValue(latest, SignalTimeline),
		ReadinessLabel: offer.ReadinessFor(subscriber.IntentScore, s.threshold),
		IntentScore:    subscriber.IntentScore,
	}, nil
}

func signalValue(latest map[string]domain.Signal, signalType string) *string {
	signal, ok := latest[signalType]
	if !ok {
		return nil
	}
	value := signal.Value
	return &value
}
