package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/mail"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/repository"
)

// EmailAgentName returns the agent that executes a workflow type.
func EmailAgentName(workflow domain.WorkflowType) string {
	return string(workflow) + "-email"
}

// EmailInput is what the workflow executor hands to an email agent. Fields
// missing from the input are filled from the stored subscriber.
type EmailInput struct {
	SubscriberID string          `json:"subscriberId,omitempty"`
	QueueItemID  string          `json:"queueItemId,omitempty"`
	Email        string          `json:"email,omitempty"`
	Name         string          `json:"name,omitempty"`
	Focus        string          `json:"focus,omitempty"`
	Offer        string          `json:"offer,omitempty"`
	Intelligence json.RawMessage `json:"leadIntelligence,omitempty"`
	DryRun       bool            `json:"dryRun,omitempty"`
}

type EmailOutput struct {
	To          string `json:"to"`
	Subject     string `json:"subject"`
	CopySource  string `json:"copySource"`
	Offer       string `json:"offer,omitempty"`
	DryRun      bool   `json:"dryRun"`
	QueueItemID string `json:"queueItemId,omitempty"`
}

// EmailAgent composes lifecycle copy for one workflow type and sends it.
type EmailAgent struct {
	workflow    domain.WorkflowType
	copywriter  *Copywriter
	mailer      mail.Mailer
	subscribers repository.SubscriberRepository
	engine      *offer.Engine
	now         func() time.Time
}

func NewEmailAgent(
	workflow domain.WorkflowType,
	copywriter *Copywriter,
	mailer mail.Mailer,
	subscribers repository.SubscriberRepository,
	engine *offer.Engine,
) *EmailAgent {
	return &EmailAgent{
		workflow:    workflow,
		copywriter:  copywriter,
		mailer:      mailer,
		subscribers: subscribers,
		engine:      engine,
		now:         time.Now,
	}
}

func (a *EmailAgent) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:        EmailAgentName(a.workflow),
		Description: fmt.Sprintf("Composes and sends the %s lifecycle email.", a.workflow),
		Category:    "email",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"subscriberId":     map[string]any{"type": "string", "minLength": 1},
				"queueItemId":      map[string]any{"type": "string"},
				"email":            map[string]any{"type": "string", "format": "email"},
				"name":             map[string]any{"type": "string"},
				"focus":            map[string]any{"type": "string"},
				"offer":            map[string]any{"type": "string"},
				"leadIntelligence": map[string]any{"type": "object"},
				"dryRun":           map[string]any{"type": "boolean"},
			},
			"anyOf": []any{
				map[string]any{"required": []any{"subscriberId"}},
				map[string]any{"required": []any{"email"}},
			},
		},
	}
}

func (a *EmailAgent) Process(ctx context.Context, input json.RawMessage) agent.Result {
	var payload EmailInput
	if err := agent.DecodeInput(input, &payload); err != nil {
		return agent.Failed(err)
	}
	if err := a.fillFromSubscriber(ctx, &payload); err != nil {
		return agent.Failed(err)
	}
	if strings.TrimSpace(payload.Email) == "" {
		return agent.Failed(fmt.Errorf("%w: recipient email is required", agent.ErrInvalidInput))
	}

	draft := a.copywriter.Compose(ctx, CopyRequest{
		Kind:  string(a.workflow),
		Name:  firstName(payload.Name),
		Offer: payload.Offer,
		Focus: payload.Focus,
	})
	output := EmailOutput{
		To:          payload.Email,
		Subject:     draft.Subject,
		CopySource:  draft.Source,
		Offer:       payload.Offer,
		DryRun:      payload.DryRun,
		QueueItemID: payload.QueueItemID,
	}
	if payload.DryRun {
		return agent.Succeeded(output)
	}

	err := a.mailer.Send(ctx, mail.Message{
		To:      []string{payload.Email},
		Subject: draft.Subject,
		Text:    draft.Body,
		HTML:    renderHTML(draft.Body),
		Tags:    []string{"workflow:" + string(a.workflow)},
	})
	if err != nil {
		return agent.Failed(fmt.Errorf("send %s email: %w", a.workflow, err))
	}
	return agent.Succeeded(output)
}

func (a *EmailAgent) fillFromSubscriber(ctx context.Context, payload *EmailInput) error {
	needsOffer := a.workflow == domain.WorkflowUpsell && payload.Offer == ""
	if payload.SubscriberID == "" || (payload.Email != "" && payload.Name != "" && payload.Focus != "" && !needsOffer) {
		return nil
	}

	subscriber, err := a.subscribers.GetSubscriber(ctx, payload.SubscriberID)
	if err != nil {
		return fmt.Errorf("load subscriber %s: %w", payload.SubscriberID, err)
	}
	if payload.Email == "" {
		payload.Email = subscriber.Email
	}
	if payload.Name == "" {
		payload.Name = subscriber.Name
	}
	if payload.Focus == "" {
		latest, err := a.subscribers.LatestSignals(ctx, subscriber.ID, []string{"focus"})
		if err != nil {
			return fmt.Errorf("load focus signal: %w", err)
		}
		if signal, ok := latest["focus"]; ok {
			payload.Focus = signal.Value
		}
	}
	if needsOffer && a.engine != nil {
		payload.Offer = string(a.engine.Compute(offer.InputFromSubscriber(subscriber, nil, a.now())).Kind())
	}
	return nil
}

func firstName(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func renderHTML(body string) string {
	paragraphs := strings.Split(body, "\n\n")
	var out strings.Builder
	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		out.WriteString("<p>")
		out.WriteString(strings.ReplaceAll(html.EscapeString(paragraph), "\n", "<br>"))
		out.WriteString("</p>")
	}
	return out.String()
}
