package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/ai"
	"github.com/leadcore/intent-core/internal/cache"
)

const CopywriterName = "copywriter"

const (
	CopySourceModel    = "model"
	CopySourceTemplate = "template"
)

type CopyRequest struct {
	Kind  string `json:"kind"`
	Name  string `json:"name,omitempty"`
	Offer string `json:"offer,omitempty"`
	Focus string `json:"focus,omitempty"`
	Notes string `json:"notes,omitempty"`
}

type Copy struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Source  string `json:"source"`
	ModelID string `json:"modelId,omitempty"`
	Cached  bool   `json:"cached"`
}

type CopywriterConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Copywriter drafts email copy with the text generator and falls back to
// fixed templates when the generator is unavailable or returns junk.
type Copywriter struct {
	generator ai.TextGenerator
	cache     *cache.TTLCache
	config    CopywriterConfig
	logger    *slog.Logger
}

func NewCopywriter(generator ai.TextGenerator, copyCache *cache.TTLCache, config CopywriterConfig, logger *slog.Logger) *Copywriter {
	if strings.TrimSpace(config.Model) == "" {
		config.Model = "openai/gpt-4.1-mini"
	}
	if config.Temperature <= 0 {
		config.Temperature = 0.5
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 600
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Copywriter{generator: generator, cache: copyCache, config: config, logger: logger}
}

func (c *Copywriter) Metadata() agent.Metadata {
	return agent.Metadata{
		Name:        CopywriterName,
		Description: "Drafts subject and body copy for lifecycle emails.",
		Category:    "content",
		Version:     "1.0.0",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []any{"kind"},
			"properties": map[string]any{
				"kind":  map[string]any{"enum": []any{"welcome", "nurture", "upsell", "custom"}},
				"name":  map[string]any{"type": "string"},
				"offer": map[string]any{"type": "string"},
				"focus": map[string]any{"type": "string"},
				"notes": map[string]any{"type": "string", "maxLength": 2000},
			},
		},
	}
}

func (c *Copywriter) Process(ctx context.Context, input json.RawMessage) agent.Result {
	var request CopyRequest
	if err := agent.DecodeInput(input, &request); err != nil {
		return agent.Failed(err)
	}
	if strings.TrimSpace(request.Kind) == "" {
		return agent.Failed(fmt.Errorf("%w: kind is required", agent.ErrInvalidInput))
	}
	return agent.Succeeded(c.Compose(ctx, request))
}

// Compose never fails: generator errors degrade to template copy.
func (c *Copywriter) Compose(ctx context.Context, request CopyRequest) Copy {
	signature := cache.Signature(request.Kind, request.Name, request.Offer, request.Focus, request.Notes)
	if c.cache != nil {
		if entry, ok := c.cache.Get(signature); ok {
			var cached Copy
			if err := json.Unmarshal(entry.Value, &cached); err == nil {
				cached.Cached = true
				return cached
			}
		}
	}

	draft, ok := c.generate(ctx, request)
	if !ok {
		return templateCopy(request)
	}
	if c.cache != nil {
		if encoded, err := json.Marshal(draft); err == nil {
			c.cache.Set(signature, cache.Entry{Value: encoded, ModelID: draft.ModelID})
		}
	}
	return draft
}

func (c *Copywriter) generate(ctx context.Context, request CopyRequest) (Copy, bool) {
	if c.generator == nil || !c.generator.Available() {
		return Copy{}, false
	}

	result, err := c.generator.Generate(ctx, ai.GenerateRequest{
		Model: c.config.Model,
		Instructions: "You write short, warm lifecycle marketing emails. " +
			`Reply with JSON only: {"subject": string, "body": string}. Keep the body under 150 words.`,
		Input:           buildPrompt(request),
		Temperature:     c.config.Temperature,
		MaxOutputTokens: c.config.MaxTokens,
	})
	if err != nil {
		c.logger.WarnContext(ctx, "copy generation failed, using template", "kind", request.Kind, "error", err)
		return Copy{}, false
	}

	var parsed struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	text := strings.TrimSpace(result.Text)
	text = strings.TrimPrefix(strings.TrimSuffix(strings.TrimPrefix(text, "```json"), "```"), "```")
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil ||
		strings.TrimSpace(parsed.Subject) == "" || strings.TrimSpace(parsed.Body) == "" {
		c.logger.WarnContext(ctx, "copy generation returned unusable output, using template", "kind", request.Kind)
		return Copy{}, false
	}

	return Copy{
		Subject: strings.TrimSpace(parsed.Subject),
		Body:    strings.TrimSpace(parsed.Body),
		Source:  CopySourceModel,
		ModelID: result.ModelID,
	}, true
}

func buildPrompt(request CopyRequest) string {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Email type: %s\n", request.Kind)
	if request.Name != "" {
		fmt.Fprintf(&prompt, "Recipient first name: %s\n", request.Name)
	}
	if request.Offer != "" {
		fmt.Fprintf(&prompt, "Offer to present: %s\n", request.Offer)
	}
	if request.Focus != "" {
		fmt.Fprintf(&prompt, "Recipient's stated focus: %s\n", request.Focus)
	}
	if request.Notes != "" {
		fmt.Fprintf(&prompt, "Notes: %s\n", request.Notes)
	}
	return prompt.String()
}

func templateCopy(request CopyRequest) Copy {
	name := strings.TrimSpace(request.Name)
	if name == "" {
		name = "there"
	}
	focus := strings.TrimSpace(request.Focus)
	if focus == "" {
		focus = "your next project"
	}
	offerName := strings.TrimSpace(request.Offer)
	if offerName == "" || offerName == "none" {
		offerName = "trial"
	}

	var subject, body string
	switch request.Kind {
	case "welcome":
		subject = fmt.Sprintf("Welcome aboard, %s", name)
		body = fmt.Sprintf("Hi %s,\n\nThanks for joining. Over the next few days we will share practical ideas for %s. Reply any time and tell us what you are working on.", name, focus)
	case "nurture":
		subject = fmt.Sprintf("%s, a next step for %s", name, focus)
		body = fmt.Sprintf("Hi %s,\n\nYou have been making progress on %s. Here is one concrete step to keep the momentum going this week.", name, focus)
	case "upsell":
		subject = fmt.Sprintf("%s, your %s is ready", name, offerName)
		body = fmt.Sprintf("Hi %s,\n\nBased on how you have been engaging, we think the %s option is a good fit for %s. Take a look when you have a minute.", name, offerName, focus)
	default:
		subject = fmt.Sprintf("A note for %s", name)
		body = fmt.Sprintf("Hi %s,\n\nWe wanted to share an update related to %s.", name, focus)
	}
	return Copy{Subject: subject, Body: body, Source: CopySourceTemplate}
}
