package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/offer"
)

// Overlay holds tuning values that are easier to keep in a file than in the
// environment. Zero values leave the environment setting untouched.
type Overlay struct {
	HighIntentThreshold int               `yaml:"high_intent_threshold"`
	OfferThresholds     offer.Thresholds  `yaml:"offer_thresholds"`
	AgentDenylist       string            `yaml:"agent_denylist"`
	WorkflowRoutes      map[string]string `yaml:"workflow_routes"`
	AlertRecipients     []string          `yaml:"alert_recipients"`
	OfferRecomputeCron  string            `yaml:"offer_recompute_cron"`
}

// ApplyOverlayFile merges the YAML file at path into c. An empty path is a
// no-op; a missing file is an error because it was asked for explicitly.
func (c *Config) ApplyOverlayFile(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config overlay: %w", err)
	}
	return c.ApplyOverlay(raw)
}

func (c *Config) ApplyOverlay(raw []byte) error {
	var overlay Overlay
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&overlay); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode config overlay: %w", err)
	}

	for event, workflow := range overlay.WorkflowRoutes {
		if !domain.WorkflowType(workflow).Valid() {
			return fmt.Errorf("config overlay: event %q routes to unknown workflow %q", event, workflow)
		}
	}

	if overlay.HighIntentThreshold > 0 {
		c.HighIntentThreshold = overlay.HighIntentThreshold
	}
	if overlay.OfferThresholds.Membership > 0 {
		c.OfferThresholds.Membership = overlay.OfferThresholds.Membership
	}
	if overlay.OfferThresholds.Credits > 0 {
		c.OfferThresholds.Credits = overlay.OfferThresholds.Credits
	}
	if overlay.OfferThresholds.EmailOpens > 0 {
		c.OfferThresholds.EmailOpens = overlay.OfferThresholds.EmailOpens
	}
	if overlay.OfferThresholds.BehaviorScore > 0 {
		c.OfferThresholds.BehaviorScore = overlay.OfferThresholds.BehaviorScore
	}
	if strings.TrimSpace(overlay.AgentDenylist) != "" {
		c.AgentDenylist = overlay.AgentDenylist
	}
	if len(overlay.WorkflowRoutes) > 0 {
		if c.WorkflowRoutes == nil {
			c.WorkflowRoutes = make(map[string]string, len(overlay.WorkflowRoutes))
		}
		for event, workflow := range overlay.WorkflowRoutes {
			c.WorkflowRoutes[event] = workflow
		}
	}
	if len(overlay.AlertRecipients) > 0 {
		c.AlertRecipients = overlay.AlertRecipients
	}
	if strings.TrimSpace(overlay.OfferRecomputeCron) != "" {
		c.OfferRecomputeCron = overlay.OfferRecomputeCron
	}
	return nil
}
