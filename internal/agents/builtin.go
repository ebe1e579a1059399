package agents

import (
	"fmt"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/domain"
	"github.com/leadcore/intent-core/internal/mail"
	"github.com/leadcore/intent-core/internal/offer"
	"github.com/leadcore/intent-core/internal/repository"
)

type Dependencies struct {
	Subscribers         repository.SubscriberRepository
	Engine              *offer.Engine
	Copywriter          *Copywriter
	Mailer              mail.Mailer
	HighIntentThreshold int
}

// NewBuiltinRegistry registers every built-in agent.
func NewBuiltinRegistry(deps Dependencies) (*agent.Registry, error) {
	if deps.Subscribers == nil || deps.Engine == nil || deps.Copywriter == nil || deps.Mailer == nil {
		return nil, fmt.Errorf("builtin agents: subscribers, engine, copywriter and mailer are required")
	}

	builtins := []agent.Agent{
		NewOfferPathway(deps.Subscribers, deps.Engine),
		deps.Copywriter,
		NewLeadDigest(deps.Subscribers, deps.Engine, deps.HighIntentThreshold),
	}
	for _, workflow := range []domain.WorkflowType{domain.WorkflowWelcome, domain.WorkflowNurture, domain.WorkflowUpsell} {
		builtins = append(builtins, NewEmailAgent(workflow, deps.Copywriter, deps.Mailer, deps.Subscribers, deps.Engine))
	}
	return agent.NewRegistry(builtins...)
}
