package service

import (
	"errors"
	"fmt"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/policy"
	"github.com/leadcore/intent-core/internal/repository"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
)

// classify maps lower-layer sentinels onto the service error set so handlers
// only need to know about the errors declared here.
func classify(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, agent.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, what, err)
	case errors.Is(err, agent.ErrInvalidInput):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, policy.ErrAgentForbidden):
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	case errors.Is(err, repository.ErrInvalidTransition):
		return fmt.Errorf("%w: %s: %w", ErrConflict, what, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
