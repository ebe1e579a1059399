// Package policy holds dispatch rules applied at the boundaries of the core:
// which agents may be invoked ad hoc and how invocation inputs are redacted
// before they are kept in diagnostics.
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultDenylistPattern matches the conversational agent family.
const DefaultDenylistPattern = `chat|concierge|conversation`

var ErrAgentForbidden = errors.New("agent is excluded from ad hoc dispatch")

// Denylist rejects agent names matching a case-insensitive pattern.
type Denylist struct {
	pattern *regexp.Regexp
}

func NewDenylist(pattern string) (*Denylist, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = DefaultDenylistPattern
	}
	compiled, err := regexp.Compile("(?i)(?:" + pattern + ")")
	if err != nil {
		return nil, fmt.Errorf("compile agent denylist %q: %w", pattern, err)
	}
	return &Denylist{pattern: compiled}, nil
}

func MustDenylist(pattern string) *Denylist {
	denylist, err := NewDenylist(pattern)
	if err != nil {
		panic(err)
	}
	return denylist
}

func (d *Denylist) Blocks(name string) bool {
	return d.pattern.MatchString(name)
}

// EnsureDispatchable returns ErrAgentForbidden when name is denylisted.
// Callers check before registry lookup so the answer does not depend on
// what is registered.
func (d *Denylist) EnsureDispatchable(name string) error {
	if d.Blocks(name) {
		return fmt.Errorf("%w: %s", ErrAgentForbidden, name)
	}
	return nil
}

func (d *Denylist) Pattern() string {
	return d.pattern.String()
}
