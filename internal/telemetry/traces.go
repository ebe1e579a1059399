// Package telemetry records agent invocations: a bounded in-memory trace
// ring, per-agent counters, and optional OpenTelemetry export.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultTraceCapacity = 200

// TraceEvent is one agent invocation as seen by diagnostics surfaces.
type TraceEvent struct {
	ID          string    `json:"id"`
	Agent       string    `json:"agent"`
	InputDigest string    `json:"inputDigest"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"durationMs"`
	Timestamp   time.Time `json:"timestamp"`
}

// TraceStore keeps the most recent traces, oldest evicted first.
type TraceStore struct {
	mu       sync.Mutex
	events   []TraceEvent
	next     int
	full     bool
	capacity int
}

func NewTraceStore(capacity int) *TraceStore {
	if capacity <= 0 {
		capacity = DefaultTraceCapacity
	}
	return &TraceStore{
		events:   make([]TraceEvent, capacity),
		capacity: capacity,
	}
}

func (s *TraceStore) Record(event TraceEvent) {
	if s == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[s.next] = event
	s.next = (s.next + 1) % s.capacity
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns up to limit traces, newest first. A non-positive limit
// returns everything held.
func (s *TraceStore) Recent(limit int) []TraceEvent {
	if s == nil {
		return []TraceEvent{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.newestFirstLocked()
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// ForAgent returns every held trace for one agent, newest first.
func (s *TraceStore) ForAgent(name string) []TraceEvent {
	if s == nil {
		return []TraceEvent{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]TraceEvent, 0)
	for _, event := range s.newestFirstLocked() {
		if event.Agent == name {
			matched = append(matched, event)
		}
	}
	return matched
}

func (s *TraceStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return s.capacity
	}
	return s.next
}

func (s *TraceStore) Clear() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make([]TraceEvent, s.capacity)
	s.next = 0
	s.full = false
}

func (s *TraceStore) newestFirstLocked() []TraceEvent {
	count := s.next
	if s.full {
		count = s.capacity
	}
	out := make([]TraceEvent, 0, count)
	for i := 1; i <= count; i++ {
		index := (s.next - i + s.capacity) % s.capacity
		out = append(out, s.events[index])
	}
	return out
}
