// Package audit provides an append-only record of broker decisions: joins
// proposed and committed, approvals granted and denied, policy loads. The
// in-memory ring answers recent-activity queries; the SQLite store keeps
// the durable trail.
package audit

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType classifies audit events.
type EventType string

const (
	EventJoinProposed    EventType = "join.proposed"
	EventJoinCommitted   EventType = "join.committed"
	EventJoinDenied      EventType = "join.denied"
	EventApprovalGranted EventType = "approval.granted"
	EventApprovalDenied  EventType = "approval.denied"
	EventPolicyLoaded    EventType = "policy.loaded"
	EventPolicyRejected  EventType = "policy.rejected"
)

// Event is a single audit entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	// Actor is the user that triggered the event.
	Actor string `json:"actor,omitempty"`
	// Group is the dotted JIT group identifier the event concerns.
	Group   string `json:"group,omitempty"`
	Summary string `json:"summary"`
	Detail  any    `json:"detail,omitempty"`
}

// Recorder accepts events. Record never blocks operations on sink errors;
// implementations log and drop instead.
type Recorder interface {
	Record(evt Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Record(Event) {}

// Log is an append-only in-memory ring.
type Log struct {
	events []Event
	mu     sync.RWMutex
	maxLen int // ring size, 0 = unbounded
}

// NewLog creates an audit log keeping at most maxLen events. maxLen=0 means
// unbounded.
func NewLog(maxLen int) *Log {
	return &Log{
		events: make([]Event, 0, 256),
		maxLen: maxLen,
	}
}

// Record appends an event, filling ID and Timestamp when missing.
func (l *Log) Record(evt Event) {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, evt)
	if l.maxLen > 0 && len(l.events) > l.maxLen {
		l.events = l.events[len(l.events)-l.maxLen:]
	}
}

// Emit records a new event with minimal args.
func (l *Log) Emit(typ EventType, group, actor, summary string) {
	l.Record(Event{
		Type:    typ,
		Group:   group,
		Actor:   actor,
		Summary: summary,
	})
}

// Filter selects events. Zero fields match everything. Cursor applies only
// to persisted queries.
type Filter struct {
	Group  string
	Actor  string
	Type   EventType
	Since  time.Time
	Until  time.Time
	Cursor string
	Limit  int
}

// Query returns matching events, newest first. limit=0 means all.
func (l *Log) Query(f Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []Event
	for i := len(l.events) - 1; i >= 0; i-- {
		evt := l.events[i]

		if f.Group != "" && evt.Group != f.Group {
			continue
		}
		if f.Actor != "" && evt.Actor != f.Actor {
			continue
		}
		if f.Type != "" && evt.Type != f.Type {
			continue
		}
		if !f.Since.IsZero() && evt.Timestamp.Before(f.Since) {
			continue
		}
		if !f.Until.IsZero() && evt.Timestamp.After(f.Until) {
			continue
		}

		result = append(result, evt)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}
	return result
}

// Recent returns the n most recent events.
func (l *Log) Recent(n int) []Event {
	return l.Query(Filter{Limit: n})
}

// Count returns the total event count.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// MarshalJSON exports all events as JSON.
func (l *Log) MarshalJSON() ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return json.Marshal(l.events)
}
