// Package events defines the domain events emitted after committed ledger
// mutations and the publishers that deliver them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poudelalish/blockchain-inventory/pkg/domain"
)

// Type names an event kind. It doubles as the routing key suffix.
type Type string

// Event kinds.
const (
	RoleRegistered  Type = "role.registered"
	ProductCreated  Type = "product.created"
	ProductAdvanced Type = "product.advanced"
)

// Event is a committed ledger mutation.
type Event struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Operation  string          `json:"operation"`
	Caller     domain.Address  `json:"caller"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// New builds an event with a fresh ID, encoding payload as JSON.
func New(typ Type, operation string, call domain.Call, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Operation:  operation,
		Caller:     call.Caller,
		OccurredAt: call.At,
		Payload:    raw,
	}, nil
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out any) error {
	return json.Unmarshal(e.Payload, out)
}

// Publisher delivers events. Publish is called after the mutation committed,
// so a failure never rolls the ledger back.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (Nop) Close() error { return nil }

// Memory retains published events in order.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory returns an empty in-process publisher.
func NewMemory() *Memory { return &Memory{} }

// Publish implements Publisher.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Close implements Publisher.
func (m *Memory) Close() error { return nil }

// Events returns a copy of the published events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
