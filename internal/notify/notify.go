// Package notify pushes human-readable trading events to an external
// channel. Delivery is fire-and-forget: a failed or slow push is logged and
// dropped, never surfaced to the trading path.
package notify

import (
	"fmt"
	"time"
)

// EventType classifies a notification event.
type EventType string

const (
	EventSignal EventType = "SIGNAL"
	EventEntry  EventType = "ENTRY"
	EventExit   EventType = "EXIT"
	EventError  EventType = "ERROR"
)

// Event is a structured notification.
type Event struct {
	Type    EventType
	Symbol  string
	Details string
	At      time.Time
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Symbol, e.Details)
}

// Notifier delivers events. Implementations must not block the caller beyond
// a short internal timeout and must not return errors into trading logic.
type Notifier interface {
	Notify(event Event)
}

// Nop is a Notifier that discards all events.
type Nop struct{}

func (Nop) Notify(Event) {}
