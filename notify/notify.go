// Package notify delivers human-facing alerts: restock events, cooldown
// pauses, and the daily digest. Sinks are fire-and-forget from the
// engine's point of view: a failing sink is logged, never fatal to the
// poll loop.
package notify

import (
	"context"
	"time"
)

// Message is one outbound notification. Text is always set; Rich carries
// optional structured fields for sinks that can render them.
type Message struct {
	Kind string         `json:"kind"` // restock | pause | digest
	Text string         `json:"text"`
	Rich map[string]any `json:"rich,omitempty"`
	At   time.Time      `json:"at"`
}

// Sink delivers messages somewhere.
type Sink interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}
