package domain

import (
	"context"
	"time"
)

// EventType names a settlement event.
type EventType string

const (
	EventVaultInitialized  EventType = "vault.initialized"
	EventVaultFinalized    EventType = "vault.finalized"
	EventExecution         EventType = "vault.execution"
	EventProposalCreated   EventType = "proposal.created"
	EventProposalFinalized EventType = "proposal.finalized"
)

// Event is a settlement event fanned out to the bus, the websocket hub and
// the message queue.
type Event struct {
	ID         string
	Type       EventType
	ProposalID string
	VaultID    string
	Attributes map[string]any
	CreatedAt  time.Time
}

// EventPublisher emits settlement events to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Channel names used on the signal bus.
const (
	ChannelSettlement = "ch:settlement"
	StreamSettlement  = "stream:settlement"
)
