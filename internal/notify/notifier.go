// Package notify alerts operators about settlement events over Telegram and
// Discord.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier turns settlement events into operator alerts. It implements
// domain.EventPublisher so it can sit in the event fan-out.
type Notifier struct {
	senders []Sender
	events  map[domain.EventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. events lists the event types to alert on;
// empty means proposal finalizations and failed executions.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.EventType]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[domain.EventType(e)] = true
		}
	}
	if len(allowed) == 0 {
		allowed[domain.EventProposalFinalized] = true
		allowed[domain.EventExecution] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Publish alerts on ev if its type is enabled. Successful executions are
// never alerted.
func (n *Notifier) Publish(ctx context.Context, ev domain.Event) error {
	if !n.events[ev.Type] {
		return nil
	}
	if ev.Type == domain.EventExecution && ev.Attributes["status"] == string(domain.ExecutionSuccess) {
		return nil
	}
	title, body := format(ev)
	return n.dispatch(ctx, title, body)
}

func format(ev domain.Event) (string, string) {
	var title string
	switch ev.Type {
	case domain.EventProposalFinalized:
		title = fmt.Sprintf("Proposal %s finalized: %v", ev.ProposalID, ev.Attributes["status"])
	case domain.EventExecution:
		title = fmt.Sprintf("Execution %v on vault %s", ev.Attributes["status"], ev.VaultID)
	default:
		title = fmt.Sprintf("%s %s", ev.Type, ev.ProposalID)
	}

	keys := make([]string, 0, len(ev.Attributes))
	for k := range ev.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	fmt.Fprintf(&b, "proposal: %s\n", ev.ProposalID)
	if ev.VaultID != "" {
		fmt.Fprintf(&b, "vault: %s\n", ev.VaultID)
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Attributes[k])
	}
	return title, strings.TrimRight(b.String(), "\n")
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent", slog.String("sender", s.Name()), slog.String("title", title))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

var _ domain.EventPublisher = (*Notifier)(nil)
