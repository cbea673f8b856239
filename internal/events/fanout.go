package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// Sink is one named downstream of the fan-out.
type Sink struct {
	Name      string
	Publisher domain.EventPublisher
}

// Fanout publishes every event to all sinks. A failing sink is logged and
// reported but does not stop delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewFanout creates a Fanout over sinks.
func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger.With(slog.String("component", "events"))}
	for _, s := range sinks {
		if s.Publisher != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

// Add registers another sink.
func (f *Fanout) Add(s Sink) {
	if s.Publisher != nil {
		f.sinks = append(f.sinks, s)
	}
}

// Publish delivers ev to every sink and joins their errors.
func (f *Fanout) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publisher.Publish(ctx, ev); err != nil {
			f.logger.WarnContext(ctx, "event sink failed",
				slog.String("sink", s.Name),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("events: publish %s: %w", ev.Type, errors.Join(errs...))
	}
	return nil
}

// BusPublisher writes events to the redis pub/sub channel for live
// consumers and to the settlement stream for replay.
type BusPublisher struct {
	bus domain.SignalBus
}

// NewBusPublisher creates a BusPublisher on bus.
func NewBusPublisher(bus domain.SignalBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

func (b *BusPublisher) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := MarshalJSON(ev)
	if err != nil {
		return err
	}
	if err := b.bus.StreamAppend(ctx, domain.StreamSettlement, payload); err != nil {
		return fmt.Errorf("events: stream append: %w", err)
	}
	if err := b.bus.Publish(ctx, domain.ChannelSettlement, payload); err != nil {
		return fmt.Errorf("events: bus publish: %w", err)
	}
	return nil
}

// Replay reads settlement events after lastID from the durable stream.
func Replay(ctx context.Context, bus domain.SignalBus, lastID string, count int) ([]domain.Event, string, error) {
	msgs, err := bus.StreamRead(ctx, domain.StreamSettlement, lastID, count)
	if err != nil {
		return nil, lastID, fmt.Errorf("events: replay: %w", err)
	}
	out := make([]domain.Event, 0, len(msgs))
	for _, m := range msgs {
		ev, err := UnmarshalJSON(m.Payload)
		if err != nil {
			return out, lastID, err
		}
		out = append(out, ev)
		lastID = m.ID
	}
	return out, lastID, nil
}

var (
	_ domain.EventPublisher = (*Fanout)(nil)
	_ domain.EventPublisher = (*BusPublisher)(nil)
)
