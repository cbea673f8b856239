package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/condvault/internal/cache/redis"
	"github.com/alanyoungcy/condvault/internal/domain"
)

func sampleEvent() domain.Event {
	return domain.Event{
		ID:         "e1",
		Type:       domain.EventVaultFinalized,
		ProposalID: "p1",
		VaultID:    "v1",
		Attributes: map[string]any{
			"leg":    domain.LegBase,
			"status": domain.ExecutionSuccess,
			"amount": uint64(1_000_000),
			"mints":  []string{"a", "b"},
		},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	b, err := Encode(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 0, 0}, b[:4])

	ev, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, domain.EventVaultFinalized, ev.Type)
	assert.Equal(t, "v1", ev.VaultID)
	assert.Equal(t, "base", ev.Attributes["leg"])
	assert.Equal(t, "success", ev.Attributes["status"])
	assert.EqualValues(t, 1_000_000, ev.Attributes["amount"])
	assert.Equal(t, []any{"a", "b"}, ev.Attributes["mints"])
	assert.True(t, ev.CreatedAt.Equal(sampleEvent().CreatedAt))
}

func TestEnvelopeIsDeterministic(t *testing.T) {
	a, err := Encode(sampleEvent())
	require.NoError(t, err)
	b, err := Encode(sampleEvent())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeRejectsBadEnvelopes(t *testing.T) {
	_, err := Decode([]byte{1})
	assert.Error(t, err)
	_, err = Decode([]byte{99, 0, 0, 0})
	assert.Error(t, err)

	b, err := Encode(sampleEvent())
	require.NoError(t, err)
	b[0] = 1
	_, err = Decode(b)
	assert.Error(t, err, "code and body type disagree")

	_, err = Encode(domain.Event{Type: "unknown"})
	assert.Error(t, err)
}

type sinkFunc func(context.Context, domain.Event) error

func (f sinkFunc) Publish(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }

func TestFanoutDeliversToAllSinks(t *testing.T) {
	var got []string
	ok := sinkFunc(func(_ context.Context, ev domain.Event) error { got = append(got, ev.ID); return nil })
	bad := sinkFunc(func(context.Context, domain.Event) error { return errors.New("down") })

	f := NewFanout(slog.New(slog.NewTextHandler(io.Discard, nil)),
		Sink{Name: "a", Publisher: ok},
		Sink{Name: "bad", Publisher: bad},
		Sink{Name: "nil"},
	)
	f.Add(Sink{Name: "b", Publisher: ok})

	err := f.Publish(context.Background(), sampleEvent())
	assert.ErrorContains(t, err, "bad")
	assert.Equal(t, []string{"e1", "e1"}, got)
}

func TestBusPublisherAndReplay(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	bus := redis.NewSignalBus(redis.Wrap(rdb, "cv:"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := bus.Subscribe(ctx, domain.ChannelSettlement)
	require.NoError(t, err)

	p := NewBusPublisher(bus)
	require.NoError(t, p.Publish(ctx, sampleEvent()))
	second := sampleEvent()
	second.ID = "e2"
	require.NoError(t, p.Publish(ctx, second))

	select {
	case msg := <-sub:
		ev, err := UnmarshalJSON(msg)
		require.NoError(t, err)
		assert.Equal(t, "e1", ev.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no live event")
	}

	evs, last, err := Replay(ctx, bus, "0", 10)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "e2", evs[1].ID)

	rest, _, err := Replay(ctx, bus, last, 10)
	require.NoError(t, err)
	assert.Empty(t, rest)
}
