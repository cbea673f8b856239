package domain

import (
	"context"
	"time"
)

// RateLimiter throttles API clients. Allow reports whether one more request
// under key fits into limit requests per window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager serializes work on one proposal across processes. Acquire
// fails with ErrLockHeld while another holder's lease is live; the returned
// unlock is idempotent and never releases a lease taken over after expiry.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// FeeCache shares priority fee estimates between instances, keyed by the
// writable account set of a transaction.
type FeeCache interface {
	GetFee(ctx context.Context, key string) (microLamports uint64, ok bool, err error)
	SetFee(ctx context.Context, key string, microLamports uint64, ttl time.Duration) error
}

// StreamMessage is one replayable settlement event.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries settlement events to WebSocket clients. Publish and
// Subscribe are live fan-out; the stream methods keep a bounded history
// that late subscribers replay from.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, afterID string, count int) ([]StreamMessage, error)
}
