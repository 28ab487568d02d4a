// Package lease serializes pipeline work per conversation. At most one worker
// drains a conversation at a time; a worker that cannot take the lease walks
// away and relies on the holder (or the reconciliation sweep) to finish the
// queue.
package lease

import (
	"context"
	"errors"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/rs/zerolog"
)

// ErrHeld is returned when another worker holds the conversation lease.
var ErrHeld = errors.New("conversation lease held")

// Manager hands out per-conversation leases backed by redsync.
type Manager struct {
	rs  *redsync.Redsync
	ttl time.Duration
	log zerolog.Logger
}

// NewManager builds a lease manager. ttl must exceed the drain timeout so a
// live drain never loses its lease mid-run.
func NewManager(rs *redsync.Redsync, ttl time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		rs:  rs,
		ttl: ttl,
		log: log.With().Str("component", "lease").Logger(),
	}
}

// Acquire takes the conversation lease with a single attempt. Returns ErrHeld
// when the lease is taken; contention is normal, not an error to retry.
func (m *Manager) Acquire(ctx context.Context, conversationID string) (*Lease, error) {
	mutex := m.rs.NewMutex(
		"lease:conversation:"+conversationID,
		redsync.WithExpiry(m.ttl),
		redsync.WithTries(1),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, ErrHeld
		}
		return nil, err
	}

	return &Lease{mutex: mutex, log: m.log.With().Str("conversation_id", conversationID).Logger()}, nil
}

// Lease is a held conversation lease.
type Lease struct {
	mutex *redsync.Mutex
	log   zerolog.Logger
}

// Release gives the lease back. An expired lease unlocks with an error, which
// is logged and swallowed: the expiry already released it.
func (l *Lease) Release(ctx context.Context) {
	if _, err := l.mutex.UnlockContext(ctx); err != nil {
		l.log.Warn().Err(err).Msg("failed to release conversation lease")
	}
}
