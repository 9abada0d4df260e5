// Package refresh serializes token refresh. However many in-flight requests
// observe a stale token at once, a single refresh call reaches the backend per
// episode; everyone else waits for its outcome and retries with the rotated pair.
package refresh

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"leadpilot/authkit/internal/identity"
	"leadpilot/authkit/internal/logger"
)

// Op performs the actual refresh call against the backend and returns the new
// token pair.
type Op func(ctx context.Context) (*identity.TokenPair, error)

// Commit persists the rotated pair. It runs before any waiter is released, so no
// caller ever retries with a token older than the committed one.
type Commit func(pair *identity.TokenPair) error

type outcome struct {
	pair *identity.TokenPair
	err  error
}

// Coordinator guards the refresh critical section. The inflight flag is the only
// lock in the token lifecycle: while it is set, arriving callers queue as waiters
// instead of issuing their own refresh.
type Coordinator struct {
	mu       sync.Mutex
	inflight bool
	waiters  []chan outcome

	op      Op
	commit  Commit
	timeout time.Duration
	log     *zap.Logger
}

// defaultTimeout bounds a refresh episode when the caller does not.
const defaultTimeout = 30 * time.Second

// New returns a Coordinator running op and committing results through commit.
// timeout bounds each episode; a non-positive value means defaultTimeout.
// log may be nil.
func New(op Op, commit Commit, timeout time.Duration, log *zap.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Coordinator{
		op:      op,
		commit:  commit,
		timeout: timeout,
		log:     logger.OrNop(log),
	}
}

// Ensure returns a freshly rotated token pair. The first caller of an episode
// leads: it performs the refresh, commits the pair, and releases the waiters.
// Concurrent callers join the episode and share its outcome. A failed episode
// rejects every participant with the same error; there is no second-level retry.
func (c *Coordinator) Ensure(ctx context.Context) (*identity.TokenPair, error) {
	c.mu.Lock()
	if c.inflight {
		ch := make(chan outcome, 1)
		c.waiters = append(c.waiters, ch)
		c.mu.Unlock()
		select {
		case o := <-ch:
			return o.pair, o.err
		case <-ctx.Done():
			// The slot stays in the waiter list and is resolved normally; the
			// buffered channel means delivery never blocks on us.
			return nil, ctx.Err()
		}
	}
	c.inflight = true
	c.mu.Unlock()

	o := c.run()

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.inflight = false
	c.mu.Unlock()

	for _, ch := range waiters {
		ch <- o
	}
	return o.pair, o.err
}

// run executes one refresh episode. The episode is detached from any single
// caller's context: waiters queued behind the leader must not lose the result
// because the leader's request was canceled.
func (c *Coordinator) run() outcome {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	pair, err := c.op(ctx)
	if err != nil {
		c.log.Warn("token refresh failed", zap.Error(err))
		return outcome{err: err}
	}
	if err := c.commit(pair); err != nil {
		c.log.Error("refreshed token pair could not be persisted", zap.Error(err))
		return outcome{err: err}
	}
	c.log.Debug("token pair rotated", zap.String("session_id", pair.SessionID))
	return outcome{pair: pair}
}
