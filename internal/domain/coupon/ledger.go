package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// DefaultCommitTimeout bounds a single ledger commit when none is configured.
const DefaultCommitTimeout = 2 * time.Second

// Commit is the outcome of a ledger commit attempt.
type Commit struct {
	Committed bool
	NewCount  int
	Reason    Reason
}

// Ledger commits redemptions against a coupon's usage limit.
type Ledger interface {
	TryCommit(ctx context.Context, c *Coupon) (Commit, error)
}

var _ Ledger = (*RepoLedger)(nil)

// RepoLedger implements Ledger on top of a store's atomic conditional
// increment, so the limit holds across processes sharing the store.
type RepoLedger struct {
	store   UsageStore
	timeout time.Duration
}

// NewRepoLedger creates a RepoLedger. A non-positive timeout selects
// DefaultCommitTimeout.
func NewRepoLedger(store UsageStore, timeout time.Duration) *RepoLedger {
	if timeout <= 0 {
		timeout = DefaultCommitTimeout
	}
	return &RepoLedger{store: store, timeout: timeout}
}

// TryCommit increments the usage counter of c if a slot remains. Any store
// error, including a timeout, is returned with Committed=false: an
// indeterminate commit is never reported as successful.
func (l *RepoLedger) TryCommit(ctx context.Context, c *Coupon) (Commit, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	n, ok, err := l.store.IncrementUsage(ctx, c.ID)
	if err != nil {
		return Commit{}, errors.Wrap(err, "increment usage")
	}
	if !ok {
		return Commit{Reason: ReasonLimitReached}, nil
	}
	return Commit{Committed: true, NewCount: n}, nil
}
