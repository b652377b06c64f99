// Package gate enforces a minimum inter-request interval per account and,
// optionally, blocks requests on manual operator approval. It runs after
// account selection and before the backend call, so a rejected request never
// consumes backend quota.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrNotApproved is the terminal failure for operator-rejected requests.
// It is never retried.
var ErrNotApproved = errors.New("request was not approved")

// Gate holds process-wide rate state. Timestamps and limiters are keyed by
// account id and are not persisted.
type Gate struct {
	interval time.Duration
	manual   bool

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastRequest map[string]time.Time

	pmu     sync.Mutex
	pending map[string]pendingEntry
}

// PendingApproval is one request waiting on the operator.
type PendingApproval struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type pendingEntry struct {
	createdAt time.Time
	done      chan bool
}

// New creates a gate. A zero interval disables rate limiting; manual enables
// the approval step.
func New(interval time.Duration, manual bool) *Gate {
	return &Gate{
		interval:    interval,
		manual:      manual,
		limiters:    make(map[string]*rate.Limiter),
		lastRequest: make(map[string]time.Time),
		pending:     make(map[string]pendingEntry),
	}
}

// Wait blocks until the account's minimum inter-request interval has
// elapsed, then records the new timestamp. With no interval configured it
// only records.
func (g *Gate) Wait(ctx context.Context, accountID string) error {
	if g.interval <= 0 {
		g.mu.Lock()
		g.lastRequest[accountID] = time.Now()
		g.mu.Unlock()
		return nil
	}

	limiter := g.limiter(accountID)
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	g.mu.Lock()
	g.lastRequest[accountID] = time.Now()
	g.mu.Unlock()
	return nil
}

// LastRequest returns the most recent recorded timestamp for an account.
func (g *Gate) LastRequest(accountID string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.lastRequest[accountID]
	return t, ok
}

func (g *Gate) limiter(accountID string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	limiter, ok := g.limiters[accountID]
	if !ok {
		// Burst 1 spaces requests exactly one interval apart.
		limiter = rate.NewLimiter(rate.Every(g.interval), 1)
		g.limiters[accountID] = limiter
	}
	return limiter
}

// AwaitApproval suspends the request until the operator resolves it via
// Resolve. A no-op when manual-approval mode is off.
func (g *Gate) AwaitApproval(ctx context.Context) error {
	if !g.manual {
		return nil
	}

	id := uuid.New().String()
	done := make(chan bool, 1)

	g.pmu.Lock()
	g.pending[id] = pendingEntry{createdAt: time.Now(), done: done}
	g.pmu.Unlock()

	defer func() {
		g.pmu.Lock()
		delete(g.pending, id)
		g.pmu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case accepted := <-done:
		if !accepted {
			return ErrNotApproved
		}
		return nil
	}
}

// Pending lists requests currently waiting on approval.
func (g *Gate) Pending() []PendingApproval {
	g.pmu.Lock()
	defer g.pmu.Unlock()

	out := make([]PendingApproval, 0, len(g.pending))
	for id, entry := range g.pending {
		out = append(out, PendingApproval{ID: id, CreatedAt: entry.createdAt})
	}
	return out
}

// Resolve accepts or rejects one pending request.
func (g *Gate) Resolve(id string, accept bool) error {
	g.pmu.Lock()
	entry, ok := g.pending[id]
	g.pmu.Unlock()

	if !ok {
		return errors.New("no such pending approval: " + id)
	}
	entry.done <- accept
	return nil
}
