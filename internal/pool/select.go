package pool

import (
	"context"
	"errors"
	"log"
)

// ErrNoAccounts is returned when selection runs against an empty pool.
var ErrNoAccounts = errors.New("no accounts configured")

// SelectOptions carries the routing inputs for one request.
type SelectOptions struct {
	// ExplicitAccountID pins the request to one account while it has quota.
	// An unknown or exhausted id falls through to the remaining steps.
	ExplicitAccountID string
	// ConversationID keys conversation affinity. Empty disables binding.
	ConversationID string
	// Model filters candidates to accounts whose catalog lists it. Empty
	// means any account qualifies.
	Model string
}

// Select picks the account serving this request and makes it ready.
//
// Precedence: explicit pin while the pinned account exists and has quota,
// then a live conversation binding (kept only while the bound account still
// serves the model and has quota), then round-robin over supporting accounts
// with quota. When no supporting account has quota left the first account in
// the pool is used anyway so the backend, not a possibly stale snapshot,
// issues the final verdict.
func (p *Pool) Select(ctx context.Context, opts SelectOptions) (*Account, error) {
	p.mu.RLock()
	n := len(p.accounts)
	p.mu.RUnlock()
	if n == 0 {
		return nil, ErrNoAccounts
	}

	if opts.ExplicitAccountID != "" {
		if account := p.Find(opts.ExplicitAccountID); account != nil {
			if err := p.EnsureReady(ctx, account); err != nil {
				return nil, err
			}
			if p.hasQuota(ctx, account) {
				p.rebind(opts.ConversationID, account.ID)
				return account, nil
			}
		}
		// Unknown or exhausted pin: fall through to affinity and rotation.
	}

	if opts.ConversationID != "" {
		if boundID := p.Binding(opts.ConversationID); boundID != "" {
			if account := p.Find(boundID); account != nil {
				if err := p.EnsureReady(ctx, account); err != nil {
					return nil, err
				}
				if p.supports(account, opts.Model) && p.hasQuota(ctx, account) {
					return account, nil
				}
			}
			// Binding is stale: fall through and let rotation rebind.
		}
	}

	account, err := p.rotate(ctx, opts.Model)
	if err != nil {
		return nil, err
	}
	p.rebind(opts.ConversationID, account.ID)
	return account, nil
}

// rotate advances the shared cursor and returns the next supporting account
// with quota, hydrating each candidate before consulting its catalog. When no
// account both supports the model and has quota, the first account in the
// pool is returned so the request fails at the backend instead of here.
func (p *Pool) rotate(ctx context.Context, model string) (*Account, error) {
	p.mu.RLock()
	accounts := make([]*Account, len(p.accounts))
	copy(accounts, p.accounts)
	p.mu.RUnlock()

	n := int64(len(accounts))
	base := p.cursor.Add(1)

	for k := int64(0); k < n; k++ {
		idx := (base + k) % n
		if idx < 0 {
			idx += n
		}
		account := accounts[idx]
		if err := p.EnsureReady(ctx, account); err != nil {
			return nil, err
		}
		if !p.supports(account, model) {
			continue
		}
		if p.hasQuota(ctx, account) {
			if k > 0 {
				p.cursor.Add(k)
			}
			return account, nil
		}
	}

	fallback := accounts[0]
	log.Printf("[pool] no usable account for the request, falling back to %q", fallback.ID)
	return fallback, nil
}

// supports reports whether the account can serve the model. Candidates are
// hydrated before this check; a still-missing catalog is assumed capable.
func (p *Pool) supports(account *Account, model string) bool {
	if model == "" {
		return true
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if account.Models == nil {
		return true
	}
	return account.Models.Has(model)
}

// hasQuota checks the premium-interactions snapshot. A missing snapshot or a
// failed usage fetch counts as available; the backend call is the source of
// truth.
func (p *Pool) hasQuota(ctx context.Context, account *Account) bool {
	usage, err := p.Usage(ctx, account)
	if err != nil {
		log.Printf("[%s] usage check failed, assuming quota available: %v", account.ID, err)
		return true
	}
	premium := usage.QuotaSnapshots.PremiumInteractions
	if premium == nil {
		return true
	}
	return premium.Unlimited || premium.Remaining > 0
}

func (p *Pool) rebind(conversationID, accountID string) {
	if conversationID == "" {
		return
	}
	p.Bind(conversationID, accountID)
}
