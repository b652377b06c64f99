// Package pool owns the in-memory account set, the Copilot bearer token
// lifecycle, and the account-selection policy.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/copilot-nexus/internal/db"
	"github.com/pysugar/copilot-nexus/internal/db/models"
	"github.com/pysugar/copilot-nexus/internal/upstream"
)

// ErrClientVersionNotSet is returned when an operation needs the editor
// client version before it has been initialized.
var ErrClientVersionNotSet = errors.New("client version has not been initialized")

// usageTTL is how long a quota snapshot is served from cache.
const usageTTL = 60 * time.Second

// Account is one backend identity: durable fields plus live state hydrated
// on first use. Live state is cleared whenever the GitHub token changes and
// is never persisted.
type Account struct {
	ID          string
	GithubToken string
	AccountType string
	Login       string

	CopilotToken string
	Models       *upstream.ModelsResponse
}

// Session builds the credential view the upstream client needs.
func (a *Account) Session() upstream.Session {
	return upstream.Session{
		GithubToken:  a.GithubToken,
		CopilotToken: a.CopilotToken,
		AccountType:  a.AccountType,
	}
}

type usageEntry struct {
	fetchedAt time.Time
	usage     *upstream.UsageResponse
}

// Pool is an explicit, injectable owner of all shared account state: the
// account list, conversation bindings, rotation cursor, usage cache, and the
// background refresh task registry. No package-level statics, so tests can
// run multiple independent pools.
type Pool struct {
	store   *db.Store
	backend *upstream.Client

	mu            sync.RWMutex
	clientVersion string
	accounts      []*Account
	bindings      map[string]string
	usage         map[string]usageEntry

	cursor atomic.Int64

	refreshMu sync.Mutex
	refresh   map[string]chan struct{}
}

// New creates an empty pool over the given store and backend client.
func New(store *db.Store, backend *upstream.Client) *Pool {
	p := &Pool{
		store:    store,
		backend:  backend,
		bindings: make(map[string]string),
		usage:    make(map[string]usageEntry),
		refresh:  make(map[string]chan struct{}),
	}
	p.cursor.Store(-1)
	return p
}

// SetClientVersion pins the process-wide editor version used on backend
// calls. Must be called before any account is made ready.
func (p *Pool) SetClientVersion(version string) {
	p.mu.Lock()
	p.clientVersion = version
	p.mu.Unlock()
}

// ClientVersion returns the pinned editor version, or "".
func (p *Pool) ClientVersion() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clientVersion
}

// Load reads all stored accounts, normalizing a missing account type to
// "individual" and resetting derived rotation and caching state. A store
// read failure logs and yields an empty pool rather than failing the caller.
func (p *Pool) Load() {
	stored, err := p.store.LoadAccounts()
	if err != nil {
		log.Printf("[pool] failed to load accounts, starting empty: %v", err)
		stored = nil
	}

	p.cancelAllRefresh()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.accounts = make([]*Account, 0, len(stored))
	for _, acc := range stored {
		accountType := acc.AccountType
		if accountType == "" {
			accountType = "individual"
		}
		p.accounts = append(p.accounts, &Account{
			ID:          acc.ID,
			GithubToken: acc.GithubToken,
			AccountType: accountType,
			Login:       acc.Login,
		})
	}
	p.bindings = make(map[string]string)
	p.usage = make(map[string]usageEntry)
	p.cursor.Store(-1)
	log.Printf("[pool] loaded %d accounts", len(p.accounts))
}

// persist writes the durable subset of every account. Callers hold no lock.
func (p *Pool) persist() error {
	p.mu.RLock()
	stored := make([]models.Account, 0, len(p.accounts))
	for _, acc := range p.accounts {
		stored = append(stored, models.Account{
			ID:          acc.ID,
			GithubToken: acc.GithubToken,
			AccountType: acc.AccountType,
			Login:       acc.Login,
		})
	}
	p.mu.RUnlock()

	if err := p.store.SaveAccounts(stored); err != nil {
		return fmt.Errorf("persist accounts: %w", err)
	}
	return nil
}

// Upsert merges a newly authenticated account into the pool. A match on id
// or GitHub token is the same account: its live bearer token and model cache
// are invalidated and its refresh task cancelled before persisting.
func (p *Pool) Upsert(account *Account) error {
	p.mu.Lock()
	var existing *Account
	for _, acc := range p.accounts {
		if acc.ID == account.ID || acc.GithubToken == account.GithubToken {
			existing = acc
			break
		}
	}

	if existing != nil {
		p.cancelRefresh(existing.ID)
		existing.ID = account.ID
		existing.GithubToken = account.GithubToken
		existing.AccountType = account.AccountType
		existing.Login = account.Login
		existing.CopilotToken = ""
		existing.Models = nil
		delete(p.usage, existing.ID)
	} else {
		p.accounts = append(p.accounts, account)
	}
	p.mu.Unlock()

	return p.persist()
}

// AddAccountWithToken registers an account from a pre-obtained long-lived
// GitHub credential. The id defaults to the GitHub login, else a generated
// opaque id.
func (p *Pool) AddAccountWithToken(ctx context.Context, githubToken, accountType string) (*Account, error) {
	if accountType == "" {
		accountType = "individual"
	}

	user, err := p.backend.FetchUser(ctx, githubToken)
	if err != nil {
		return nil, err
	}

	id := user.Login
	if id == "" {
		id = "account-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}

	account := &Account{
		ID:          id,
		GithubToken: githubToken,
		AccountType: accountType,
		Login:       user.Login,
	}
	if err := p.Upsert(account); err != nil {
		return nil, err
	}

	log.Printf("[pool] added account %q (type: %s)", account.ID, account.AccountType)
	return p.Find(account.ID), nil
}

// Accounts returns a snapshot of the pool.
func (p *Pool) Accounts() []*Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Account, len(p.accounts))
	copy(out, p.accounts)
	return out
}

// Find returns the account with the given id, or nil.
func (p *Pool) Find(id string) *Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, acc := range p.accounts {
		if acc.ID == id {
			return acc
		}
	}
	return nil
}

// Len returns the pool size.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.accounts)
}

// EnsureReady guarantees the account has a live bearer token and a populated
// capability catalog before use.
func (p *Pool) EnsureReady(ctx context.Context, account *Account) error {
	clientVersion := p.ClientVersion()
	if clientVersion == "" {
		return ErrClientVersionNotSet
	}

	p.mu.RLock()
	hasToken := account.CopilotToken != ""
	hasModels := account.Models != nil
	p.mu.RUnlock()

	if !hasToken {
		if err := p.hydrateCopilotToken(ctx, account, clientVersion); err != nil {
			return err
		}
	}

	if !hasModels {
		models, err := p.backend.FetchModels(ctx, account.Session(), clientVersion)
		if err != nil {
			return err
		}
		p.mu.Lock()
		account.Models = models
		p.mu.Unlock()
	}

	return nil
}

// hydrateCopilotToken exchanges the GitHub credential for a bearer token and
// schedules the recurring background refresh.
func (p *Pool) hydrateCopilotToken(ctx context.Context, account *Account, clientVersion string) error {
	token, err := p.backend.ExchangeCopilotToken(ctx, account.GithubToken, clientVersion)
	if err != nil {
		return err
	}

	p.mu.Lock()
	account.CopilotToken = token.Token
	p.mu.Unlock()

	interval := refreshInterval(token.RefreshIn)
	p.scheduleRefresh(account, clientVersion, interval)
	log.Printf("[%s] copilot token fetched, refresh in %s", account.ID, interval)
	return nil
}

// refreshInterval leaves a 60s safety margin, never dropping below 30s.
func refreshInterval(refreshIn int) time.Duration {
	secs := refreshIn - 60
	if secs < 30 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

// scheduleRefresh starts the per-account refresh task, cancelling any prior
// task first so at most one is live per account. A refresh failure is logged
// and retried on the next tick; requests holding the stale token keep using
// it until the in-place swap completes.
func (p *Pool) scheduleRefresh(account *Account, clientVersion string, interval time.Duration) {
	p.refreshMu.Lock()
	if stop, ok := p.refresh[account.ID]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	p.refresh[account.ID] = stop
	p.refreshMu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.mu.RLock()
				githubToken := account.GithubToken
				p.mu.RUnlock()
				token, err := p.backend.ExchangeCopilotToken(context.Background(), githubToken, clientVersion)
				if err != nil {
					log.Printf("[%s] failed to refresh copilot token: %v", account.ID, err)
					continue
				}
				if !p.applyRefreshedToken(account, stop, token.Token) {
					return
				}
			}
		}
	}()
}

// applyRefreshedToken installs a freshly exchanged bearer token unless the
// task was cancelled while the exchange was in flight. Invalidation closes
// the stop channel before clearing live state, so a racing refresh either
// observes the close here or has its stale write overwritten by the clear.
func (p *Pool) applyRefreshedToken(account *Account, stop chan struct{}, token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-stop:
		return false
	default:
	}
	account.CopilotToken = token
	return true
}

// RefreshTaskCount reports how many refresh tasks are live.
func (p *Pool) RefreshTaskCount() int {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	return len(p.refresh)
}

func (p *Pool) cancelRefresh(accountID string) {
	p.refreshMu.Lock()
	if stop, ok := p.refresh[accountID]; ok {
		close(stop)
		delete(p.refresh, accountID)
	}
	p.refreshMu.Unlock()
}

func (p *Pool) cancelAllRefresh() {
	p.refreshMu.Lock()
	for id, stop := range p.refresh {
		close(stop)
		delete(p.refresh, id)
	}
	p.refreshMu.Unlock()
}

// Close cancels every background refresh task.
func (p *Pool) Close() {
	p.cancelAllRefresh()
}

// Rehydrate discards the account's live bearer token and model cache and
// fetches them again immediately.
func (p *Pool) Rehydrate(ctx context.Context, account *Account) error {
	p.cancelRefresh(account.ID)
	p.mu.Lock()
	account.CopilotToken = ""
	account.Models = nil
	delete(p.usage, account.ID)
	p.mu.Unlock()
	return p.EnsureReady(ctx, account)
}

// Usage returns the account's quota snapshot, served from cache while fresh
// (60s). A fetch failure propagates; stale data is never served as a
// fallback.
func (p *Pool) Usage(ctx context.Context, account *Account) (*upstream.UsageResponse, error) {
	clientVersion := p.ClientVersion()
	if clientVersion == "" {
		return nil, ErrClientVersionNotSet
	}

	p.mu.RLock()
	entry, ok := p.usage[account.ID]
	p.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < usageTTL {
		return entry.usage, nil
	}

	usage, err := p.backend.FetchUsage(ctx, account.Session(), clientVersion)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.usage[account.ID] = usageEntry{fetchedAt: time.Now(), usage: usage}
	p.mu.Unlock()
	return usage, nil
}

// Bind pins a conversation to an account. Last writer wins.
func (p *Pool) Bind(conversationID, accountID string) {
	p.mu.Lock()
	p.bindings[conversationID] = accountID
	p.mu.Unlock()
}

// Binding returns the account id bound to a conversation, or "".
func (p *Pool) Binding(conversationID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bindings[conversationID]
}
