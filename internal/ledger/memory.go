package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"quizora/internal/domain"
)

// MemoryStore is an in-process LedgerStore. A single mutex linearizes every
// mutation, which gives the same per-account guarantees as the row locks of
// the Postgres store. It backs tests and LEDGER_DRIVER=memory.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
	events   map[string]*domain.UsageEvent
	grants   map[string]*domain.SubscriptionGrant
	now      func() time.Time
	last     time.Time
}

var _ domain.LedgerStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*domain.Account),
		events:   make(map[string]*domain.UsageEvent),
		grants:   make(map[string]*domain.SubscriptionGrant),
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// tick returns a strictly increasing timestamp so history ordering is stable.
// Must be called with lock held.
func (s *MemoryStore) tick() time.Time {
	t := s.now().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Microsecond)
	}
	s.last = t
	return t
}

func (s *MemoryStore) EnsureAccount(_ context.Context, seed domain.AccountSeed) (*domain.Account, bool, error) {
	if seed.ID == "" {
		return nil, false, fmt.Errorf("%w: account id is required", domain.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct, ok := s.accounts[seed.ID]; ok {
		if seed.Email != "" && seed.Email != acct.Email {
			acct.Email = seed.Email
			acct.UpdatedAt = s.tick()
		}
		cp := *acct
		return &cp, false, nil
	}
	role := seed.Role
	if role == "" {
		role = domain.AccountRoleUser
	}
	now := s.tick()
	acct := &domain.Account{
		ID:        seed.ID,
		Email:     seed.Email,
		Role:      role,
		Balance:   max(seed.StartingBalance, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.accounts[seed.ID] = acct
	cp := *acct
	return &cp, true, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *acct
	return &cp, nil
}

func (s *MemoryStore) DeleteAccount(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return domain.ErrNotFound
	}
	delete(s.accounts, accountID)
	for id, ev := range s.events {
		if ev.AccountID == accountID {
			delete(s.events, id)
		}
	}
	for id, g := range s.grants {
		if g.AccountID == accountID {
			delete(s.grants, id)
		}
	}
	return nil
}

func (s *MemoryStore) Deduct(_ context.Context, req domain.DeductRequest) (*domain.UsageEvent, int64, error) {
	if req.Amount < 1 {
		return nil, 0, fmt.Errorf("%w: deduction amount must be positive", domain.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[req.AccountID]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	if req.Amount > acct.Balance {
		return nil, acct.Balance, &domain.InsufficientError{Balance: acct.Balance, Requested: req.Amount}
	}
	now := s.tick()
	acct.Balance -= req.Amount
	acct.UpdatedAt = now

	ev := &domain.UsageEvent{
		ID:           uuid.NewString(),
		AccountID:    req.AccountID,
		Kind:         req.Kind,
		SessionID:    req.SessionID,
		DeclaredCost: req.DeclaredCost,
		Deducted:     req.Amount,
		InputRef:     req.InputRef,
		Status:       domain.UsageStatusPending,
		Country:      req.Country,
		CreatedAt:    now,
	}
	s.events[ev.ID] = ev
	return cloneEvent(ev), acct.Balance, nil
}

func (s *MemoryStore) Settle(_ context.Context, req domain.SettleRequest) (*domain.UsageEvent, int64, error) {
	if req.ActualCost < 0 {
		return nil, 0, fmt.Errorf("%w: actual cost must not be negative", domain.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[req.EventID]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	acct, ok := s.accounts[ev.AccountID]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	if ev.Status.Terminal() {
		return cloneEvent(ev), acct.Balance, domain.ErrEventResolved
	}

	charged := domain.SettleCharge(ev.Deducted, req.ActualCost, acct.Balance)
	now := s.tick()
	acct.Balance -= charged - ev.Deducted
	acct.LifetimeConsumed += charged
	acct.UpdatedAt = now
	if g := s.activeGrantLocked(acct.ID); g != nil {
		g.CreditsRemaining -= min(charged, g.CreditsRemaining)
	}

	output := req.Output
	ev.Output = &output
	ev.ActualCost = charged
	ev.Status = domain.UsageStatusCommitted
	ev.ResolvedAt = &now
	return cloneEvent(ev), acct.Balance, nil
}

func (s *MemoryStore) Refund(_ context.Context, eventID string, status domain.UsageStatus, reason string) (*domain.UsageEvent, int64, error) {
	if status != domain.UsageStatusRefunded && status != domain.UsageStatusFailed {
		return nil, 0, fmt.Errorf("%w: refund status %q", domain.ErrInvalidRequest, status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	acct, ok := s.accounts[ev.AccountID]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	if ev.Status.Terminal() {
		return cloneEvent(ev), acct.Balance, domain.ErrEventResolved
	}
	now := s.tick()
	acct.Balance += ev.Deducted
	acct.UpdatedAt = now

	ev.ActualCost = 0
	ev.Status = status
	ev.FailureReason = reason
	ev.ResolvedAt = &now
	return cloneEvent(ev), acct.Balance, nil
}

func (s *MemoryStore) Grant(_ context.Context, accountID string, amount int64) (int64, error) {
	if amount < 1 {
		return 0, fmt.Errorf("%w: grant amount must be positive", domain.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	acct.Balance += amount
	acct.UpdatedAt = s.tick()
	return acct.Balance, nil
}

func (s *MemoryStore) Subscribe(_ context.Context, grant domain.SubscriptionGrant) (*domain.SubscriptionGrant, int64, error) {
	if grant.Credits < 1 {
		return nil, 0, fmt.Errorf("%w: grant credits must be positive", domain.ErrInvalidRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[grant.AccountID]
	if !ok {
		return nil, 0, domain.ErrNotFound
	}
	now := s.tick()
	if prev := s.activeGrantLocked(acct.ID); prev != nil {
		if prev.ValidUntil == nil || prev.ValidUntil.After(now) {
			return nil, acct.Balance, domain.ErrAlreadyActive
		}
		prev.Status = domain.SubscriptionExpired
		prev.ResolvedAt = &now
	}
	g := grant
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.ValidFrom.IsZero() {
		g.ValidFrom = now
	}
	g.Status = domain.SubscriptionActive
	g.CreditsRemaining = g.Credits
	g.CreatedAt = now
	g.ResolvedAt = nil
	s.grants[g.ID] = &g

	acct.Balance += g.Credits
	acct.UpdatedAt = now
	cp := g
	return &cp, acct.Balance, nil
}

func (s *MemoryStore) CancelSubscription(_ context.Context, grantID string) (*domain.SubscriptionGrant, int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.grants[grantID]
	if !ok {
		return nil, 0, 0, domain.ErrNotFound
	}
	acct, ok := s.accounts[g.AccountID]
	if !ok {
		return nil, 0, 0, domain.ErrNotFound
	}
	if g.Status != domain.SubscriptionActive {
		cp := *g
		return &cp, 0, acct.Balance, domain.ErrNotActive
	}
	now := s.tick()
	reclaimed := min(g.CreditsRemaining, acct.Balance)
	acct.Balance -= reclaimed
	acct.UpdatedAt = now
	g.CreditsRemaining -= reclaimed
	g.Status = domain.SubscriptionCancelled
	g.ResolvedAt = &now
	cp := *g
	return &cp, reclaimed, acct.Balance, nil
}

func (s *MemoryStore) ExpireSubscriptions(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, g := range s.grants {
		if g.Status == domain.SubscriptionActive && g.ExpiredAt(now) {
			resolved := now
			g.Status = domain.SubscriptionExpired
			g.ResolvedAt = &resolved
			expired++
		}
	}
	return expired, nil
}

func (s *MemoryStore) ActiveSubscription(_ context.Context, accountID string) (*domain.SubscriptionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.activeGrantLocked(accountID)
	if g == nil {
		return nil, domain.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) activeGrantLocked(accountID string) *domain.SubscriptionGrant {
	for _, g := range s.grants {
		if g.AccountID == accountID && g.Status == domain.SubscriptionActive {
			return g
		}
	}
	return nil
}

func (s *MemoryStore) GetEvent(_ context.Context, eventID string) (*domain.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneEvent(ev), nil
}

func (s *MemoryStore) ListEvents(_ context.Context, q domain.HistoryQuery) ([]domain.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.UsageEvent
	for _, ev := range s.events {
		if ev.AccountID != q.AccountID {
			continue
		}
		if q.SessionID != "" && ev.SessionID != q.SessionID {
			continue
		}
		if q.Kind != "" && ev.Kind != q.Kind {
			continue
		}
		if q.Status != "" && ev.Status != q.Status {
			continue
		}
		if q.Before != nil && !before(ev, q.Before) {
			continue
		}
		out = append(out, *cloneEvent(ev))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) StalePending(_ context.Context, olderThan time.Time, limit int) ([]domain.UsageEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.UsageEvent
	for _, ev := range s.events {
		if ev.Status == domain.UsageStatusPending && ev.CreatedAt.Before(olderThan) {
			out = append(out, *cloneEvent(ev))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// before reports whether ev sorts strictly after the cursor in newest-first order.
func before(ev *domain.UsageEvent, c *domain.HistoryCursor) bool {
	if ev.CreatedAt.Equal(c.CreatedAt) {
		return ev.ID < c.ID
	}
	return ev.CreatedAt.Before(c.CreatedAt)
}

func cloneEvent(ev *domain.UsageEvent) *domain.UsageEvent {
	cp := *ev
	if ev.Output != nil {
		out := *ev.Output
		cp.Output = &out
	}
	if ev.ResolvedAt != nil {
		at := *ev.ResolvedAt
		cp.ResolvedAt = &at
	}
	return &cp
}
