// Package ledger implements the credit accounting protocol around metered
// AI calls: authorize, deduct, invoke, reconcile.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"quizora/internal/domain"
	"quizora/internal/pricing"
)

const (
	defaultFinalizeTimeout = 10 * time.Second
	maxFailureReason       = 300
)

// Options configures a Service.
type Options struct {
	Logger          zerolog.Logger
	Cache           *BalanceCache
	FinalizeTimeout time.Duration
	Now             func() time.Time
}

// Service is the only entry point feature code uses to move credits.
type Service struct {
	store           domain.LedgerStore
	catalog         *pricing.Catalog
	cache           *BalanceCache
	logger          zerolog.Logger
	finalizeTimeout time.Duration
	now             func() time.Time
}

// NewService wires a ledger service over store.
func NewService(store domain.LedgerStore, catalog *pricing.Catalog, opts Options) *Service {
	if catalog == nil {
		catalog = pricing.Default()
	}
	if opts.Cache == nil {
		opts.Cache = NewBalanceCache()
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = defaultFinalizeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:           store,
		catalog:         catalog,
		cache:           opts.Cache,
		logger:          opts.Logger,
		finalizeTimeout: opts.FinalizeTimeout,
		now:             opts.Now,
	}
}

// Authorization is the answer to "can this account afford this kind now".
type Authorization struct {
	Authorized bool
	Balance    int64
	Cost       int64
	Shortfall  int64
}

// ChargeRequest describes one metered operation.
type ChargeRequest struct {
	AccountID string
	Kind      domain.OperationKind
	SessionID string
	InputRef  string
	Country   string
}

// Outcome is what a successful AI call produced.
type Outcome struct {
	Output string
}

// Receipt reports the resolved event and the balance after resolution.
type Receipt struct {
	Event   *domain.UsageEvent
	Balance int64
}

func (s *Service) Catalog() *pricing.Catalog { return s.catalog }

// Cache exposes the balance cache so listeners can invalidate it.
func (s *Service) Cache() *BalanceCache { return s.cache }

// EnsureAccount creates the account with the starting balance on first sight.
func (s *Service) EnsureAccount(ctx context.Context, id, email string, role domain.AccountRole) (*domain.Account, error) {
	acct, created, err := s.store.EnsureAccount(ctx, domain.AccountSeed{
		ID:              id,
		Email:           email,
		Role:            role,
		StartingBalance: s.catalog.StartingCredits,
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Info().Str("account_id", id).Int64("balance", acct.Balance).Msg("account created")
	}
	return acct, nil
}

func (s *Service) Account(ctx context.Context, id string) (*domain.Account, error) {
	_, stamp, _ := s.cache.Lookup(id)
	acct, err := s.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Fill(id, acct.Balance, stamp)
	return acct, nil
}

// Balance returns the displayed balance, served from the cache when possible.
func (s *Service) Balance(ctx context.Context, id string) (int64, error) {
	if bal, _, ok := s.cache.Lookup(id); ok {
		return bal, nil
	}
	acct, err := s.Account(ctx, id)
	if err != nil {
		return 0, err
	}
	return acct.Balance, nil
}

// Authorize checks the balance against the declared cost of kind. It has no
// side effects; the deduction re-checks under lock.
func (s *Service) Authorize(ctx context.Context, accountID string, kind domain.OperationKind) (Authorization, error) {
	cost := s.catalog.DeclaredCost(kind)
	bal, err := s.Balance(ctx, accountID)
	if err != nil {
		return Authorization{}, err
	}
	auth := Authorization{Authorized: bal >= cost, Balance: bal, Cost: cost}
	if !auth.Authorized {
		auth.Shortfall = cost - bal
	}
	return auth, nil
}

// Deduct is the single canonical deduction. It invalidates the cached balance
// whatever the outcome.
func (s *Service) Deduct(ctx context.Context, req domain.DeductRequest) (*domain.UsageEvent, int64, error) {
	ev, bal, err := s.store.Deduct(ctx, req)
	s.cache.Invalidate(req.AccountID)
	if err != nil {
		var insufficient *domain.InsufficientError
		if errors.As(err, &insufficient) {
			s.logger.Info().Str("account_id", req.AccountID).Str("kind", string(req.Kind)).
				Int64("balance", insufficient.Balance).Int64("requested", insufficient.Requested).Msg("deduction refused")
		}
		return nil, bal, err
	}
	s.logger.Debug().Str("account_id", req.AccountID).Str("event_id", ev.ID).Str("kind", string(req.Kind)).
		Int64("amount", req.Amount).Int64("balance", bal).Msg("credits deducted")
	return ev, bal, nil
}

// Charge deducts the declared cost, runs invoke and always reconciles the
// pending event: a result settles it, an error or panic refunds it. A panic is
// re-raised once the refund has been attempted. On an invoke error the
// returned receipt describes the refunded event.
func (s *Service) Charge(ctx context.Context, req ChargeRequest, invoke func(context.Context) (Outcome, error)) (*Receipt, error) {
	cost := s.catalog.DeclaredCost(req.Kind)
	ev, _, err := s.Deduct(ctx, domain.DeductRequest{
		AccountID:    req.AccountID,
		Kind:         req.Kind,
		SessionID:    req.SessionID,
		Amount:       cost,
		DeclaredCost: cost,
		InputRef:     req.InputRef,
		Country:      req.Country,
	})
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			_, _ = s.finalize(ctx, ev, Outcome{}, fmt.Errorf("panic: %v", p))
			panic(p)
		}
	}()

	out, invokeErr := invoke(ctx)
	return s.finalize(ctx, ev, out, invokeErr)
}

func (s *Service) finalize(ctx context.Context, ev *domain.UsageEvent, out Outcome, invokeErr error) (*Receipt, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout)
	defer cancel()

	rec, err := s.Reconcile(fctx, ev, out, invokeErr)
	if err != nil {
		s.logger.Error().Err(err).Str("account_id", ev.AccountID).Str("event_id", ev.ID).
			Msg("reconcile failed; event left pending for sweep")
		if invokeErr != nil {
			return nil, invokeErr
		}
		return nil, err
	}
	if invokeErr != nil {
		return rec, invokeErr
	}
	return rec, nil
}

// Reconcile resolves a pending event. With a nil invokeErr the event is
// settled at the measured cost of out; otherwise its deduction is refunded.
// Resolving an already resolved event returns ErrEventResolved together with
// a receipt of the unchanged state.
func (s *Service) Reconcile(ctx context.Context, ev *domain.UsageEvent, out Outcome, invokeErr error) (*Receipt, error) {
	if invokeErr != nil {
		return s.refund(ctx, ev.ID, ev.AccountID, domain.UsageStatusRefunded, failureReason(invokeErr))
	}
	cost := s.catalog.MeasuredCost(ev.Kind, utf8.RuneCountInString(out.Output))
	updated, bal, err := s.store.Settle(ctx, domain.SettleRequest{
		EventID:    ev.ID,
		ActualCost: cost,
		Output:     out.Output,
	})
	s.cache.Invalidate(ev.AccountID)
	if err != nil {
		return receipt(updated, bal), err
	}
	if updated.ActualCost < cost {
		s.logger.Warn().Str("account_id", ev.AccountID).Str("event_id", ev.ID).
			Int64("measured", cost).Int64("charged", updated.ActualCost).Msg("settlement clamped to balance")
	}
	s.logger.Info().Str("account_id", ev.AccountID).Str("event_id", ev.ID).Str("kind", string(ev.Kind)).
		Int64("cost", updated.ActualCost).Int64("balance", bal).Msg("usage committed")
	return &Receipt{Event: updated, Balance: bal}, nil
}

func (s *Service) refund(ctx context.Context, eventID, accountID string, status domain.UsageStatus, reason string) (*Receipt, error) {
	updated, bal, err := s.store.Refund(ctx, eventID, status, reason)
	s.cache.Invalidate(accountID)
	if err != nil {
		return receipt(updated, bal), err
	}
	s.logger.Info().Str("account_id", accountID).Str("event_id", eventID).Str("status", string(status)).
		Str("reason", reason).Int64("balance", bal).Msg("usage refunded")
	return &Receipt{Event: updated, Balance: bal}, nil
}

func (s *Service) Grant(ctx context.Context, accountID string, amount int64) (int64, error) {
	bal, err := s.store.Grant(ctx, accountID, amount)
	s.cache.Invalidate(accountID)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Str("account_id", accountID).Int64("amount", amount).Int64("balance", bal).Msg("credits granted")
	return bal, nil
}

// GrantFromPlan builds the grant a purchase of the named catalog plan creates.
func (s *Service) GrantFromPlan(accountID, plan string) (domain.SubscriptionGrant, error) {
	p, err := s.catalog.Plan(plan)
	if err != nil {
		return domain.SubscriptionGrant{}, err
	}
	now := s.now().UTC()
	g := domain.SubscriptionGrant{
		AccountID: accountID,
		Plan:      strings.ToLower(strings.TrimSpace(plan)),
		Credits:   p.Credits,
		PricePaid: p.Price,
		ValidFrom: now,
	}
	if p.Days > 0 {
		until := now.AddDate(0, 0, p.Days)
		g.ValidUntil = &until
	}
	return g, nil
}

// Subscribe activates the named plan for the account. An account holds at most
// one active grant; a renewal needs the previous one cancelled or lapsed.
func (s *Service) Subscribe(ctx context.Context, accountID, plan string) (*domain.SubscriptionGrant, int64, error) {
	g, err := s.GrantFromPlan(accountID, plan)
	if err != nil {
		return nil, 0, err
	}
	grant, bal, err := s.store.Subscribe(ctx, g)
	s.cache.Invalidate(accountID)
	if err != nil {
		return nil, 0, err
	}
	s.logger.Info().Str("account_id", accountID).Str("grant_id", grant.ID).Str("plan", grant.Plan).
		Int64("credits", grant.Credits).Int64("balance", bal).Msg("subscription granted")
	return grant, bal, nil
}

func (s *Service) CancelSubscription(ctx context.Context, grantID string) (*domain.SubscriptionGrant, int64, int64, error) {
	grant, reclaimed, bal, err := s.store.CancelSubscription(ctx, grantID)
	if grant != nil {
		s.cache.Invalidate(grant.AccountID)
	}
	if err != nil {
		return grant, 0, bal, err
	}
	s.logger.Info().Str("account_id", grant.AccountID).Str("grant_id", grant.ID).
		Int64("reclaimed", reclaimed).Int64("balance", bal).Msg("subscription cancelled")
	return grant, reclaimed, bal, nil
}

func (s *Service) ActiveSubscription(ctx context.Context, accountID string) (*domain.SubscriptionGrant, error) {
	return s.store.ActiveSubscription(ctx, accountID)
}

// ExpireSubscriptions ends every active grant whose validity has passed.
func (s *Service) ExpireSubscriptions(ctx context.Context) (int, error) {
	n, err := s.store.ExpireSubscriptions(ctx, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info().Int("count", n).Msg("subscriptions expired")
	}
	return n, nil
}

func (s *Service) DeleteAccount(ctx context.Context, accountID string) error {
	err := s.store.DeleteAccount(ctx, accountID)
	s.cache.Invalidate(accountID)
	if err != nil {
		return err
	}
	s.logger.Warn().Str("account_id", accountID).Msg("account deleted")
	return nil
}

func receipt(ev *domain.UsageEvent, bal int64) *Receipt {
	if ev == nil {
		return nil
	}
	return &Receipt{Event: ev, Balance: bal}
}

func failureReason(err error) string {
	reason := err.Error()
	if utf8.RuneCountInString(reason) <= maxFailureReason {
		return reason
	}
	return string([]rune(reason)[:maxFailureReason])
}
