package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"quizora/internal/domain"
	"quizora/internal/infra"
	"quizora/internal/sqlinline"
)

// TxRunner is the part of infra.SQLRunner the ledger needs.
type TxRunner interface {
	infra.SQLExecutor
	InTx(ctx context.Context, fn func(q infra.SQLExecutor) error) error
}

// LedgerPG implements domain.LedgerStore on PostgreSQL. Every mutation locks
// the account row first, so deductions on one account are serialized and no
// two transactions take the account and event locks in different orders.
type LedgerPG struct {
	db TxRunner
}

var _ domain.LedgerStore = (*LedgerPG)(nil)

// NewLedgerRepository constructs the store.
func NewLedgerRepository(db TxRunner) *LedgerPG {
	return &LedgerPG{db: db}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (r *LedgerPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, sqlinline.QEnsureSchema); err != nil {
		return dbErr("ensure schema", err)
	}
	return nil
}

func (r *LedgerPG) EnsureAccount(ctx context.Context, seed domain.AccountSeed) (*domain.Account, bool, error) {
	if seed.ID == "" {
		return nil, false, fmt.Errorf("%w: account id is required", domain.ErrInvalidRequest)
	}
	role := seed.Role
	if role == "" {
		role = domain.AccountRoleUser
	}
	var (
		acct    domain.Account
		created bool
	)
	row := r.db.QueryRow(ctx, sqlinline.QUpsertAccount, seed.ID, seed.Email, string(role), max(seed.StartingBalance, 0))
	if err := row.Scan(&acct.ID, &acct.Email, &acct.Role, &acct.Balance, &acct.LifetimeConsumed, &acct.CreatedAt, &acct.UpdatedAt, &created); err != nil {
		return nil, false, dbErr("ensure account", err)
	}
	return &acct, created, nil
}

func (r *LedgerPG) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	return scanAccount(r.db.QueryRow(ctx, sqlinline.QSelectAccount, accountID))
}

func (r *LedgerPG) DeleteAccount(ctx context.Context, accountID string) error {
	tag, err := r.db.Exec(ctx, sqlinline.QDeleteAccount, accountID)
	if err != nil {
		return dbErr("delete account", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *LedgerPG) Deduct(ctx context.Context, req domain.DeductRequest) (*domain.UsageEvent, int64, error) {
	if req.Amount < 1 {
		return nil, 0, fmt.Errorf("%w: deduction amount must be positive", domain.ErrInvalidRequest)
	}
	var (
		ev      *domain.UsageEvent
		balance int64
	)
	err := r.inTx(ctx, "deduct", func(q infra.SQLExecutor) error {
		var err error
		if balance, err = lockBalance(ctx, q, req.AccountID); err != nil {
			return err
		}
		if req.Amount > balance {
			return &domain.InsufficientError{Balance: balance, Requested: req.Amount}
		}
		if balance, err = adjust(ctx, q, req.AccountID, -req.Amount, 0); err != nil {
			return err
		}
		ev, err = scanEvent(q.QueryRow(ctx, sqlinline.QInsertUsageEvent,
			uuid.NewString(), req.AccountID, string(req.Kind), req.SessionID,
			req.DeclaredCost, req.Amount, req.InputRef, req.Country,
		))
		if err != nil {
			return err
		}
		return notify(ctx, q, req.AccountID)
	})
	if err != nil {
		return nil, balance, err
	}
	return ev, balance, nil
}

func (r *LedgerPG) Settle(ctx context.Context, req domain.SettleRequest) (*domain.UsageEvent, int64, error) {
	if req.ActualCost < 0 {
		return nil, 0, fmt.Errorf("%w: actual cost must not be negative", domain.ErrInvalidRequest)
	}
	accountID, err := r.eventOwner(ctx, req.EventID)
	if err != nil {
		return nil, 0, err
	}
	var (
		ev      *domain.UsageEvent
		balance int64
	)
	err = r.inTx(ctx, "settle", func(q infra.SQLExecutor) error {
		var err error
		if balance, err = lockBalance(ctx, q, accountID); err != nil {
			return err
		}
		if ev, err = scanEvent(q.QueryRow(ctx, sqlinline.QLockUsageEvent, req.EventID)); err != nil {
			return err
		}
		if ev.Status.Terminal() {
			return domain.ErrEventResolved
		}
		charged := domain.SettleCharge(ev.Deducted, req.ActualCost, balance)
		if balance, err = adjust(ctx, q, accountID, ev.Deducted-charged, charged); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, sqlinline.QConsumeActiveGrant, accountID, charged); err != nil {
			return dbErr("consume grant", err)
		}
		if ev, err = scanEvent(q.QueryRow(ctx, sqlinline.QCommitUsageEvent, req.EventID, charged, req.Output)); err != nil {
			return err
		}
		return notify(ctx, q, accountID)
	})
	if errors.Is(err, domain.ErrEventResolved) {
		return ev, balance, err
	}
	if err != nil {
		return nil, 0, err
	}
	return ev, balance, nil
}

func (r *LedgerPG) Refund(ctx context.Context, eventID string, status domain.UsageStatus, reason string) (*domain.UsageEvent, int64, error) {
	if status != domain.UsageStatusRefunded && status != domain.UsageStatusFailed {
		return nil, 0, fmt.Errorf("%w: refund status %q", domain.ErrInvalidRequest, status)
	}
	accountID, err := r.eventOwner(ctx, eventID)
	if err != nil {
		return nil, 0, err
	}
	var (
		ev      *domain.UsageEvent
		balance int64
	)
	err = r.inTx(ctx, "refund", func(q infra.SQLExecutor) error {
		var err error
		if balance, err = lockBalance(ctx, q, accountID); err != nil {
			return err
		}
		if ev, err = scanEvent(q.QueryRow(ctx, sqlinline.QLockUsageEvent, eventID)); err != nil {
			return err
		}
		if ev.Status.Terminal() {
			return domain.ErrEventResolved
		}
		if balance, err = adjust(ctx, q, accountID, ev.Deducted, 0); err != nil {
			return err
		}
		if ev, err = scanEvent(q.QueryRow(ctx, sqlinline.QRefundUsageEvent, eventID, string(status), reason)); err != nil {
			return err
		}
		return notify(ctx, q, accountID)
	})
	if errors.Is(err, domain.ErrEventResolved) {
		return ev, balance, err
	}
	if err != nil {
		return nil, 0, err
	}
	return ev, balance, nil
}

func (r *LedgerPG) Grant(ctx context.Context, accountID string, amount int64) (int64, error) {
	if amount < 1 {
		return 0, fmt.Errorf("%w: grant amount must be positive", domain.ErrInvalidRequest)
	}
	var balance int64
	err := r.inTx(ctx, "grant", func(q infra.SQLExecutor) error {
		var err error
		if _, err = lockBalance(ctx, q, accountID); err != nil {
			return err
		}
		if balance, err = adjust(ctx, q, accountID, amount, 0); err != nil {
			return err
		}
		return notify(ctx, q, accountID)
	})
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *LedgerPG) Subscribe(ctx context.Context, grant domain.SubscriptionGrant) (*domain.SubscriptionGrant, int64, error) {
	if grant.Credits < 1 {
		return nil, 0, fmt.Errorf("%w: grant credits must be positive", domain.ErrInvalidRequest)
	}
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	if grant.ValidFrom.IsZero() {
		grant.ValidFrom = time.Now().UTC()
	}
	var (
		out     *domain.SubscriptionGrant
		balance int64
	)
	err := r.inTx(ctx, "subscribe", func(q infra.SQLExecutor) error {
		var err error
		if _, err = lockBalance(ctx, q, grant.AccountID); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, sqlinline.QExpireLapsedGrantForAccount, grant.AccountID); err != nil {
			return dbErr("expire lapsed grant", err)
		}
		var active bool
		if err := q.QueryRow(ctx, sqlinline.QActiveGrantExists, grant.AccountID).Scan(&active); err != nil {
			return dbErr("active grant", err)
		}
		if active {
			return domain.ErrAlreadyActive
		}
		out, err = scanGrant(q.QueryRow(ctx, sqlinline.QInsertGrant,
			grant.ID, grant.AccountID, grant.Plan, grant.Credits, grant.PricePaid, grant.ValidFrom, grant.ValidUntil,
		))
		if err != nil {
			return err
		}
		if balance, err = adjust(ctx, q, grant.AccountID, grant.Credits, 0); err != nil {
			return err
		}
		return notify(ctx, q, grant.AccountID)
	})
	if err != nil {
		return nil, 0, err
	}
	return out, balance, nil
}

func (r *LedgerPG) CancelSubscription(ctx context.Context, grantID string) (*domain.SubscriptionGrant, int64, int64, error) {
	var accountID string
	if err := r.db.QueryRow(ctx, sqlinline.QSelectGrantOwner, grantID).Scan(&accountID); err != nil {
		return nil, 0, 0, dbErr("grant owner", err)
	}
	var (
		grant     *domain.SubscriptionGrant
		reclaimed int64
		balance   int64
	)
	err := r.inTx(ctx, "cancel subscription", func(q infra.SQLExecutor) error {
		var err error
		if balance, err = lockBalance(ctx, q, accountID); err != nil {
			return err
		}
		if grant, err = scanGrant(q.QueryRow(ctx, sqlinline.QLockGrant, grantID)); err != nil {
			return err
		}
		if grant.Status != domain.SubscriptionActive {
			return domain.ErrNotActive
		}
		reclaimed = min(grant.CreditsRemaining, balance)
		if balance, err = adjust(ctx, q, accountID, -reclaimed, 0); err != nil {
			return err
		}
		if grant, err = scanGrant(q.QueryRow(ctx, sqlinline.QCancelGrant, grantID, reclaimed)); err != nil {
			return err
		}
		return notify(ctx, q, accountID)
	})
	if errors.Is(err, domain.ErrNotActive) {
		return grant, 0, balance, err
	}
	if err != nil {
		return nil, 0, 0, err
	}
	return grant, reclaimed, balance, nil
}

func (r *LedgerPG) ExpireSubscriptions(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, sqlinline.QExpireLapsedGrants, now)
	if err != nil {
		return 0, dbErr("expire subscriptions", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *LedgerPG) ActiveSubscription(ctx context.Context, accountID string) (*domain.SubscriptionGrant, error) {
	return scanGrant(r.db.QueryRow(ctx, sqlinline.QSelectActiveGrant, accountID))
}

func (r *LedgerPG) GetEvent(ctx context.Context, eventID string) (*domain.UsageEvent, error) {
	return scanEvent(r.db.QueryRow(ctx, sqlinline.QSelectUsageEvent, eventID))
}

func (r *LedgerPG) ListEvents(ctx context.Context, q domain.HistoryQuery) ([]domain.UsageEvent, error) {
	var (
		before   *time.Time
		beforeID string
	)
	if q.Before != nil {
		at := q.Before.CreatedAt
		before, beforeID = &at, q.Before.ID
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.db.Query(ctx, sqlinline.QListUsageEvents,
		q.AccountID, q.SessionID, string(q.Kind), string(q.Status), before, beforeID, limit)
	if err != nil {
		return nil, dbErr("list events", err)
	}
	return collectEvents(rows)
}

func (r *LedgerPG) StalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.UsageEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, sqlinline.QSelectStalePending, olderThan, limit)
	if err != nil {
		return nil, dbErr("stale pending", err)
	}
	return collectEvents(rows)
}

// inTx wraps begin and commit failures as persistence errors and passes
// errors returned by fn through untouched.
func (r *LedgerPG) inTx(ctx context.Context, op string, fn func(q infra.SQLExecutor) error) error {
	var fnErr error
	err := r.db.InTx(ctx, func(q infra.SQLExecutor) error {
		fnErr = fn(q)
		return fnErr
	})
	if err != nil && fnErr == nil {
		return dbErr(op, err)
	}
	return err
}

func (r *LedgerPG) eventOwner(ctx context.Context, eventID string) (string, error) {
	var accountID string
	if err := r.db.QueryRow(ctx, sqlinline.QSelectUsageEventOwner, eventID).Scan(&accountID); err != nil {
		return "", dbErr("event owner", err)
	}
	return accountID, nil
}

func lockBalance(ctx context.Context, q infra.SQLExecutor, accountID string) (int64, error) {
	var balance int64
	if err := q.QueryRow(ctx, sqlinline.QLockAccountBalance, accountID).Scan(&balance); err != nil {
		return 0, dbErr("lock account", err)
	}
	return balance, nil
}

func adjust(ctx context.Context, q infra.SQLExecutor, accountID string, delta, consumed int64) (int64, error) {
	var balance int64
	if err := q.QueryRow(ctx, sqlinline.QAdjustAccount, accountID, delta, consumed).Scan(&balance); err != nil {
		return 0, dbErr("adjust balance", err)
	}
	return balance, nil
}

func notify(ctx context.Context, q infra.SQLExecutor, accountID string) error {
	if _, err := q.Exec(ctx, sqlinline.QNotifyBalanceChange, accountID); err != nil {
		return dbErr("notify", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.Email, &a.Role, &a.Balance, &a.LifetimeConsumed, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, dbErr("scan account", err)
	}
	return &a, nil
}

func scanEvent(row pgx.Row) (*domain.UsageEvent, error) {
	var ev domain.UsageEvent
	err := row.Scan(
		&ev.ID, &ev.AccountID, &ev.Kind, &ev.SessionID, &ev.DeclaredCost, &ev.Deducted, &ev.ActualCost,
		&ev.InputRef, &ev.Output, &ev.Status, &ev.FailureReason, &ev.Country, &ev.CreatedAt, &ev.ResolvedAt,
	)
	if err != nil {
		return nil, dbErr("scan event", err)
	}
	return &ev, nil
}

func collectEvents(rows pgx.Rows) ([]domain.UsageEvent, error) {
	defer rows.Close()
	var events []domain.UsageEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("iterate events", err)
	}
	return events, nil
}

func scanGrant(row pgx.Row) (*domain.SubscriptionGrant, error) {
	var g domain.SubscriptionGrant
	err := row.Scan(
		&g.ID, &g.AccountID, &g.Plan, &g.Credits, &g.CreditsRemaining, &g.PricePaid, &g.Status,
		&g.ValidFrom, &g.ValidUntil, &g.CreatedAt, &g.ResolvedAt,
	)
	if err != nil {
		return nil, dbErr("scan grant", err)
	}
	return &g, nil
}

// dbErr maps driver failures onto the ledger error taxonomy.
func dbErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("ledger: %s: %w: %w", op, domain.ErrPersistence, err)
}
