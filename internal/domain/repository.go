package domain

import (
	"context"
	"time"
)

// LedgerStore is the durable home of balances, usage events and grants.
// Every balance mutation happens inside one of its methods; implementations
// must serialize mutations per account and never let a balance go negative.
type LedgerStore interface {
	EnsureAccount(ctx context.Context, seed AccountSeed) (*Account, bool, error)
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	DeleteAccount(ctx context.Context, accountID string) error

	// Deduct decrements the balance and appends a pending event in one
	// all-or-nothing step. It returns *InsufficientError without any state
	// change when the amount exceeds the balance.
	Deduct(ctx context.Context, req DeductRequest) (*UsageEvent, int64, error)
	// Settle commits a pending event. Any extra charge beyond the held
	// credits is clamped to the available balance.
	Settle(ctx context.Context, req SettleRequest) (*UsageEvent, int64, error)
	// Refund returns the held credits of a pending event and moves it to
	// status (refunded or failed). Resolved events yield ErrEventResolved.
	Refund(ctx context.Context, eventID string, status UsageStatus, reason string) (*UsageEvent, int64, error)
	Grant(ctx context.Context, accountID string, amount int64) (int64, error)

	Subscribe(ctx context.Context, grant SubscriptionGrant) (*SubscriptionGrant, int64, error)
	CancelSubscription(ctx context.Context, grantID string) (*SubscriptionGrant, int64, int64, error)
	ExpireSubscriptions(ctx context.Context, now time.Time) (int, error)
	ActiveSubscription(ctx context.Context, accountID string) (*SubscriptionGrant, error)

	GetEvent(ctx context.Context, eventID string) (*UsageEvent, error)
	ListEvents(ctx context.Context, q HistoryQuery) ([]UsageEvent, error)
	StalePending(ctx context.Context, olderThan time.Time, limit int) ([]UsageEvent, error)
}
