package domain

import "time"

// SubscriptionStatus enumerates grant lifecycle states. Transitions only go
// from active to expired or cancelled.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// SubscriptionGrant is a credit top-up tied to a plan.
type SubscriptionGrant struct {
	ID               string
	AccountID        string
	Plan             string
	Credits          int64
	CreditsRemaining int64 // grant credits not yet consumed by committed events
	PricePaid        int64
	Status           SubscriptionStatus
	ValidFrom        time.Time
	ValidUntil       *time.Time
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// ExpiredAt reports whether the validity window has closed at now.
func (g SubscriptionGrant) ExpiredAt(now time.Time) bool {
	return g.ValidUntil != nil && !now.Before(*g.ValidUntil)
}
