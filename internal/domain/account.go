package domain

import "time"

// AccountRole enumerates supported roles.
type AccountRole string

const (
	AccountRoleUser  AccountRole = "user"
	AccountRoleAdmin AccountRole = "admin"
)

// ParseAccountRole maps free-form input onto a known role, defaulting to user.
func ParseAccountRole(v string) AccountRole {
	if AccountRole(v) == AccountRoleAdmin {
		return AccountRoleAdmin
	}
	return AccountRoleUser
}

// Account holds the credit balance of one authenticated identity.
type Account struct {
	ID               string
	Email            string
	Role             AccountRole
	Balance          int64
	LifetimeConsumed int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsAdmin reports whether the account may use administrative operations.
func (a Account) IsAdmin() bool {
	return a.Role == AccountRoleAdmin
}

// AccountSeed is what the identity provider tells us about a user on first sight.
type AccountSeed struct {
	ID              string
	Email           string
	Role            AccountRole
	StartingBalance int64
}
