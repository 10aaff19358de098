package handlers

import (
	"encoding/json"
	"time"

	"quizora/internal/domain"
)

type accountDTO struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	Balance          int64     `json:"balance"`
	LifetimeConsumed int64     `json:"lifetime_consumed"`
	CreatedAt        time.Time `json:"created_at"`
	Subscription     *grantDTO `json:"subscription"`
}

type grantDTO struct {
	ID               string     `json:"id"`
	Plan             string     `json:"plan"`
	Credits          int64      `json:"credits"`
	CreditsRemaining int64      `json:"credits_remaining"`
	PricePaid        int64      `json:"price_paid"`
	Status           string     `json:"status"`
	ValidFrom        time.Time  `json:"valid_from"`
	ValidUntil       *time.Time `json:"valid_until"`
}

type eventDTO struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	SessionID     string          `json:"session_id,omitempty"`
	Status        string          `json:"status"`
	DeclaredCost  int64           `json:"declared_cost"`
	ActualCost    int64           `json:"actual_cost"`
	Input         string          `json:"input"`
	Output        *string         `json:"output"`
	Structured    json.RawMessage `json:"structured,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Country       string          `json:"country,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ResolvedAt    *time.Time      `json:"resolved_at"`
}

type threadDTO struct {
	SessionID    string     `json:"session_id"`
	StartedAt    time.Time  `json:"started_at"`
	LastActivity time.Time  `json:"last_activity"`
	TotalCost    int64      `json:"total_cost"`
	Turns        []eventDTO `json:"turns"`
}

var structuredKinds = map[domain.OperationKind]bool{
	domain.KindMindMap:       true,
	domain.KindResearchPaper: true,
	domain.KindBookChapter:   true,
}

func toAccountDTO(a *domain.Account, g *domain.SubscriptionGrant) accountDTO {
	return accountDTO{
		ID:               a.ID,
		Email:            a.Email,
		Role:             string(a.Role),
		Balance:          a.Balance,
		LifetimeConsumed: a.LifetimeConsumed,
		CreatedAt:        a.CreatedAt,
		Subscription:     toGrantDTO(g),
	}
}

func toGrantDTO(g *domain.SubscriptionGrant) *grantDTO {
	if g == nil {
		return nil
	}
	return &grantDTO{
		ID:               g.ID,
		Plan:             g.Plan,
		Credits:          g.Credits,
		CreditsRemaining: g.CreditsRemaining,
		PricePaid:        g.PricePaid,
		Status:           string(g.Status),
		ValidFrom:        g.ValidFrom,
		ValidUntil:       g.ValidUntil,
	}
}

func toEventDTO(ev domain.UsageEvent) eventDTO {
	dto := eventDTO{
		ID:            ev.ID,
		Kind:          string(ev.Kind),
		SessionID:     ev.SessionID,
		Status:        string(ev.Status),
		DeclaredCost:  ev.DeclaredCost,
		ActualCost:    ev.ActualCost,
		Input:         ev.InputRef,
		Output:        ev.Output,
		FailureReason: ev.FailureReason,
		Country:       ev.Country,
		CreatedAt:     ev.CreatedAt,
		ResolvedAt:    ev.ResolvedAt,
	}
	if structuredKinds[ev.Kind] && ev.Output != nil && json.Valid([]byte(*ev.Output)) {
		dto.Structured = json.RawMessage(*ev.Output)
	}
	return dto
}

func toEventDTOs(evs []domain.UsageEvent) []eventDTO {
	out := make([]eventDTO, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toEventDTO(ev))
	}
	return out
}

func toThreadDTOs(threads []domain.ConversationThread) []threadDTO {
	out := make([]threadDTO, 0, len(threads))
	for _, th := range threads {
		out = append(out, threadDTO{
			SessionID:    th.SessionID,
			StartedAt:    th.StartedAt,
			LastActivity: th.LastActivity,
			TotalCost:    th.TotalCost,
			Turns:        toEventDTOs(th.Events),
		})
	}
	return out
}
