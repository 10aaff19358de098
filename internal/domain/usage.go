package domain

import (
	"fmt"
	"time"
)

// OperationKind enumerates the metered AI tools.
type OperationKind string

const (
	KindTextQuestion  OperationKind = "text-question"
	KindImageQuestion OperationKind = "image-question"
	KindAudioSummary  OperationKind = "audio-summary"
	KindMindMap       OperationKind = "mind-map"
	KindChatTurn      OperationKind = "chat-turn"
	KindResearchPaper OperationKind = "research-paper"
	KindTextEditing   OperationKind = "text-editing"
	KindBookChapter   OperationKind = "book-chapter"
)

// OperationKinds lists every kind in menu order.
var OperationKinds = []OperationKind{
	KindTextQuestion,
	KindImageQuestion,
	KindAudioSummary,
	KindMindMap,
	KindChatTurn,
	KindResearchPaper,
	KindTextEditing,
	KindBookChapter,
}

// ParseOperationKind validates v against the closed set of kinds.
func ParseOperationKind(v string) (OperationKind, error) {
	for _, k := range OperationKinds {
		if string(k) == v {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown operation kind %q", ErrInvalidRequest, v)
}

// UsageStatus enumerates the lifecycle of a usage event.
type UsageStatus string

const (
	UsageStatusPending   UsageStatus = "pending"
	UsageStatusCommitted UsageStatus = "committed"
	UsageStatusRefunded  UsageStatus = "refunded"
	UsageStatusFailed    UsageStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s UsageStatus) Terminal() bool {
	return s != UsageStatusPending
}

// UsageEvent records one attempted, metered AI operation.
type UsageEvent struct {
	ID            string
	AccountID     string
	Kind          OperationKind
	SessionID     string
	DeclaredCost  int64
	Deducted      int64 // credits taken at deduction time
	ActualCost    int64
	InputRef      string
	Output        *string
	Status        UsageStatus
	FailureReason string
	Country       string
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// DeductRequest is the input of the single atomic deduction operation.
type DeductRequest struct {
	AccountID    string
	Kind         OperationKind
	SessionID    string
	Amount       int64
	DeclaredCost int64
	InputRef     string
	Country      string
}

// SettleRequest commits a pending event with its measured cost.
type SettleRequest struct {
	EventID    string
	ActualCost int64
	Output     string
}

// HistoryQuery selects a page of usage events, newest first.
type HistoryQuery struct {
	AccountID string
	SessionID string
	Kind      OperationKind
	Status    UsageStatus
	Before    *HistoryCursor
	Limit     int
}

// HistoryCursor is the keyset position after which the next page starts.
type HistoryCursor struct {
	CreatedAt time.Time
	ID        string
}

// ConversationThread groups chat turns sharing a session id. It is a
// query-time view and is never persisted.
type ConversationThread struct {
	SessionID    string
	Events       []UsageEvent
	StartedAt    time.Time
	LastActivity time.Time
	TotalCost    int64
}

// SettleCharge returns what a committed event finally costs. An actual cost
// above the deducted credits only takes what the balance can still cover.
func SettleCharge(deducted, actual, balance int64) int64 {
	if actual <= deducted {
		return actual
	}
	return deducted + min(actual-deducted, balance)
}
