// Package notify keeps per-process balance caches coherent across API
// replicas by listening for the balance notifications the ledger repository
// emits inside every balance-changing transaction.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// BalanceChannel is the Postgres channel carrying changed account ids.
const BalanceChannel = "quizora_balance"

const (
	minReconnect = 2 * time.Second
	maxReconnect = time.Minute
	pingInterval = 90 * time.Second
)

// Invalidator drops cached balances. ledger.BalanceCache satisfies it.
type Invalidator interface {
	Invalidate(accountID string)
	InvalidateAll()
}

// BalanceListener invalidates cache entries for every notified account.
type BalanceListener struct {
	dsn    string
	cache  Invalidator
	logger zerolog.Logger
}

func NewBalanceListener(dsn string, cache Invalidator, logger zerolog.Logger) *BalanceListener {
	return &BalanceListener{dsn: dsn, cache: cache, logger: logger}
}

// Run listens until ctx is cancelled.
func (l *BalanceListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, minReconnect, maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.logger.Warn().Err(err).Int("event", int(ev)).Msg("balance listener connection event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(BalanceChannel); err != nil {
		return fmt.Errorf("listen %s: %w", BalanceChannel, err)
	}
	l.logger.Info().Str("channel", BalanceChannel).Msg("balance listener started")

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ping.C:
				if err := listener.Ping(); err != nil {
					l.logger.Warn().Err(err).Msg("balance listener ping failed")
				}
			}
		}
	}()

	l.consume(ctx, listener.Notify)
	return nil
}

// consume applies notifications until ctx ends or the channel closes. A nil
// notification means the connection was re-established and events may have
// been missed, so every entry is dropped.
func (l *BalanceListener) consume(ctx context.Context, ch <-chan *pq.Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if n == nil {
				l.cache.InvalidateAll()
				continue
			}
			if id := strings.TrimSpace(n.Extra); id != "" {
				l.cache.Invalidate(id)
			}
		}
	}
}
