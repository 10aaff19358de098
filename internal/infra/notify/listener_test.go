package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type recordingCache struct {
	mu      sync.Mutex
	dropped []string
	all     int
}

func (c *recordingCache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, id)
}

func (c *recordingCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.all++
}

func TestConsumeInvalidatesNotifiedAccounts(t *testing.T) {
	cache := &recordingCache{}
	l := NewBalanceListener("", cache, zerolog.Nop())

	ch := make(chan *pq.Notification, 4)
	ch <- &pq.Notification{Channel: BalanceChannel, Extra: "acct-1"}
	ch <- nil
	ch <- &pq.Notification{Channel: BalanceChannel, Extra: " "}
	ch <- &pq.Notification{Channel: BalanceChannel, Extra: "acct-2"}
	close(ch)

	l.consume(context.Background(), ch)

	assert.Equal(t, []string{"acct-1", "acct-2"}, cache.dropped)
	assert.Equal(t, 1, cache.all)
}

func TestConsumeStopsOnCancel(t *testing.T) {
	l := NewBalanceListener("", &recordingCache{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.consume(ctx, make(chan *pq.Notification))
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consume did not return after cancel")
	}
}
