package ledger

import "sync"

// BalanceCache is the single in-process source for displayed balances. It
// never expires entries on its own: every ledger mutation invalidates the
// account explicitly, and other processes invalidate through the
// balance-change listener.
type BalanceCache struct {
	mu      sync.Mutex
	entries map[string]int64
	gens    map[string]uint64
	// epoch moves on InvalidateAll so fills started before it are dropped
	// even for accounts that were not cached at the time.
	epoch uint64
}

// CacheStamp is the cache state observed by Lookup.
type CacheStamp struct {
	epoch, gen uint64
}

// NewBalanceCache creates an empty cache.
func NewBalanceCache() *BalanceCache {
	return &BalanceCache{
		entries: make(map[string]int64),
		gens:    make(map[string]uint64),
	}
}

// Lookup returns the cached balance and the stamp a later Fill must match.
func (c *BalanceCache) Lookup(accountID string) (int64, CacheStamp, bool) {
	if c == nil {
		return 0, CacheStamp{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.entries[accountID]
	return bal, CacheStamp{epoch: c.epoch, gen: c.gens[accountID]}, ok
}

// Fill stores a balance read from the ledger unless the account was
// invalidated since the matching Lookup.
func (c *BalanceCache) Fill(accountID string, balance int64, stamp CacheStamp) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != stamp.epoch || c.gens[accountID] != stamp.gen {
		return
	}
	c.entries[accountID] = balance
}

// Invalidate drops the cached balance of one account.
func (c *BalanceCache) Invalidate(accountID string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, accountID)
	c.gens[accountID]++
}

// InvalidateAll drops every entry, e.g. after the listener reconnects and
// notifications may have been missed.
func (c *BalanceCache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.entries = make(map[string]int64)
	c.gens = make(map[string]uint64)
}
