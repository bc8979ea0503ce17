// Package pvcache keeps the most recent value and arrival time of every
// subscribed channel. It is the only view of the bus the scheduler sees.
package pvcache

import (
	"sync"
	"time"

	"pvimport/internal/logs"
)

// Transport is the slice of the channel access client the cache uses.
// The address list must already be configured on the transport before
// Start is called.
type Transport interface {
	Subscribe(name string, onUpdate func(name string, value any)) error
}

type sample struct {
	value any
	at    time.Time
}

// Cache is safe for concurrent use: transport worker threads write,
// the scheduler reads. Updates are lossy-latest.
type Cache struct {
	tr  Transport
	now func() time.Time

	mu      sync.RWMutex
	samples map[string]sample
}

func New(tr Transport) *Cache {
	return &Cache{
		tr:      tr,
		now:     time.Now,
		samples: map[string]sample{},
	}
}

// Start subscribes to every name once. Subscription failures are logged
// and otherwise ignored: a channel that never connects is simply never
// updated, and all queries on it report stale/absent.
func (c *Cache) Start(names []string) {
	seen := map[string]bool{}
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if err := c.tr.Subscribe(name, c.update); err != nil {
			logs.Logger.Warnf("subscribe %s: %v", name, err)
		}
	}
	logs.Logger.Infof("monitoring %d channels", len(seen))
}

func (c *Cache) update(name string, value any) {
	if b, ok := value.([]byte); ok {
		value = string(b)
	}
	c.mu.Lock()
	c.samples[name] = sample{value: value, at: c.now()}
	c.mu.Unlock()
}

// Get returns the most recent scalar for the channel.
func (c *Cache) Get(name string) (any, bool) {
	c.mu.RLock()
	s, ok := c.samples[name]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.value, true
}

// Age returns the wall-clock time elapsed since the last update.
func (c *Cache) Age(name string) (time.Duration, bool) {
	c.mu.RLock()
	s, ok := c.samples[name]
	c.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return c.now().Sub(s.at), true
}

// Stale reports whether the channel has aged past the threshold, or has
// never updated at all.
func (c *Cache) Stale(name string, threshold time.Duration) bool {
	age, ok := c.Age(name)
	if !ok {
		return true
	}
	return age >= threshold
}

// Len returns the number of channels with at least one update.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.samples)
}
