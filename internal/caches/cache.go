package caches

import (
	"encoding/json"
	"strings"
	"sync"
	"time"
)

const (
	KindMessages   = "messages"
	KindPageTokens = "pageTokens"
	KindLabels     = "labels"
)

// Key is an ordered (identity, kind, boxID[, subKey]) tuple.
type Key []string

func NewKey(identity, kind, boxID string, sub ...string) Key {
	key := Key{identity, kind, boxID}
	return append(key, sub...)
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, "|", `\|`)

// String joins the escaped components with "|". Every separator in the
// output is unescaped, so distinct keys never render the same.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, part := range k {
		parts[i] = keyEscaper.Replace(part)
	}
	return strings.Join(parts, "|")
}

type entry struct {
	value   []byte
	written time.Time
}

// Cache is an in-memory TTL store of serialized result sets. Expired entries
// are ignored on read and replaced on the next write; nothing is evicted.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) Get(key Key) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key.String()]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.written) >= c.ttl {
		return nil, false
	}
	return e.value, true
}

// Set stores a private copy of value, replacing any previous entry.
func (c *Cache) Set(key Key, value []byte) {
	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	c.entries[key.String()] = entry{value: stored, written: c.now()}
	c.mu.Unlock()
}

func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	delete(c.entries, key.String())
	c.mu.Unlock()
}

// GetJSON decodes a live entry into out. A corrupt entry is treated as a miss.
func (c *Cache) GetJSON(key Key, out interface{}) bool {
	raw, ok := c.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false
	}
	return true
}

func (c *Cache) SetJSON(key Key, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.Set(key, raw)
	return nil
}
