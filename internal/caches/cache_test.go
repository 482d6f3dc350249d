package caches

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(ttl)
	cache.now = clock.Now
	return cache, clock
}

func TestCache_SetThenGet(t *testing.T) {
	// Arrange
	cache, _ := newTestCache(time.Minute)
	key := NewKey("acct_1", KindMessages, "INBOX")

	// Act
	cache.Set(key, []byte("payload"))
	value, ok := cache.Get(key)

	// Assert
	assert.True(t, ok)
	assert.Equal(t, []byte("payload"), value)
}

func TestCache_ExpiredEntryIsMiss(t *testing.T) {
	cache, clock := newTestCache(time.Minute)
	key := NewKey("acct_1", KindMessages, "INBOX")
	cache.Set(key, []byte("payload"))

	clock.Advance(59 * time.Second)
	_, ok := cache.Get(key)
	assert.True(t, ok)

	clock.Advance(time.Second)
	_, ok = cache.Get(key)
	assert.False(t, ok, "entry at exactly TTL age must not be trusted")
}

func TestCache_SetOverwritesAndRefreshesTimestamp(t *testing.T) {
	cache, clock := newTestCache(time.Minute)
	key := NewKey("acct_1", KindMessages, "INBOX")

	cache.Set(key, []byte("old"))
	clock.Advance(50 * time.Second)
	cache.Set(key, []byte("new"))
	clock.Advance(50 * time.Second)

	value, ok := cache.Get(key)
	assert.True(t, ok)
	assert.Equal(t, []byte("new"), value)
}

func TestCache_KeysAreScoped(t *testing.T) {
	cache, _ := newTestCache(time.Minute)

	cache.Set(NewKey("acct_1", KindMessages, "INBOX"), []byte("a"))
	cache.Set(NewKey("acct_2", KindMessages, "INBOX"), []byte("b"))
	cache.Set(NewKey("acct_1", KindMessages, "INBOX", "x:0-19"), []byte("c"))

	a, _ := cache.Get(NewKey("acct_1", KindMessages, "INBOX"))
	b, _ := cache.Get(NewKey("acct_2", KindMessages, "INBOX"))
	c, _ := cache.Get(NewKey("acct_1", KindMessages, "INBOX", "x:0-19"))
	assert.Equal(t, "a", string(a))
	assert.Equal(t, "b", string(b))
	assert.Equal(t, "c", string(c))

	_, ok := cache.Get(Key{"acct_1|messages", "INBOX"})
	assert.False(t, ok)
}

func TestKey_SeparatorsInComponentsStayDistinct(t *testing.T) {
	tests := []struct {
		name string
		a    Key
		b    Key
	}{
		{name: "pipe moves between box and filter", a: NewKey("acct_1", KindMessages, "INBOX|", "f:0-9"), b: NewKey("acct_1", KindMessages, "INBOX", "|f:0-9")},
		{name: "escaped pipe against separator", a: NewKey("acct_1", KindMessages, `INBOX\`, "f"), b: NewKey("acct_1", KindMessages, "INBOX", `\f`)},
		{name: "doubled pipes", a: NewKey("acct_1", KindMessages, "a||b"), b: NewKey("acct_1", KindMessages, "a|", "|b")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			cache, _ := newTestCache(time.Minute)
			cache.Set(tt.a, []byte("a"))

			// Act
			_, found := cache.Get(tt.b)

			// Assert
			assert.NotEqual(t, tt.a.String(), tt.b.String())
			assert.False(t, found)
		})
	}
}

func TestCache_Delete(t *testing.T) {
	cache, _ := newTestCache(time.Minute)
	key := NewKey("acct_1", KindPageTokens, "INBOX", "")

	cache.Set(key, []byte("x"))
	cache.Delete(key)

	_, ok := cache.Get(key)
	assert.False(t, ok)
}

func TestCache_StoredValueIsPrivateCopy(t *testing.T) {
	cache, _ := newTestCache(time.Minute)
	key := NewKey("acct_1", KindMessages, "INBOX")
	value := []byte("abc")

	cache.Set(key, value)
	value[0] = 'z'

	stored, _ := cache.Get(key)
	assert.Equal(t, "abc", string(stored))
}

func TestCache_JSONHelpers(t *testing.T) {
	cache, _ := newTestCache(time.Minute)
	key := NewKey("acct_1", KindPageTokens, "INBOX", "")

	require.NoError(t, cache.SetJSON(key, map[int]string{20: "token-2"}))

	var tokens map[int]string
	assert.True(t, cache.GetJSON(key, &tokens))
	assert.Equal(t, "token-2", tokens[20])

	cache.Set(key, []byte("{not json"))
	assert.False(t, cache.GetJSON(key, &tokens))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache, _ := newTestCache(time.Minute)
	key := NewKey("acct_1", KindMessages, "INBOX")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cache.Set(key, []byte("value"))
		}()
		go func() {
			defer wg.Done()
			if v, ok := cache.Get(key); ok {
				assert.Equal(t, "value", string(v))
			}
		}()
	}
	wg.Wait()
}
