package cache

import (
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := New()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("priors:2025-06-01", []byte(`{"uplift":1.2}`), 0)
	got, ok := c.Get("priors:2025-06-01")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"uplift":1.2}`), got)
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	c := New()
	c.Set("k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestMemoryCacheCopiesValue(t *testing.T) {
	c := New()
	val := []byte("original")
	c.Set("k", val, 0)
	val[0] = 'X'

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("original"), got)
}

func TestKeyJoinsNamespaceParts(t *testing.T) {
	assert.Equal(t, "uplift:2025-06-01:150", Key("uplift", "2025-06-01", "150"))
	assert.Equal(t, "foundation:abc123", Key("foundation", "abc123"))
}

func TestJSONRoundTrip(t *testing.T) {
	c := New()
	type prior struct {
		Family string  `json:"family"`
		Uplift float64 `json:"uplift"`
	}

	var missing prior
	assert.False(t, GetJSON(c, Key("uplift", "2025-06-01"), &missing))

	SetJSON(c, Key("uplift", "2025-06-01"), prior{Family: "street_fair", Uplift: 1.2}, time.Minute)
	var got prior
	require.True(t, GetJSON(c, Key("uplift", "2025-06-01"), &got))
	assert.Equal(t, prior{Family: "street_fair", Uplift: 1.2}, got)
}

func TestJSONHelpersTolerateNilCache(t *testing.T) {
	var v struct{ X int }
	assert.False(t, GetJSON(nil, "k", &v))
	SetJSON(nil, "k", v, time.Minute) // must not panic
}

func TestJSONCorruptValueReadsAsMiss(t *testing.T) {
	c := New()
	c.Set("k", []byte("{not json"), 0)
	var v struct{ X int }
	assert.False(t, GetJSON(c, "k", &v))
}

func TestRedisCache(t *testing.T) {
	client, mock := redismock.NewClientMock()
	c := NewRedis(client)

	mock.ExpectSet("forecast:abc", []byte("payload"), time.Minute).SetVal("OK")
	c.Set("forecast:abc", []byte("payload"), time.Minute)

	mock.ExpectGet("forecast:abc").SetVal("payload")
	got, ok := c.Get("forecast:abc")
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), got)

	mock.ExpectGet("gone").RedisNil()
	_, ok = c.Get("gone")
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewAutoFallsBackToMemory(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	c := NewAuto()
	c.Set("k", []byte("v"), 0)
	_, ok := c.Get("k")
	assert.True(t, ok)
}
