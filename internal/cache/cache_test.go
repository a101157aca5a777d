package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxmesh/ctxgraph/internal/wsstore"
)

func openStore(t *testing.T) *wsstore.Store {
	t.Helper()
	s, err := wsstore.Open(filepath.Join(t.TempDir(), "ws.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCache_L1HitAfterPut(t *testing.T) {
	c := New(Config{Backend: NewInMemoryCache()})
	ctx := context.Background()

	c.Put(ctx, "fp1", "", []byte(`{"x":1}`), []string{"a.go"})
	e, ok := c.Get(ctx, "fp1", "")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"x":1}`), e.Payload)
}

func TestCache_L2FallsBackWhenL1Misses(t *testing.T) {
	backend := NewInMemoryCache()
	require.NoError(t, backend.Set(context.Background(), "fp2", []byte("cached"), time.Minute))

	c := New(Config{Backend: backend})
	e, ok := c.Get(context.Background(), "fp2", "")
	require.True(t, ok)
	assert.Equal(t, []byte("cached"), e.Payload)
}

func TestCache_L3OnlyWrittenWithTemplateName(t *testing.T) {
	store := openStore(t)
	c := New(Config{Backend: NewInMemoryCache(), Store: store})
	ctx := context.Background()

	c.Put(ctx, "fp3", "api_endpoints", []byte(`{"y":2}`), []string{"b.go"})
	row, err := store.LoadCachedResult("fp3")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, `{"y":2}`, row.Payload)
}

func TestCache_L3NotWrittenWithoutTemplateName(t *testing.T) {
	store := openStore(t)
	c := New(Config{Backend: NewInMemoryCache(), Store: store})
	ctx := context.Background()

	c.Put(ctx, "fp4", "", []byte(`{}`), nil)
	row, err := store.LoadCachedResult("fp4")
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestCache_InvalidateFilesRemovesMatchingEntries(t *testing.T) {
	c := New(Config{Backend: NewInMemoryCache()})
	ctx := context.Background()

	c.Put(ctx, "fp5", "", []byte(`{}`), []string{"changed.go"})
	c.Put(ctx, "fp6", "", []byte(`{}`), []string{"untouched.go"})

	c.InvalidateFiles(ctx, []string{"changed.go"})

	_, ok := c.Get(ctx, "fp5", "")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "fp6", "")
	assert.True(t, ok)
}

func TestInMemoryCache_ExpiresAfterTTL(t *testing.T) {
	backend := NewInMemoryCache()
	ctx := context.Background()
	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := backend.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrefetcher_WarmsTopSuccessor(t *testing.T) {
	warmed := make(chan string, 4)
	p := NewPrefetcher(1, func(_ context.Context, fp string) { warmed <- fp })

	p.Observe("u1", "q1")
	p.Observe("u1", "q2")
	p.Observe("u1", "q1")
	p.Observe("u1", "q2")

	select {
	case fp := <-warmed:
		assert.Equal(t, "q2", fp)
	case <-time.After(time.Second):
		t.Fatal("expected a warm job")
	}
}
