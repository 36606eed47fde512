package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-widget/backend/internal/config"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "session", "a"))
	require.NoError(t, s.Set(ctx, "session", "b"))

	v, ok, err := s.Get(ctx, "session")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", v)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)

	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	dsn, err := SQLiteDSNForFile(filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, "k", "v"))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	v, ok, err := second.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}

func TestSQLiteDSNRejectsEmptyPath(t *testing.T) {
	_, err := SQLiteDSNForFile("  ")
	require.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	s, err := NewRedisStore(context.Background(), addr, "widget-test:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	exerciseStore(t, s)
}

func TestScopedIsolatesScopes(t *testing.T) {
	base := NewMemoryStore()
	ctx := context.Background()
	a := NewScoped(base, "a.example")
	b := NewScoped(base, "b.example")
	a2 := NewScoped(base, "a.example")

	require.NoError(t, a.Set(ctx, "session", "one"))

	_, ok, err := b.Get(ctx, "session")
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := a2.Get(ctx, "session")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)

	require.Equal(t, "default", NewScoped(base, "").Scope())
}

func TestOpenMemoryAndUnknown(t *testing.T) {
	s, closeFn, err := Open(context.Background(), config.SessionConfig{Store: config.StoreMemory})
	require.NoError(t, err)
	require.IsType(t, &MemoryStore{}, s)
	require.NoError(t, closeFn())

	_, closeFn, err = Open(context.Background(), config.SessionConfig{Store: "etcd"})
	require.Error(t, err)
	require.NotNil(t, closeFn)
}
