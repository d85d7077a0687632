package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Put(ctx, "backups/b.db", strings.NewReader("two"), 3))
	require.NoError(t, s.Put(ctx, "backups/a.db", strings.NewReader("one"), 3))
	require.NoError(t, s.Put(ctx, "other/x", strings.NewReader("x"), 1))

	keys, err := s.List(ctx, "backups/")
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/a.db", "backups/b.db"}, keys)

	rc, err := s.Get(ctx, "backups/a.db")
	require.NoError(t, err)
	buf, _ := io.ReadAll(rc)
	assert.Equal(t, "one", string(buf))

	require.NoError(t, s.Delete(ctx, "backups/a.db"))
	_, err = s.Get(ctx, "backups/a.db")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMinioConfigRequired(t *testing.T) {
	_, err := NewMinioStore(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}
