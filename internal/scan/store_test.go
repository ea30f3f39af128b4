package scan

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/amoylab/botgate/internal/common/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *DBStore {
	t.Helper()
	s, err := New(zap.NewNop(), &config.DatabaseConfig{Type: "sqlite", DBName: ":memory:"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDBStore_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Record(ctx, "u1", "2@first")
	require.NoError(t, err)
	assert.NotZero(t, first.ID)
	assert.False(t, first.ScannedAt.IsZero())

	_, err = s.Record(ctx, "u1", "2@second")
	require.NoError(t, err)
	_, err = s.Record(ctx, "u2", "2@other")
	require.NoError(t, err)

	events, err := s.ListByUser(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2@second", events[0].QRData)

	events, err = s.ListByUser(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = s.ListByUser(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDBStore_RecordRequiresFields(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Record(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrMissingFields)
	_, err = s.Record(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrMissingFields)
}

func TestNew_FileAndUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scans.db")
	s, err := New(zap.NewNop(), &config.DatabaseConfig{Type: "sqlite", DBName: path})
	require.NoError(t, err)
	_, err = s.Record(context.Background(), "u1", "x")
	assert.NoError(t, err)
	assert.NoError(t, s.Close())
	assert.FileExists(t, path)

	_, err = New(zap.NewNop(), &config.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}
