package consolelog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/scriptcage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_SinkAndEntries(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Millisecond)

	sink := s.Sink("run-1")
	sink.OnConsoleEntry(scriptcage.ConsoleEntry{Type: "log", Args: []any{"first", "x"}, Timestamp: now})
	sink.OnConsoleEntry(scriptcage.ConsoleEntry{Type: "error", Args: []any{"second"}, Timestamp: now})
	s.Sink("run-2").OnConsoleEntry(scriptcage.ConsoleEntry{Type: "log", Args: []any{"other"}, Timestamp: now})

	got, err := s.Entries(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "log", got[0].Type)
	assert.Equal(t, []any{"first", "x"}, got[0].Args)
	assert.Equal(t, "error", got[1].Type)
	assert.Equal(t, []any{"second"}, got[1].Args)

	none, err := s.Entries(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_NumbersComeBackAsFloat(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Append(context.Background(), "r", scriptcage.ConsoleEntry{
		Type: "info", Args: []any{1, map[string]any{"a": true}}, Timestamp: time.Now(),
	}))
	got, err := s.Entries(context.Background(), "r")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []any{float64(1), map[string]any{"a": true}}, got[0].Args)
}

func TestStore_Prune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-2 * time.Hour)
	fresh := time.Now()

	require.NoError(t, s.Append(ctx, "r", scriptcage.ConsoleEntry{Type: "log", Args: []any{"old"}, Timestamp: old}))
	require.NoError(t, s.Append(ctx, "r", scriptcage.ConsoleEntry{Type: "log", Args: []any{"new"}, Timestamp: fresh}))

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := s.Entries(ctx, "r")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []any{"new"}, got[0].Args)
}
