package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/stackr/internal/history"
)

func TestSQLiteSink(t *testing.T) {
	sink, err := New("sqlite://" + filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	defer func() { assert.NoError(t, sink.Close()) }()

	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStart, OccurredAt: now, ServiceID: "p1", From: "starting", To: "running", PID: 100}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventError, OccurredAt: now, ServiceID: "p1", From: "running", To: "error", Error: "exit status 1"}))
	require.NoError(t, sink.Send(ctx, history.Event{Type: history.EventStop, OccurredAt: now, ServiceID: "p2", From: "running", To: "stopped"}))

	n, err := sink.Count(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var msg string
	require.NoError(t, sink.db.QueryRowContext(ctx, `SELECT error FROM service_history WHERE event='error'`).Scan(&msg))
	assert.Equal(t, "exit status 1", msg)
}

func TestSQLiteSinkMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()
	require.NoError(t, sink.Send(context.Background(), history.Event{Type: history.EventStart, OccurredAt: time.Now(), ServiceID: "svc:database"}))
	n, err := sink.Count(context.Background(), "svc:database")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLiteSinkEmptyDSN(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
