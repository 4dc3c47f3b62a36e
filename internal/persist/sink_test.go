package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/aidgraph/discovery"
)

func openSQLite(t *testing.T) *SQLSink {
	t.Helper()
	sink, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })
	return sink
}

func TestSQLSink_SaveVerified(t *testing.T) {
	ctx := context.Background()
	sink := openSQLite(t)
	sink.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	deadline := time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	results := []discovery.Result{
		{ID: "r1", Title: "Cal Grant", Provider: "CSAC", URL: "https://csac.ca.gov", Amount: 12000, Deadline: &deadline, TrustScore: 0.95, NeedMatch: 0.8},
		{ID: "r2", Title: "Rotary Award", TrustScore: 0.4, NeedMatch: 0.5},
	}
	require.NoError(t, sink.SaveVerified(ctx, "user_42", "run_1", results))

	got, err := sink.Verified(ctx, "user_42")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Cal Grant", got[0].Title)
	require.NotNil(t, got[0].Deadline)
	assert.True(t, got[0].Deadline.Equal(deadline))
	assert.True(t, got[0].Verified)
	assert.Nil(t, got[1].Deadline)

	// A second run overwrites rather than duplicates.
	results[1].Title = "Rotary Award 2026"
	require.NoError(t, sink.SaveVerified(ctx, "user_42", "run_2", results[1:]))
	got, err = sink.Verified(ctx, "user_42")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Rotary Award 2026", got[1].Title)

	other, err := sink.Verified(ctx, "user_7")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLSink_CancelledContext(t *testing.T) {
	sink := openSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sink.SaveVerified(ctx, "user_42", "run_1", []discovery.Result{{ID: "r1", Title: "A"}})
	assert.Error(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "")
	assert.ErrorContains(t, err, "unknown sink driver")
}

func TestSQLSink_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	sink, err := Open(ctx, "postgres", dsn)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	thread := "user_pg_" + time.Now().Format("150405.000")
	require.NoError(t, sink.SaveVerified(ctx, thread, "run_1", []discovery.Result{{ID: "r1", Title: "A"}}))
	got, err := sink.Verified(ctx, thread)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLSink_MySQL(t *testing.T) {
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	ctx := context.Background()
	sink, err := Open(ctx, "mysql", dsn)
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	thread := "user_my_" + time.Now().Format("150405.000")
	require.NoError(t, sink.SaveVerified(ctx, thread, "run_1", []discovery.Result{{ID: "r1", Title: "A"}}))
	got, err := sink.Verified(ctx, thread)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
