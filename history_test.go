package redistasks_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/redistasks/redistasks"
)

func newSQLHistory(t *testing.T) *redistasks.SQLHistory {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	// In-memory sqlite exists per connection; keep the pool on one.
	db.SetMaxOpenConns(1)

	history, err := redistasks.NewSQLHistory(context.Background(), db)
	require.NoError(t, err)
	return history
}

func TestNewSQLHistory(t *testing.T) {
	t.Parallel()

	t.Run("nil db error", func(t *testing.T) {
		t.Parallel()

		history, err := redistasks.NewSQLHistory(context.Background(), nil)
		assert.Error(t, err)
		assert.Nil(t, history)
	})

	t.Run("schema creation is idempotent", func(t *testing.T) {
		t.Parallel()

		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		db.SetMaxOpenConns(1)

		_, err = redistasks.NewSQLHistory(context.Background(), db)
		require.NoError(t, err)
		_, err = redistasks.NewSQLHistory(context.Background(), db)
		require.NoError(t, err)
	})
}

func TestSQLHistory_RecordsAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	history := newSQLHistory(t)

	task := newStoredTask("email.send_welcome", redistasks.PriorityDefault)
	started := time.Now()

	require.NoError(t, history.RecordStarted(ctx, task, started))

	t.Run("open attempt has no outcome", func(t *testing.T) {
		attempts, err := history.Attempts(ctx, task.ID.String())
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.Equal(t, task.ID.String(), attempts[0].TaskID)
		assert.Equal(t, 0, attempts[0].Attempt)
		assert.Equal(t, "email.send_welcome", attempts[0].FuncName)
		assert.Nil(t, attempts[0].Outcome)
		assert.Nil(t, attempts[0].FinishedAt)
	})

	outcome := redistasks.Outcome{Kind: redistasks.OutcomeSuccess}
	require.NoError(t, history.RecordOutcome(ctx, task, outcome, time.Now()))

	t.Run("outcome closes the attempt", func(t *testing.T) {
		attempts, err := history.Attempts(ctx, task.ID.String())
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		require.NotNil(t, attempts[0].Outcome)
		assert.Equal(t, "success", *attempts[0].Outcome)
		assert.NotNil(t, attempts[0].FinishedAt)
	})
}

func TestSQLHistory_RetriesGetSeparateRows(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	history := newSQLHistory(t)

	task := newStoredTask("flaky.op", redistasks.PriorityDefault)

	// First attempt fails.
	require.NoError(t, history.RecordStarted(ctx, task, time.Now()))
	require.NoError(t, history.RecordOutcome(ctx, task,
		redistasks.Outcome{Kind: redistasks.OutcomeFailed, Message: "boom"}, time.Now()))

	// The retry runs with a bumped retry count and gets its own row.
	task.RetryCount = 1
	require.NoError(t, history.RecordStarted(ctx, task, time.Now()))
	require.NoError(t, history.RecordOutcome(ctx, task,
		redistasks.Outcome{Kind: redistasks.OutcomeSuccess}, time.Now()))

	attempts, err := history.Attempts(ctx, task.ID.String())
	require.NoError(t, err)
	require.Len(t, attempts, 2)

	require.NotNil(t, attempts[0].Outcome)
	assert.Equal(t, "failure", *attempts[0].Outcome)
	require.NotNil(t, attempts[0].Message)
	assert.Equal(t, "boom", *attempts[0].Message)

	require.NotNil(t, attempts[1].Outcome)
	assert.Equal(t, "success", *attempts[1].Outcome)
}

func TestSQLHistory_NilTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	history := newSQLHistory(t)

	assert.ErrorIs(t, history.RecordStarted(ctx, nil, time.Now()), redistasks.ErrTaskNil)
	assert.ErrorIs(t, history.RecordOutcome(ctx, nil, redistasks.Outcome{}, time.Now()), redistasks.ErrTaskNil)
}
