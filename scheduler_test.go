package redistasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redistasks/redistasks"
)

func TestNewScheduler(t *testing.T) {
	t.Parallel()

	t.Run("nil repository error", func(t *testing.T) {
		t.Parallel()

		scheduler, err := redistasks.NewScheduler(nil)
		assert.ErrorIs(t, err, redistasks.ErrRepositoryNil)
		assert.Nil(t, scheduler)
	})

	t.Run("creates with defaults", func(t *testing.T) {
		t.Parallel()

		storage := redistasks.NewMemoryStorage()
		t.Cleanup(func() { _ = storage.Close() })

		scheduler, err := redistasks.NewScheduler(storage)
		require.NoError(t, err)
		assert.NotNil(t, scheduler)
	})
}

func TestScheduler_AddTask(t *testing.T) {
	t.Parallel()

	newScheduler := func(t *testing.T) *redistasks.Scheduler {
		t.Helper()
		storage := redistasks.NewMemoryStorage()
		t.Cleanup(func() { _ = storage.Close() })
		scheduler, err := redistasks.NewScheduler(storage)
		require.NoError(t, err)
		return scheduler
	}

	t.Run("registers a task", func(t *testing.T) {
		t.Parallel()

		scheduler := newScheduler(t)
		require.NoError(t, scheduler.AddTask("reports.daily", redistasks.Daily()))
		assert.Equal(t, []string{"reports.daily"}, scheduler.ListTasks())
	})

	t.Run("empty func name error", func(t *testing.T) {
		t.Parallel()

		scheduler := newScheduler(t)
		assert.ErrorIs(t, scheduler.AddTask("", redistasks.Daily()), redistasks.ErrFuncNameEmpty)
	})

	t.Run("nil schedule error", func(t *testing.T) {
		t.Parallel()

		scheduler := newScheduler(t)
		assert.ErrorIs(t, scheduler.AddTask("reports.daily", nil), redistasks.ErrInvalidSchedule)
	})

	t.Run("duplicate registration error", func(t *testing.T) {
		t.Parallel()

		scheduler := newScheduler(t)
		require.NoError(t, scheduler.AddTask("reports.daily", redistasks.Daily()))
		assert.ErrorIs(t, scheduler.AddTask("reports.daily", redistasks.Daily()),
			redistasks.ErrTaskAlreadyRegistered)
	})

	t.Run("remove task", func(t *testing.T) {
		t.Parallel()

		scheduler := newScheduler(t)
		require.NoError(t, scheduler.AddTask("reports.daily", redistasks.Daily()))
		scheduler.RemoveTask("reports.daily")
		assert.Empty(t, scheduler.ListTasks())
	})
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	t.Run("refuses to start empty", func(t *testing.T) {
		t.Parallel()

		storage := redistasks.NewMemoryStorage()
		t.Cleanup(func() { _ = storage.Close() })

		scheduler, err := redistasks.NewScheduler(storage)
		require.NoError(t, err)

		assert.ErrorIs(t, scheduler.Start(context.Background()), redistasks.ErrSchedulerNotConfigured)
	})

	t.Run("creates due tasks", func(t *testing.T) {
		t.Parallel()

		storage := redistasks.NewMemoryStorage()
		t.Cleanup(func() { _ = storage.Close() })

		scheduler, err := redistasks.NewScheduler(storage,
			redistasks.WithCheckInterval(10*time.Millisecond))
		require.NoError(t, err)

		require.NoError(t, scheduler.AddTask("reports.hourly", redistasks.Every(time.Hour),
			redistasks.WithTaskQueue("reports"),
			redistasks.WithTaskPriority(redistasks.PriorityHigh),
			redistasks.WithTaskArgs("full"),
			redistasks.WithTaskKwargs(map[string]any{"format": "pdf"}),
			redistasks.WithTaskMaxRetries(1)))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- scheduler.Start(ctx) }()

		var created *redistasks.Task
		require.Eventually(t, func() bool {
			task, err := storage.GetPendingTaskByName(context.Background(), "reports.hourly")
			if err != nil || task == nil {
				return false
			}
			created = task
			return true
		}, 5*time.Second, 20*time.Millisecond)

		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		assert.Equal(t, redistasks.TaskTypePeriodic, created.TaskType)
		assert.Equal(t, "reports", created.Queue)
		assert.Equal(t, redistasks.PriorityHigh, created.Priority)
		assert.Equal(t, []any{"full"}, created.Args)
		assert.Equal(t, map[string]any{"format": "pdf"}, created.Kwargs)
		assert.EqualValues(t, 1, created.MaxRetries)
	})

	t.Run("deduplicates against pending instances", func(t *testing.T) {
		t.Parallel()

		storage := redistasks.NewMemoryStorage()
		t.Cleanup(func() { _ = storage.Close() })

		scheduler, err := redistasks.NewScheduler(storage,
			redistasks.WithCheckInterval(10*time.Millisecond))
		require.NoError(t, err)

		// A due-every-tick rule must still produce at most one pending
		// instance while the previous one is unconsumed.
		require.NoError(t, scheduler.AddTask("metrics.rollup", redistasks.Every(time.Nanosecond)))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- scheduler.Start(ctx) }()

		require.Eventually(t, func() bool {
			task, err := storage.GetPendingTaskByName(context.Background(), "metrics.rollup")
			return err == nil && task != nil
		}, 5*time.Second, 20*time.Millisecond)

		// Let several check intervals pass.
		time.Sleep(100 * time.Millisecond)
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)

		// Drain the queue: exactly one instance must be claimable.
		claims := 0
		for {
			_, err := storage.ClaimTask(context.Background(), uuid.New(),
				[]string{redistasks.DefaultQueueName}, time.Minute)
			if err != nil {
				assert.ErrorIs(t, err, redistasks.ErrNoTaskToClaim)
				break
			}
			claims++
		}
		assert.Equal(t, 1, claims)
	})
}
