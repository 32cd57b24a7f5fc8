package redistasks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/redistasks/redistasks"
)

type mockEnqueuerRepo struct {
	mock.Mock
}

func (m *mockEnqueuerRepo) CreateTask(ctx context.Context, task *redistasks.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func TestNewEnqueuer(t *testing.T) {
	t.Parallel()

	t.Run("nil repository error", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := redistasks.NewEnqueuer(nil)
		assert.ErrorIs(t, err, redistasks.ErrRepositoryNil)
		assert.Nil(t, enqueuer)
	})

	t.Run("creates with defaults", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := redistasks.NewEnqueuer(&mockEnqueuerRepo{})
		require.NoError(t, err)
		assert.NotNil(t, enqueuer)
	})
}

func TestEnqueuer_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("creates a pending one-time task", func(t *testing.T) {
		t.Parallel()

		repo := &mockEnqueuerRepo{}
		var created *redistasks.Task
		repo.On("CreateTask", mock.Anything, mock.AnythingOfType("*redistasks.Task")).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*redistasks.Task)
			}).
			Return(nil)

		enqueuer, err := redistasks.NewEnqueuer(repo)
		require.NoError(t, err)

		err = enqueuer.Enqueue(context.Background(), "email.send_welcome",
			[]any{"user-42"}, map[string]any{"locale": "en"})
		require.NoError(t, err)

		repo.AssertExpectations(t)
		require.NotNil(t, created)
		assert.Equal(t, "email.send_welcome", created.FuncName)
		assert.Equal(t, []any{"user-42"}, created.Args)
		assert.Equal(t, map[string]any{"locale": "en"}, created.Kwargs)
		assert.Equal(t, redistasks.DefaultQueueName, created.Queue)
		assert.Equal(t, redistasks.TaskTypeOneTime, created.TaskType)
		assert.Equal(t, redistasks.TaskStatusPending, created.Status)
		assert.Equal(t, redistasks.PriorityDefault, created.Priority)
		assert.EqualValues(t, 0, created.RetryCount)
		assert.EqualValues(t, 3, created.MaxRetries)
		assert.WithinDuration(t, time.Now(), created.ScheduledAt, time.Second)
	})

	t.Run("empty func name error", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := redistasks.NewEnqueuer(&mockEnqueuerRepo{})
		require.NoError(t, err)

		err = enqueuer.Enqueue(context.Background(), "", nil, nil)
		assert.ErrorIs(t, err, redistasks.ErrFuncNameEmpty)
	})

	t.Run("invalid priority error", func(t *testing.T) {
		t.Parallel()

		enqueuer, err := redistasks.NewEnqueuer(&mockEnqueuerRepo{})
		require.NoError(t, err)

		err = enqueuer.Enqueue(context.Background(), "email.send_welcome", nil, nil,
			redistasks.WithPriority(redistasks.Priority(101)))
		assert.ErrorIs(t, err, redistasks.ErrInvalidPriority)
	})

	t.Run("options shape the task", func(t *testing.T) {
		t.Parallel()

		repo := &mockEnqueuerRepo{}
		var created *redistasks.Task
		repo.On("CreateTask", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*redistasks.Task)
			}).
			Return(nil)

		enqueuer, err := redistasks.NewEnqueuer(repo)
		require.NoError(t, err)

		err = enqueuer.Enqueue(context.Background(), "reports.generate", nil, nil,
			redistasks.WithQueue("reports"),
			redistasks.WithPriority(redistasks.PriorityHigh),
			redistasks.WithMaxRetries(5),
			redistasks.WithDelay(time.Hour))
		require.NoError(t, err)

		require.NotNil(t, created)
		assert.Equal(t, "reports", created.Queue)
		assert.Equal(t, redistasks.PriorityHigh, created.Priority)
		assert.EqualValues(t, 5, created.MaxRetries)
		assert.WithinDuration(t, time.Now().Add(time.Hour), created.ScheduledAt, time.Second)
	})

	t.Run("scheduled at wins over delay", func(t *testing.T) {
		t.Parallel()

		repo := &mockEnqueuerRepo{}
		var created *redistasks.Task
		repo.On("CreateTask", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*redistasks.Task)
			}).
			Return(nil)

		enqueuer, err := redistasks.NewEnqueuer(repo)
		require.NoError(t, err)

		at := time.Now().Add(24 * time.Hour).Truncate(time.Second)
		err = enqueuer.Enqueue(context.Background(), "reports.generate", nil, nil,
			redistasks.WithScheduledAt(at),
			redistasks.WithDelay(time.Minute))
		require.NoError(t, err)

		require.NotNil(t, created)
		assert.True(t, created.ScheduledAt.Equal(at))
	})

	t.Run("repository failure is wrapped", func(t *testing.T) {
		t.Parallel()

		repo := &mockEnqueuerRepo{}
		repo.On("CreateTask", mock.Anything, mock.Anything).Return(assert.AnError)

		enqueuer, err := redistasks.NewEnqueuer(repo)
		require.NoError(t, err)

		err = enqueuer.Enqueue(context.Background(), "email.send_welcome", nil, nil)
		assert.ErrorIs(t, err, assert.AnError)
	})

	t.Run("enqueuer defaults apply", func(t *testing.T) {
		t.Parallel()

		repo := &mockEnqueuerRepo{}
		var created *redistasks.Task
		repo.On("CreateTask", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				created = args.Get(1).(*redistasks.Task)
			}).
			Return(nil)

		enqueuer, err := redistasks.NewEnqueuer(repo,
			redistasks.WithDefaultQueue("critical"),
			redistasks.WithDefaultPriority(redistasks.PriorityHigh))
		require.NoError(t, err)

		err = enqueuer.Enqueue(context.Background(), "email.send_welcome", nil, nil)
		require.NoError(t, err)

		require.NotNil(t, created)
		assert.Equal(t, "critical", created.Queue)
		assert.Equal(t, redistasks.PriorityHigh, created.Priority)
	})
}
