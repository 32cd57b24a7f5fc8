package redistasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// defaultKeyPrefix namespaces every key RedisStorage touches.
const defaultKeyPrefix = "redistasks"

// claimScript atomically moves the first due task ID from a queue's
// pending set into the processing set. The move is the contended step
// between competing workers; everything after it operates on a task only
// this worker holds.
//
// KEYS[1] = pending zset, KEYS[2] = processing zset
// ARGV[1] = now (unix ms), ARGV[2] = lock expiry (unix ms)
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

// RedisStorage implements all queue repository interfaces on top of a
// Redis server. Tasks are stored as JSON values; each queue keeps a
// pending sorted set scored by ready time, and a shared processing sorted
// set scored by lock expiry drives crashed-worker recovery.
//
// Within one queue, due tasks are claimed in ready-time order; route
// latency-sensitive work to dedicated queues rather than relying on the
// Priority field here.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// RedisStorageOption configures a RedisStorage
type RedisStorageOption func(*RedisStorage)

// WithKeyPrefix overrides the key namespace (default "redistasks")
func WithKeyPrefix(prefix string) RedisStorageOption {
	return func(s *RedisStorage) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStorage creates a Redis-backed storage over an established client.
func NewRedisStorage(client *redis.Client, opts ...RedisStorageOption) (*RedisStorage, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	s := &RedisStorage{
		client: client,
		prefix: defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStorage) taskKey(id uuid.UUID) string    { return s.prefix + ":task:" + id.String() }
func (s *RedisStorage) pendingKey(queue string) string { return s.prefix + ":pending:" + queue }
func (s *RedisStorage) processingKey() string          { return s.prefix + ":processing" }
func (s *RedisStorage) byNameKey() string              { return s.prefix + ":byname" }
func (s *RedisStorage) dlqKey() string                 { return s.prefix + ":dlq" }

// CreateTask implements EnqueuerRepository and SchedulerRepository
func (s *RedisStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrTaskNil
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}

	ok, err := s.client.SetNX(ctx, s.taskKey(task.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store task %s: %w", task.ID, err)
	}
	if !ok {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}

	if err := s.client.ZAdd(ctx, s.pendingKey(task.Queue), redis.Z{
		Score:  float64(task.ScheduledAt.UnixMilli()),
		Member: task.ID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("failed to index task %s as pending: %w", task.ID, err)
	}

	if task.TaskType == TaskTypePeriodic {
		if err := s.client.HSet(ctx, s.byNameKey(), task.FuncName, task.ID.String()).Err(); err != nil {
			return fmt.Errorf("failed to index periodic task %s by name: %w", task.ID, err)
		}
	}

	return nil
}

// GetPendingTaskByName implements SchedulerRepository
func (s *RedisStorage) GetPendingTaskByName(ctx context.Context, funcName string) (*Task, error) {
	idStr, err := s.client.HGet(ctx, s.byNameKey(), funcName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up pending task by name: %w", err)
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("corrupt pending-by-name index entry %q: %w", idStr, err)
	}

	task, err := s.loadTask(ctx, id)
	if errors.Is(err, ErrTaskNotFound) {
		// Stale index entry; the task was completed or moved away
		_ = s.client.HDel(ctx, s.byNameKey(), funcName).Err()
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if task.Status != TaskStatusPending {
		return nil, nil
	}
	return task, nil
}

// ClaimTask implements WorkerRepository
func (s *RedisStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	now := time.Now()

	if err := s.recoverExpiredLocks(ctx, now); err != nil {
		return nil, err
	}

	lockUntil := now.Add(lockDuration)
	for _, queue := range queues {
		res, err := claimScript.Run(ctx, s.client,
			[]string{s.pendingKey(queue), s.processingKey()},
			now.UnixMilli(), lockUntil.UnixMilli(),
		).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim task from queue %q: %w", queue, err)
		}

		idStr, ok := res.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected claim script result %T", res)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("corrupt pending index entry %q: %w", idStr, err)
		}

		task, err := s.loadTask(ctx, id)
		if err != nil {
			return nil, err
		}

		task.Status = TaskStatusProcessing
		task.LockedUntil = &lockUntil
		task.LockedBy = &workerID
		if err := s.saveTask(ctx, task); err != nil {
			return nil, err
		}

		if task.TaskType == TaskTypePeriodic {
			_ = s.client.HDel(ctx, s.byNameKey(), task.FuncName).Err()
		}

		return task, nil
	}

	return nil, ErrNoTaskToClaim
}

// CompleteTask implements WorkerRepository
func (s *RedisStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != TaskStatusProcessing {
		return fmt.Errorf("task %s is not in processing state", taskID)
	}

	now := time.Now()
	task.Status = TaskStatusCompleted
	task.ProcessedAt = &now
	task.LockedUntil = nil
	task.LockedBy = nil

	if err := s.saveTask(ctx, task); err != nil {
		return err
	}
	return s.client.ZRem(ctx, s.processingKey(), taskID.String()).Err()
}

// FailTask implements WorkerRepository
func (s *RedisStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != TaskStatusProcessing {
		return fmt.Errorf("task %s is not in processing state", taskID)
	}

	task.RetryCount++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	if err := s.client.ZRem(ctx, s.processingKey(), taskID.String()).Err(); err != nil {
		return err
	}

	if task.RetryCount >= task.MaxRetries {
		task.Status = TaskStatusFailed
		return s.saveTask(ctx, task)
	}

	// Reset to pending for retry with linear backoff: 30s, 60s, 90s...
	task.Status = TaskStatusPending
	task.ScheduledAt = time.Now().Add(time.Duration(task.RetryCount) * 30 * time.Second)
	if err := s.saveTask(ctx, task); err != nil {
		return err
	}
	return s.indexPending(ctx, task)
}

// RequeueTask implements WorkerRepository. Unlike FailTask it keeps the
// retry count untouched: an aborted attempt never ran to completion.
func (s *RedisStorage) RequeueTask(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != TaskStatusProcessing {
		return fmt.Errorf("task %s is not in processing state", taskID)
	}

	task.Status = TaskStatusPending
	task.LockedUntil = nil
	task.LockedBy = nil
	task.ScheduledAt = time.Now()

	if err := s.client.ZRem(ctx, s.processingKey(), taskID.String()).Err(); err != nil {
		return err
	}
	if err := s.saveTask(ctx, task); err != nil {
		return err
	}
	return s.indexPending(ctx, task)
}

// MoveToDLQ implements WorkerRepository
func (s *RedisStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}

	entry := &TasksDlq{
		ID:         uuid.New(),
		TaskID:     task.ID,
		Queue:      task.Queue,
		TaskType:   task.TaskType,
		FuncName:   task.FuncName,
		Args:       task.Args,
		Kwargs:     task.Kwargs,
		Priority:   task.Priority,
		RetryCount: task.RetryCount,
		FailedAt:   time.Now(),
		CreatedAt:  time.Now(),
	}
	if task.Error != nil {
		entry.Error = *task.Error
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ entry for task %s: %w", taskID, err)
	}

	if err := s.client.LPush(ctx, s.dlqKey(), payload).Err(); err != nil {
		return fmt.Errorf("failed to push task %s to DLQ: %w", taskID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.taskKey(taskID))
	pipe.ZRem(ctx, s.pendingKey(task.Queue), taskID.String())
	pipe.ZRem(ctx, s.processingKey(), taskID.String())
	if task.TaskType == TaskTypePeriodic {
		pipe.HDel(ctx, s.byNameKey(), task.FuncName)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ExtendLock implements WorkerRepository
func (s *RedisStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != TaskStatusProcessing {
		return fmt.Errorf("task %s is not in processing state", taskID)
	}

	lockUntil := time.Now().Add(duration)
	task.LockedUntil = &lockUntil

	if err := s.saveTask(ctx, task); err != nil {
		return err
	}
	return s.client.ZAdd(ctx, s.processingKey(), redis.Z{
		Score:  float64(lockUntil.UnixMilli()),
		Member: taskID.String(),
	}).Err()
}

// GetTask returns the stored task, primarily for tests and inspection tooling.
func (s *RedisStorage) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	return s.loadTask(ctx, taskID)
}

// DLQEntries returns a snapshot of the dead letter queue.
func (s *RedisStorage) DLQEntries(ctx context.Context) ([]*TasksDlq, error) {
	payloads, err := s.client.LRange(ctx, s.dlqKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}

	entries := make([]*TasksDlq, 0, len(payloads))
	for _, payload := range payloads {
		var entry TasksDlq
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("corrupt DLQ entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	return entries, nil
}

// recoverExpiredLocks returns tasks whose lock lapsed (their worker died
// or lost connectivity) to pending, preserving retry count and failure
// history. The ZRem guards against two workers recovering the same task.
func (s *RedisStorage) recoverExpiredLocks(ctx context.Context, now time.Time) error {
	ids, err := s.client.ZRangeByScore(ctx, s.processingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to scan expired locks: %w", err)
	}

	for _, idStr := range ids {
		removed, err := s.client.ZRem(ctx, s.processingKey(), idStr).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue // another worker got here first
		}

		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		task, err := s.loadTask(ctx, id)
		if err != nil {
			continue
		}

		task.Status = TaskStatusPending
		task.LockedUntil = nil
		task.LockedBy = nil

		if err := s.saveTask(ctx, task); err != nil {
			return err
		}
		if err := s.indexPending(ctx, task); err != nil {
			return err
		}
	}
	return nil
}

// indexPending adds a pending task back to its queue's sorted set and, for
// periodic tasks, the pending-by-name index.
func (s *RedisStorage) indexPending(ctx context.Context, task *Task) error {
	if err := s.client.ZAdd(ctx, s.pendingKey(task.Queue), redis.Z{
		Score:  float64(task.ScheduledAt.UnixMilli()),
		Member: task.ID.String(),
	}).Err(); err != nil {
		return fmt.Errorf("failed to index task %s as pending: %w", task.ID, err)
	}
	if task.TaskType == TaskTypePeriodic {
		return s.client.HSet(ctx, s.byNameKey(), task.FuncName, task.ID.String()).Err()
	}
	return nil
}

func (s *RedisStorage) loadTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	payload, err := s.client.Get(ctx, s.taskKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}

	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return nil, fmt.Errorf("corrupt task record %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *RedisStorage) saveTask(ctx context.Context, task *Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", task.ID, err)
	}
	if err := s.client.Set(ctx, s.taskKey(task.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store task %s: %w", task.ID, err)
	}
	return nil
}
