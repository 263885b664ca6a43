// Package dedup implements the shared TTL-aware key-value service the
// pipeline coordinates through: content-hash dedup keys, per-job
// locks, job status records, counters, and bounded batch accumulation.
// All operations are individually atomic against Redis; anything that
// would otherwise be a read-modify-write across two round trips is
// expressed as a single Lua script.
package dedup

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiotdata/retail-ingest/internal/retry"
)

const keyPrefix = "retail_pipeline"

// DefaultDedupTTL is the retention window for whole-file dedup keys.
const DefaultDedupTTL = 24 * time.Hour

// DefaultStatusTTL bounds how long a job status record survives. It is
// a diagnostic cache, not a ledger.
const DefaultStatusTTL = time.Hour

// JobStatus is the status record exposed to external status pollers.
type JobStatus struct {
	Status    string            `json:"status"`
	UpdatedAt time.Time         `json:"updated_at"`
	Metadata  map[string]string `json:"metadata"`
}

// Store provides access to the shared Redis coordination store.
type Store struct {
	client *redis.Client
	retry  retry.Policy

	// Pre-compiled Lua scripts for single-round-trip atomicity
	pushBatchScript *redis.Script
	drainScript     *redis.Script
}

// pushBatchLuaScript appends one item and, if the list has reached the
// batch size, atomically drains and returns the full batch. Other
// callers keep accumulating a fresh batch.
const pushBatchLuaScript = `
local key = KEYS[1]
local maxSize = tonumber(ARGV[2])

redis.call("RPUSH", key, ARGV[1])
local size = redis.call("LLEN", key)
if size >= maxSize then
    local items = redis.call("LRANGE", key, 0, maxSize - 1)
    redis.call("LTRIM", key, maxSize, -1)
    return items
end
return {}
`

// drainLuaScript removes and returns everything left in a batch list.
const drainLuaScript = `
local items = redis.call("LRANGE", KEYS[1], 0, -1)
redis.call("DEL", KEYS[1])
return items
`

// New wraps an explicitly constructed Redis client. The client is
// passed in at startup and held for the store's lifetime; there is no
// process-wide singleton.
func New(client *redis.Client) *Store {
	return &Store{
		client:          client,
		retry:           retry.Default,
		pushBatchScript: redis.NewScript(pushBatchLuaScript),
		drainScript:     redis.NewScript(drainLuaScript),
	}
}

// Connect builds a Redis client, verifies the connection, and returns
// a Store around it.
func Connect(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Printf("[dedup] Connected to Redis at %s", addr)
	return New(client), nil
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(kind, name string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, kind, name)
}

// dedupKey digests the caller's value so arbitrary identity strings
// (content hashes, row tuples) produce uniform key names.
func (s *Store) dedupKey(value string) string {
	return s.key("dedup", fmt.Sprintf("%x", md5.Sum([]byte(value))))
}

// IsDuplicate reports whether a dedup key was marked seen within its
// retention window. Pure read, no side effect.
func (s *Store) IsDuplicate(ctx context.Context, value string) (bool, error) {
	var n int64
	err := s.retry.Do(ctx, func() error {
		var err error
		n, err = s.client.Exists(ctx, s.dedupKey(value)).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("dedup existence check failed: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records a dedup key with the given retention. Idempotent;
// calling it again refreshes the TTL.
func (s *Store) MarkSeen(ctx context.Context, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	err := s.retry.Do(ctx, func() error {
		return s.client.Set(ctx, s.dedupKey(value), "1", ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to mark dedup key: %w", err)
	}
	return nil
}

// AcquireLock attempts an atomic set-if-absent lock with expiry.
// Returns false if another holder owns it. The TTL guarantees a
// crashed holder's lock self-expires.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.retry.Do(ctx, func() error {
		var err error
		ok, err = s.client.SetNX(ctx, s.key("lock", name), "1", ttl).Result()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock releases a lock explicitly. Safe to call on a lock that
// already expired.
func (s *Store) ReleaseLock(ctx context.Context, name string) error {
	err := s.retry.Do(ctx, func() error {
		return s.client.Del(ctx, s.key("lock", name)).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

// SetStatus overwrites the status record for a job. Records expire
// after DefaultStatusTTL rather than accumulating unboundedly.
func (s *Store) SetStatus(ctx context.Context, jobID, status string, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	rec := JobStatus{
		Status:    status,
		UpdatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode status record: %w", err)
	}

	err = s.retry.Do(ctx, func() error {
		return s.client.Set(ctx, s.key("status", jobID), data, DefaultStatusTTL).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to set status for %s: %w", jobID, err)
	}
	return nil
}

// GetStatus returns the status record for a job, or nil if none exists
// (never written, or expired).
func (s *Store) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	var data []byte
	err := s.retry.Do(ctx, func() error {
		var err error
		data, err = s.client.Get(ctx, s.key("status", jobID)).Bytes()
		if err == redis.Nil {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get status for %s: %w", jobID, err)
	}
	if data == nil {
		return nil, nil
	}

	var rec JobStatus
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode status record: %w", err)
	}
	return &rec, nil
}

// PushBatch appends an item to an ordered batch. When the batch
// reaches maxSize it is drained atomically and returned oldest-first;
// otherwise the result is empty.
func (s *Store) PushBatch(ctx context.Context, batchKey, item string, maxSize int) ([]string, error) {
	var items []string
	err := s.retry.Do(ctx, func() error {
		res, err := s.pushBatchScript.Run(ctx, s.client,
			[]string{s.key("batch", batchKey)}, item, maxSize).StringSlice()
		if err != nil {
			return err
		}
		items = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to push batch item: %w", err)
	}
	return items, nil
}

// FlushBatch drains whatever remains in a batch, used at shutdown.
func (s *Store) FlushBatch(ctx context.Context, batchKey string) ([]string, error) {
	var items []string
	err := s.retry.Do(ctx, func() error {
		res, err := s.drainScript.Run(ctx, s.client,
			[]string{s.key("batch", batchKey)}).StringSlice()
		if err != nil {
			return err
		}
		items = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to flush batch: %w", err)
	}
	return items, nil
}

// IncrCounter increments a monotonic counter shared across workers and
// returns the new value.
func (s *Store) IncrCounter(ctx context.Context, name string, amount int64) (int64, error) {
	var n int64
	err := s.retry.Do(ctx, func() error {
		var err error
		n, err = s.client.IncrBy(ctx, s.key("counter", name), amount).Result()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter %s: %w", name, err)
	}
	return n, nil
}

// GetCounter returns a counter's current value, 0 if unset.
func (s *Store) GetCounter(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.retry.Do(ctx, func() error {
		v, err := s.client.Get(ctx, s.key("counter", name)).Int64()
		if err == redis.Nil {
			n = 0
			return nil
		}
		if err != nil {
			return err
		}
		n = v
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get counter %s: %w", name, err)
	}
	return n, nil
}

// HealthCheck verifies the Redis connection.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
