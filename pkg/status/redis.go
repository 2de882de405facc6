package status

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis status store.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Password for Redis authentication (optional)
	Password string

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all keys (e.g., "paygraph:runs:")
	Prefix string

	// TTL is the time-to-live for run hashes (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "paygraph:runs:",
		TTL:      7 * 24 * time.Hour,
		Timeout:  2 * time.Second,
		PoolSize: 2,
	}
}

// RedisStore keeps one hash per run plus a set of known run ids.
type RedisStore struct {
	cfg    RedisConfig
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:             cfg.Address,
		Password:         cfg.Password,
		DB:               cfg.Database,
		PoolSize:         cfg.PoolSize,
		ReadTimeout:      cfg.Timeout,
		WriteTimeout:     cfg.Timeout,
		DisableIndentity: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{cfg: cfg, client: client}, nil
}

func (s *RedisStore) key(id string) string {
	return s.cfg.Prefix + id
}

func (s *RedisStore) runsKey() string {
	return s.cfg.Prefix + "index"
}

// Save writes the run hash, refreshes its TTL and indexes the id.
func (s *RedisStore) Save(ctx context.Context, st *RunStatus) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(st.ID), toHash(st))
	if s.cfg.TTL > 0 {
		pipe.Expire(ctx, s.key(st.ID), s.cfg.TTL)
	}
	pipe.SAdd(ctx, s.runsKey(), st.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run status to Redis: %w", err)
	}
	return nil
}

// Load reads a run hash. A missing run yields os.ErrNotExist.
func (s *RedisStore) Load(ctx context.Context, id string) (*RunStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load run status from Redis: %w", err)
	}
	if len(fields) == 0 {
		return nil, os.ErrNotExist
	}
	return fromHash(id, fields)
}

// List returns the ids of runs whose hash has not expired. Stale ids are
// removed from the index.
func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	ids, err := s.client.SMembers(ctx, s.runsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	var live []string
	for _, id := range ids {
		n, err := s.client.Exists(ctx, s.key(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to check run %s: %w", id, err)
		}
		if n == 0 {
			s.client.SRem(ctx, s.runsKey(), id)
			continue
		}
		live = append(live, id)
	}
	return live, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func toHash(st *RunStatus) map[string]interface{} {
	return map[string]interface{}{
		"phase":      string(st.Phase),
		"source":     st.Source,
		"backend":    st.Backend,
		"batches":    st.Batches,
		"buckets":    st.Buckets,
		"overflow":   st.OverflowRecords,
		"written":    st.RecordsWritten,
		"nodes":      st.NodesCreated,
		"rels":       st.RelationshipsCreated,
		"failed":     st.FailedWrites,
		"throughput": strconv.FormatFloat(st.Throughput, 'f', 1, 64),
		"error":      st.Error,
		"started_at": st.StartedAt.UTC().Format(time.RFC3339Nano),
		"updated_at": st.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromHash(id string, h map[string]string) (*RunStatus, error) {
	st := &RunStatus{
		ID:      id,
		Phase:   Phase(h["phase"]),
		Source:  h["source"],
		Backend: h["backend"],
		Error:   h["error"],
	}

	ints := map[string]*int64{
		"batches":  &st.Batches,
		"buckets":  &st.Buckets,
		"overflow": &st.OverflowRecords,
		"written":  &st.RecordsWritten,
		"nodes":    &st.NodesCreated,
		"rels":     &st.RelationshipsCreated,
		"failed":   &st.FailedWrites,
	}
	for field, dst := range ints {
		v, err := strconv.ParseInt(h[field], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("run %s: field %s: %w", id, field, err)
		}
		*dst = v
	}

	var err error
	if st.Throughput, err = strconv.ParseFloat(h["throughput"], 64); err != nil {
		return nil, fmt.Errorf("run %s: field throughput: %w", id, err)
	}
	if st.StartedAt, err = time.Parse(time.RFC3339Nano, h["started_at"]); err != nil {
		return nil, fmt.Errorf("run %s: field started_at: %w", id, err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, h["updated_at"]); err != nil {
		return nil, fmt.Errorf("run %s: field updated_at: %w", id, err)
	}
	return st, nil
}
