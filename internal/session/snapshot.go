package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

const snapshotKeyPrefix = "flowkit:session:"

// Snapshot is the persisted part of a session: the analysis it was built from and
// the committed sequence. Playback state is never persisted.
type Snapshot struct {
	ID        string                 `json:"id"`
	Analysis  backend.AnalysisResult `json:"analysis"`
	Sequence  []timeline.SwitchPoint `json:"sequence"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns ErrNotFound when no live snapshot exists for id.
	Load(ctx context.Context, id string) (Snapshot, error)
	Delete(ctx context.Context, id string) error
}

// MemorySnapshots keeps snapshots for the life of the process.
type MemorySnapshots struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{snaps: make(map[string]Snapshot)}
}

func (m *MemorySnapshots) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	return nil
}

func (m *MemorySnapshots) Load(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (m *MemorySnapshots) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, id)
	return nil
}

// RedisSnapshots stores snapshots as JSON with a sliding TTL, so an abandoned
// session's data expires on its own.
type RedisSnapshots struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSnapshots(rdb *redis.Client, ttl time.Duration) *RedisSnapshots {
	return &RedisSnapshots{rdb: rdb, ttl: ttl}
}

func (r *RedisSnapshots) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := r.rdb.Set(ctx, snapshotKeyPrefix+snap.ID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *RedisSnapshots) Load(ctx context.Context, id string) (Snapshot, error) {
	data, err := r.rdb.Get(ctx, snapshotKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func (r *RedisSnapshots) Delete(ctx context.Context, id string) error {
	return r.rdb.Del(ctx, snapshotKeyPrefix+id).Err()
}
