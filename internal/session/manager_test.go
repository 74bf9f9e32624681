package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

func newRedisSnapshots(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisSnapshots) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewRedisSnapshots(rdb, ttl)
}

func TestRedisSnapshots(t *testing.T) {
	mr, store := newRedisSnapshots(t, time.Minute)
	ctx := context.Background()

	_, err := store.Load(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	snap := Snapshot{
		ID:       "s1",
		Analysis: *testAnalysis(),
		Sequence: []timeline.SwitchPoint{{Video: "a.mp4"}, {Video: "b.mp4", Start: 4.5}},
	}
	require.NoError(t, store.Save(ctx, snap))
	assert.Equal(t, time.Minute, mr.TTL(snapshotKeyPrefix+"s1"))

	got, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, snap.Sequence, got.Sequence)
	assert.Equal(t, snap.Analysis.FrameSimilarities, got.Analysis.FrameSimilarities)

	mr.FastForward(2 * time.Minute)
	_, err = store.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_RestoreFromSnapshot(t *testing.T) {
	_, store := newRedisSnapshots(t, time.Hour)
	ctx := context.Background()

	first := NewManager(Deps{Snapshots: store}, time.Hour)
	s, err := first.Create(ctx, testAnalysis())
	require.NoError(t, err)
	_, err = s.Insert(ctx, "c.mp4", 20)
	require.NoError(t, err)
	first.Shutdown()

	second := NewManager(Deps{Snapshots: store}, time.Hour)
	defer second.Shutdown()

	restored, err := second.Get(ctx, s.ID())
	require.NoError(t, err)
	seq, err := restored.Sequence()
	require.NoError(t, err)
	assert.Equal(t, []timeline.SwitchPoint{{Video: "a.mp4", Start: 0}, {Video: "c.mp4", Start: 20}}, seq)

	again, err := second.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Same(t, restored, again)
}

func TestManager_Get_Unknown(t *testing.T) {
	m := NewManager(Deps{}, time.Hour)
	defer m.Shutdown()

	_, err := m.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Close(t *testing.T) {
	snaps := NewMemorySnapshots()
	m := NewManager(Deps{Snapshots: snaps}, time.Hour)
	defer m.Shutdown()
	ctx := context.Background()

	s, err := m.Create(ctx, testAnalysis())
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, s.ID()))
	assert.Equal(t, 0, m.Len())

	_, err = m.Get(ctx, s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Close(ctx, s.ID()), ErrNotFound)

	_, err = s.Sequence()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_Sweep(t *testing.T) {
	m := NewManager(Deps{}, time.Minute)
	defer m.Shutdown()
	ctx := context.Background()

	idle, err := m.Create(ctx, testAnalysis())
	require.NoError(t, err)
	active, err := m.Create(ctx, testAnalysis())
	require.NoError(t, err)
	busy, err := m.Create(ctx, testAnalysis())
	require.NoError(t, err)

	old := time.Now().Add(-2 * time.Minute).UnixNano()
	idle.lastSeen.Store(old)
	busy.lastSeen.Store(old)
	busy.rendering.Store(true)

	assert.Equal(t, 1, m.Sweep(ctx, time.Now()))
	assert.Equal(t, 2, m.Len())

	_, err = m.Get(ctx, idle.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, active.ID())
	assert.NoError(t, err)
}

func TestManager_StartJanitor(t *testing.T) {
	m := NewManager(Deps{}, time.Millisecond)
	defer m.Shutdown()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := m.Create(ctx, testAnalysis())
	require.NoError(t, err)

	m.StartJanitor(ctx, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
}

// slowSnapshots widens the window between an edit and its save.
type slowSnapshots struct {
	*MemorySnapshots
	delay time.Duration
}

func (s *slowSnapshots) Save(ctx context.Context, snap Snapshot) error {
	time.Sleep(s.delay)
	return s.MemorySnapshots.Save(ctx, snap)
}

func TestSession_SnapshotFollowsConcurrentEdits(t *testing.T) {
	snaps := &slowSnapshots{MemorySnapshots: NewMemorySnapshots(), delay: time.Millisecond}
	m := NewManager(Deps{Snapshots: snaps}, time.Hour)
	defer m.Shutdown()
	ctx := context.Background()

	for round := 0; round < 10; round++ {
		s, err := m.Create(ctx, testAnalysis())
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			video := "a.mp4"
			if i%2 == 1 {
				video = "b.mp4"
			}
			wg.Add(1)
			go func(video string, at float64) {
				defer wg.Done()
				_, err := s.Insert(ctx, video, at)
				assert.NoError(t, err)
			}(video, float64(i+1))
		}
		wg.Wait()

		live, err := s.Sequence()
		require.NoError(t, err)
		snap, err := snaps.Load(ctx, s.ID())
		require.NoError(t, err)
		require.Equal(t, live, snap.Sequence, "round %d", round)
	}
}

func TestSession_NoSnapshotAfterClose(t *testing.T) {
	snaps := NewMemorySnapshots()
	m := NewManager(Deps{Snapshots: snaps}, time.Hour)
	defer m.Shutdown()
	ctx := context.Background()

	s, err := m.Create(ctx, testAnalysis())
	require.NoError(t, err)
	seq, err := s.Insert(ctx, "b.mp4", 4)
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx, s.ID()))

	// a save that lost the race with Close
	s.persist(ctx, seq)

	_, err = snaps.Load(ctx, s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Get(ctx, s.ID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Insert(ctx, "a.mp4", 8)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = snaps.Load(ctx, s.ID())
	assert.ErrorIs(t, err, ErrNotFound)
}
