package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/logging"
)

const DefaultTTL = 2 * time.Hour

// Manager owns the live sessions. A session evicted from memory can be restored
// from its snapshot until the snapshot expires.
type Manager struct {
	deps   *Deps
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(deps Deps, ttl time.Duration) *Manager {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Bus == nil {
		deps.Bus = nopBroadcaster{}
	}
	if deps.Snapshots == nil {
		deps.Snapshots = NewMemorySnapshots()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		deps:     &deps,
		ttl:      ttl,
		logger:   logging.WithComponent(deps.Logger, "sessions"),
		sessions: make(map[string]*Session),
	}
}

// Create starts a session from an analysis result. The sequence begins as a single
// point on the first video.
func (m *Manager) Create(ctx context.Context, analysis *backend.AnalysisResult) (*Session, error) {
	if analysis == nil {
		return nil, backend.ErrNoAnalysis
	}
	if err := analysis.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	snap := Snapshot{
		ID:        uuid.New().String(),
		Analysis:  *analysis,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s, err := newSession(snap, m.deps)
	if err != nil {
		return nil, err
	}
	snap.Sequence = s.store.Points()

	if err := m.deps.Snapshots.Save(ctx, snap); err != nil {
		m.logger.Warn("failed to save session snapshot", "session_id", snap.ID, "error", err)
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	m.logger.Info("session created", "session_id", s.id, "videos", len(s.videos))
	return s, nil
}

// Get returns the live session, restoring it from its snapshot if needed.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch()
		return s, nil
	}

	snap, err := m.deps.Snapshots.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	restored, err := newSession(snap, m.deps)
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		restored.close()
		return s, nil
	}
	m.sessions[id] = restored

	m.logger.Info("session restored", "session_id", id, "points", len(snap.Sequence))
	return restored, nil
}

// Close ends a session and discards its snapshot.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		if _, err := m.deps.Snapshots.Load(ctx, id); err != nil {
			return err
		}
	} else {
		s.close()
	}

	if err := m.deps.Snapshots.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	m.logger.Info("session closed", "session_id", id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the TTL and returns how many it
// closed. A session with a render in flight is never swept.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.Rendering() || now.Sub(s.idleSince()) <= m.ttl {
			continue
		}
		expired = append(expired, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.close()
		if err := m.deps.Snapshots.Delete(ctx, s.id); err != nil {
			m.logger.Warn("failed to delete expired snapshot", "session_id", s.id, "error", err)
		}
		m.logger.Info("session expired", "session_id", s.id)
	}
	return len(expired)
}

// StartJanitor sweeps idle sessions every interval until ctx is done.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				m.Sweep(ctx, now)
			}
		}
	}()
}

// Shutdown stops every session loop. Snapshots are kept so sessions survive a
// restart.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		s.close()
		delete(m.sessions, id)
	}
}
