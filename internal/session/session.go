// Package session owns the editing state created by a successful analysis. Each
// session holds one similarity index, sequence store, switch controller and
// preview synchronizer, and funnels every mutation through its own event loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/catalog"
	"github.com/flowkit/flowkit-editor/internal/export"
	"github.com/flowkit/flowkit-editor/internal/logging"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

var (
	ErrNotFound       = errors.New("session not found")
	ErrRenderInFlight = errors.New("render already in progress")
	ErrClosed         = errors.New("session closed")
	ErrInvalidInput   = errors.New("invalid input")
)

const (
	RenderStarted   = "started"
	RenderCompleted = "completed"
	RenderFailed    = "failed"
)

// JobRecorder records render calls. catalog.Service implements it.
type JobRecorder interface {
	StartJob(ctx context.Context, jobType, sessionID string, sequence []timeline.SwitchPoint) (*catalog.Job, error)
	CompleteJob(ctx context.Context, jobID, result string) error
	FailJob(ctx context.Context, jobID string, cause error) error
}

// DurationLookup reports a probed source duration in seconds, 0 when unknown.
type DurationLookup interface {
	VideoDuration(ctx context.Context, filename string) (float64, error)
}

// Deps are the collaborators shared by every session of a Manager.
type Deps struct {
	Backend   backend.Client
	Jobs      JobRecorder
	Durations DurationLookup
	Snapshots SnapshotStore
	Bus       Broadcaster
	MediaDir  string
	Logger    *slog.Logger
}

// View is a point-in-time copy of a session's state.
type View struct {
	ID          string                 `json:"id"`
	Videos      []timeline.VideoID     `json:"videos"`
	Sequence    []timeline.SwitchPoint `json:"sequence"`
	LoadedVideo timeline.VideoID       `json:"loaded_video"`
	State       string                 `json:"state"`
	CurrentTime float64                `json:"current_time"`
	Duration    float64                `json:"duration"`
	PendingSeek *float64               `json:"pending_seek,omitempty"`
	Preview     *timeline.PreviewState `json:"preview,omitempty"`
	Rendering   bool                   `json:"rendering"`
	FrameCount  map[int]int            `json:"frame_count,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Row is one timeline track: the candidate cuts from the loaded video into Video.
// The loaded video's own row has no points.
type Row struct {
	Video   timeline.VideoID           `json:"video"`
	Current bool                       `json:"current"`
	Points  []timeline.TransitionPoint `json:"points"`
}

type RenderResult struct {
	VideoURL string                 `json:"video_url"`
	JobID    string                 `json:"job_id,omitempty"`
	Sequence []timeline.SwitchPoint `json:"sequence"`
}

type Session struct {
	id        string
	analysis  backend.AnalysisResult
	videos    []timeline.VideoID
	index     *timeline.Index
	createdAt time.Time

	// owned by the event loop
	store      *timeline.Store
	controller *timeline.Controller
	preview    *timeline.Preview

	deps   *Deps
	logger *slog.Logger

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
	snapMu    sync.Mutex // held by a snapshot save and by close
	rendering atomic.Bool
	lastSeen  atomic.Int64
}

func newSession(snap Snapshot, deps *Deps) (*Session, error) {
	videos, err := timeline.ParseVideoIDs(snap.Analysis.VideoFiles)
	if err != nil {
		return nil, err
	}
	index, err := timeline.NewIndex(videos, snap.Analysis.FrameSimilarities, timeline.FPS)
	if err != nil {
		return nil, err
	}

	store := timeline.NewStore(videos[0])
	if len(snap.Sequence) > 0 {
		for _, p := range snap.Sequence {
			if !index.Has(p.Video) {
				return nil, fmt.Errorf("%w: %q in stored sequence", timeline.ErrUnknownVideo, p.Video)
			}
		}
		if store, err = timeline.RestoreStore(snap.Sequence); err != nil {
			return nil, err
		}
	}

	s := &Session{
		id:        snap.ID,
		analysis:  snap.Analysis,
		videos:    videos,
		index:     index,
		createdAt: snap.CreatedAt,
		store:     store,
		deps:      deps,
		logger:    logging.WithSessionID(logging.WithComponent(deps.Logger, "session"), snap.ID),
		events:    make(chan func()),
		done:      make(chan struct{}),
	}

	primary := &elementPlayer{element: ElementPrimary, emit: s.emit}
	s.controller = timeline.NewController(store, primary, s.logger)
	s.preview = timeline.NewPreview(
		&elementPlayer{element: ElementPreviewCurrent, emit: s.emit},
		&elementPlayer{element: ElementPreviewTarget, emit: s.emit},
		index.FPS(),
	)
	s.touch()

	go s.run()
	return s, nil
}

func (s *Session) run() {
	for {
		select {
		case fn := <-s.events:
			fn()
		case <-s.done:
			return
		}
	}
}

// do runs fn on the event loop and waits for it.
func (s *Session) do(fn func()) error {
	s.touch()
	ran := make(chan struct{})
	select {
	case s.events <- func() { fn(); close(ran) }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-ran:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.snapMu.Lock()
		defer s.snapMu.Unlock()
		close(s.done)
	})
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

func (s *Session) emit(cmd Command) {
	s.deps.Bus.Broadcast(s.id, cmd)
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Videos() []timeline.VideoID {
	return s.videos
}

func (s *Session) Analysis() backend.AnalysisResult {
	return s.analysis
}

// resolve validates a caller-supplied video name against the session's video set.
func (s *Session) resolve(name string) (timeline.VideoID, error) {
	id, err := timeline.ParseVideoID(name)
	if err != nil {
		return "", err
	}
	if !s.index.Has(id) {
		return "", fmt.Errorf("%w: %q", timeline.ErrUnknownVideo, id)
	}
	return id, nil
}

func (s *Session) State() (View, error) {
	var v View
	err := s.do(func() {
		v = View{
			ID:          s.id,
			Videos:      s.videos,
			Sequence:    s.store.Points(),
			LoadedVideo: s.controller.Loaded(),
			State:       s.controller.State().String(),
			CurrentTime: s.controller.CurrentTime(),
			Duration:    s.controller.Duration(),
			FrameCount:  s.analysis.FrameCount,
			CreatedAt:   s.createdAt,
		}
		if t, ok := s.controller.PendingSeek(); ok {
			v.PendingSeek = &t
		}
		if p, ok := s.preview.State(); ok {
			v.Preview = &p
		}
	})
	v.Rendering = s.rendering.Load()
	return v, err
}

func (s *Session) Sequence() ([]timeline.SwitchPoint, error) {
	var seq []timeline.SwitchPoint
	err := s.do(func() { seq = s.store.Points() })
	return seq, err
}

// Insert edits the sequence directly without moving the play head. The controller
// reconciles the primary player on its next time update.
func (s *Session) Insert(ctx context.Context, video string, t float64) ([]timeline.SwitchPoint, error) {
	id, err := s.resolve(video)
	if err != nil {
		return nil, err
	}

	var seq []timeline.SwitchPoint
	err = s.do(func() {
		seq = s.store.Insert(id, t)
		s.emit(Command{Type: CmdSequence, Sequence: seq})
		s.persist(ctx, seq)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("sequence point inserted", "video", id, "time", t, "points", len(seq))
	return seq, nil
}

// Switch commits a cut to video at frame: the sequence gains the point, the primary
// player jumps there without resuming, and any preview closes.
func (s *Session) Switch(ctx context.Context, video string, frame int) ([]timeline.SwitchPoint, error) {
	id, err := s.resolve(video)
	if err != nil {
		return nil, err
	}
	if frame < 0 {
		return nil, fmt.Errorf("%w: negative frame %d", ErrInvalidInput, frame)
	}
	t := timeline.FrameTime(frame, s.index.FPS())

	var seq []timeline.SwitchPoint
	err = s.do(func() {
		s.controller.Handle(timeline.ManualSwitch{Video: id, Time: t})
		if s.preview.Hide() {
			s.emit(Command{Type: CmdReset})
		}
		seq = s.store.Points()
		s.emit(Command{Type: CmdSequence, Sequence: seq})
		s.persist(ctx, seq)
	})
	if err != nil {
		return nil, err
	}
	return seq, nil
}

// TransitionQuery selects candidate cuts. Empty Current and nil After default to
// the loaded video and the play head.
type TransitionQuery struct {
	Current string
	Target  string
	After   *float64
}

func (s *Session) Transitions(q TransitionQuery) ([]timeline.TransitionPoint, error) {
	target, err := s.resolve(q.Target)
	if err != nil {
		return nil, err
	}

	var current timeline.VideoID
	var after float64
	if err := s.do(func() {
		current = s.controller.Loaded()
		after = s.controller.CurrentTime()
	}); err != nil {
		return nil, err
	}

	if q.Current != "" {
		if current, err = s.resolve(q.Current); err != nil {
			return nil, err
		}
	}
	if q.After != nil {
		after = *q.After
	}

	return s.index.TransitionsBetween(current, target, after), nil
}

// Timeline returns one row per video, in video-set order.
func (s *Session) Timeline() ([]Row, error) {
	var loaded timeline.VideoID
	var at float64
	if err := s.do(func() {
		loaded = s.controller.Loaded()
		at = s.controller.CurrentTime()
	}); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(s.videos))
	for _, v := range s.videos {
		row := Row{Video: v, Current: v == loaded, Points: []timeline.TransitionPoint{}}
		if !row.Current {
			if pts := s.index.TransitionsBetween(loaded, v, at); pts != nil {
				row.Points = pts
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Attach replays the primary player's source and position, for a page that just
// connected.
func (s *Session) Attach() error {
	return s.do(func() {
		s.controller.Sync()
		s.emit(Command{Type: CmdSequence, Sequence: s.store.Points()})
	})
}

// Render sends the sequence to the backend. One render runs per session at a
// time; the in-flight flag is cleared however the call ends.
func (s *Session) Render(ctx context.Context) (RenderResult, error) {
	if !s.rendering.CompareAndSwap(false, true) {
		return RenderResult{}, ErrRenderInFlight
	}
	defer s.rendering.Store(false)

	seq, err := s.Sequence()
	if err != nil {
		return RenderResult{}, err
	}

	s.emit(Command{Type: CmdRender, Status: RenderStarted})
	s.logger.Info("render started", "points", len(seq))

	// bookkeeping must survive a cancelled request
	bg := context.WithoutCancel(ctx)

	var jobID string
	if s.deps.Jobs != nil {
		job, err := s.deps.Jobs.StartJob(bg, catalog.JobTypeRender, s.id, seq)
		if err != nil {
			s.logger.Warn("failed to record render job", "error", err)
		} else {
			jobID = job.ID
		}
	}

	var locator string
	if len(seq) == 1 {
		// nothing to cut: the source itself is the result
		locator = "/videos/" + url.PathEscape(seq[0].Video.String())
	} else {
		locator, err = s.deps.Backend.Render(ctx, seq)
	}

	if err != nil {
		if jobID != "" {
			if ferr := s.deps.Jobs.FailJob(bg, jobID, err); ferr != nil {
				s.logger.Warn("failed to record render failure", "job_id", jobID, "error", ferr)
			}
		}
		s.emit(Command{Type: CmdRender, Status: RenderFailed, Error: err.Error()})
		s.logger.Warn("render failed", "job_id", jobID, "error", err)
		return RenderResult{}, fmt.Errorf("render: %w", err)
	}

	if jobID != "" {
		if err := s.deps.Jobs.CompleteJob(bg, jobID, locator); err != nil {
			s.logger.Warn("failed to complete render job", "job_id", jobID, "error", err)
		}
	}
	s.emit(Command{Type: CmdRender, Status: RenderCompleted, VideoURL: locator})
	s.logger.Info("render completed", "job_id", jobID, "video_url", locator)

	return RenderResult{VideoURL: locator, JobID: jobID, Sequence: seq}, nil
}

func (s *Session) Rendering() bool {
	return s.rendering.Load()
}

// Export writes the sequence as an EDL named project into dir. The last clip ends
// at the loaded video's duration, or the probed duration when no page has reported
// one.
func (s *Session) Export(ctx context.Context, project, dir string) (*export.ExportResponse, error) {
	if project == "" {
		project = export.DefaultProjectName
	}

	var seq []timeline.SwitchPoint
	var duration float64
	var loaded timeline.VideoID
	if err := s.do(func() {
		seq = s.store.Points()
		duration = s.controller.Duration()
		loaded = s.controller.Loaded()
	}); err != nil {
		return nil, err
	}

	if duration <= 0 && s.deps.Durations != nil {
		d, err := s.deps.Durations.VideoDuration(ctx, loaded.String())
		if err != nil {
			s.logger.Warn("duration lookup failed", "video", loaded, "error", err)
		}
		duration = d
	}

	clips, err := export.ClipsFromSequence(seq, duration, func(v timeline.VideoID) string {
		return filepath.Join(s.deps.MediaDir, v.String())
	})
	if err != nil {
		return nil, err
	}

	path, err := export.WriteEDL(dir, project, export.GenerateEDL(clips, project, s.index.FPS()))
	if err != nil {
		return nil, err
	}

	s.logger.Info("sequence exported", "path", logging.SanitizePath(path), "clips", len(clips))
	return &export.ExportResponse{
		Status:     "ok",
		Format:     export.FormatEDL,
		OutputPath: path,
		ClipCount:  len(clips),
		Sequence:   seq,
	}, nil
}

func (s *Session) snapshot(seq []timeline.SwitchPoint) Snapshot {
	return Snapshot{
		ID:        s.id,
		Analysis:  s.analysis,
		Sequence:  seq,
		CreatedAt: s.createdAt,
		UpdatedAt: time.Now().UTC(),
	}
}

// persist saves the committed sequence. Callers run it on the event loop so saves
// land in edit order; nothing is saved once the session is closed. A failed save
// leaves the in-memory session authoritative.
func (s *Session) persist(ctx context.Context, seq []timeline.SwitchPoint) {
	if s.deps.Snapshots == nil {
		return
	}
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	if err := s.deps.Snapshots.Save(context.WithoutCancel(ctx), s.snapshot(seq)); err != nil {
		s.logger.Warn("failed to save session snapshot", "error", err)
	}
}
