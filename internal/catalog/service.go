package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

const fingerprintSize = 64 * 1024

var ErrNoFiles = errors.New("no files in upload")

// Upload is one file of a multipart upload.
type Upload struct {
	Filename string
	Body     io.Reader
}

type CatalogService interface {
	SaveUploads(ctx context.Context, uploads []Upload) ([]string, error)
	ListVideos(ctx context.Context) ([]*Video, error)
	GetVideo(ctx context.Context, filename string) (*Video, error)
	SetDuration(ctx context.Context, id string, durationS float64) error
	VideoDuration(ctx context.Context, filename string) (float64, error)

	StartJob(ctx context.Context, jobType, sessionID string, sequence []timeline.SwitchPoint) (*Job, error)
	CompleteJob(ctx context.Context, jobID, result string) error
	FailJob(ctx context.Context, jobID string, cause error) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	SessionJobs(ctx context.Context, sessionID string) ([]*Job, error)
}

type Service struct {
	repo     Repository
	mediaDir string
	logger   *slog.Logger
}

func NewService(repo Repository, mediaDir string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, mediaDir: mediaDir, logger: logger}
}

func (s *Service) MediaDir() string {
	return s.mediaDir
}

// SaveUploads replaces the previous upload set with uploads. Every file is stored in
// the media directory; only video files are recorded in the catalog. It returns the
// stored filenames in upload order.
func (s *Service) SaveUploads(ctx context.Context, uploads []Upload) ([]string, error) {
	if len(uploads) == 0 {
		return nil, ErrNoFiles
	}

	if err := os.RemoveAll(s.mediaDir); err != nil {
		return nil, fmt.Errorf("clear media dir: %w", err)
	}
	if err := os.MkdirAll(s.mediaDir, 0755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	saved := make([]string, 0, len(uploads))
	var videos []*Video
	for _, u := range uploads {
		id, err := timeline.ParseVideoID(u.Filename)
		if err != nil {
			return nil, fmt.Errorf("upload %q: %w", u.Filename, err)
		}
		name := id.String()
		path := filepath.Join(s.mediaDir, name)

		size, err := writeFile(path, u.Body)
		if err != nil {
			return nil, fmt.Errorf("save %s: %w", name, err)
		}
		saved = append(saved, name)

		if !IsVideoFile(name) {
			continue
		}

		fingerprint, err := computeFingerprint(path)
		if err != nil {
			return nil, fmt.Errorf("fingerprint %s: %w", name, err)
		}
		videos = append(videos, &Video{
			ID:          NewID(),
			Filename:    name,
			Path:        path,
			Size:        size,
			Fingerprint: fingerprint,
			CreatedAt:   time.Now().UTC(),
		})
	}

	if err := s.repo.ReplaceVideos(ctx, videos); err != nil {
		return nil, err
	}

	s.logger.Info("upload set replaced", "files", len(saved), "videos", len(videos))
	return saved, nil
}

func (s *Service) ListVideos(ctx context.Context) ([]*Video, error) {
	return s.repo.ListVideos(ctx)
}

func (s *Service) GetVideo(ctx context.Context, filename string) (*Video, error) {
	return s.repo.GetVideoByFilename(ctx, filename)
}

func (s *Service) SetDuration(ctx context.Context, id string, durationS float64) error {
	return s.repo.UpdateVideoDuration(ctx, id, durationS)
}

// VideoDuration returns the probed duration of filename, 0 when the video is not
// cataloged or was never probed.
func (s *Service) VideoDuration(ctx context.Context, filename string) (float64, error) {
	v, err := s.repo.GetVideoByFilename(ctx, filename)
	if err != nil || v == nil {
		return 0, err
	}
	return v.DurationS, nil
}

// StartJob records a backend call as running. sequence is stored verbatim for render
// jobs and may be nil.
func (s *Service) StartJob(ctx context.Context, jobType, sessionID string, sequence []timeline.SwitchPoint) (*Job, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        NewID(),
		Type:      jobType,
		Status:    JobStatusRunning,
		SessionID: sessionID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if sequence != nil {
		data, err := json.Marshal(sequence)
		if err != nil {
			return nil, fmt.Errorf("encode sequence: %w", err)
		}
		job.Sequence = string(data)
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job started", "job_id", job.ID, "type", jobType, "session_id", sessionID)
	return job, nil
}

func (s *Service) CompleteJob(ctx context.Context, jobID, result string) error {
	s.logger.Info("job completed", "job_id", jobID, "result", result)
	return s.repo.FinishJob(ctx, jobID, JobStatusCompleted, result, "")
}

func (s *Service) FailJob(ctx context.Context, jobID string, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	s.logger.Warn("job failed", "job_id", jobID, "error", msg)
	return s.repo.FinishJob(ctx, jobID, JobStatusFailed, "", msg)
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.GetJob(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Service) SessionJobs(ctx context.Context, sessionID string) ([]*Job, error) {
	return s.repo.ListJobsBySession(ctx, sessionID)
}

func writeFile(path string, body io.Reader) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func computeFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	lr := io.LimitReader(f, fingerprintSize)
	if _, err := io.Copy(h, lr); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
