package catalog

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

// Video is one uploaded source recording of the current upload set.
type Video struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	DurationS   float64   `json:"duration_s"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

const (
	JobTypeAnalyze = "analyze"
	JobTypeRender  = "render"
	JobTypeAuto    = "auto"

	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job records one backend call: an analysis of the upload set, a render of a
// session's sequence, or an auto edit. Result holds the rendered locator for render
// and auto jobs.
type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	SessionID string    `json:"session_id,omitempty"`
	Sequence  string    `json:"sequence,omitempty"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SequencePoints decodes the stored render sequence. It is nil for analyze jobs
// and for rows whose sequence cannot be decoded.
func (j *Job) SequencePoints() []timeline.SwitchPoint {
	if j.Sequence == "" {
		return nil
	}
	var points []timeline.SwitchPoint
	if err := json.Unmarshal([]byte(j.Sequence), &points); err != nil {
		return nil
	}
	return points
}

var VideoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mkv": true,
	".mov": true,
}

func NewID() string {
	return uuid.NewString()
}

func IsVideoFile(filename string) bool {
	return VideoExtensions[strings.ToLower(filepath.Ext(filename))]
}
