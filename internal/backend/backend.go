// Package backend defines the analysis and render contracts the editor consumes and
// the clients that fulfil them.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

var (
	ErrNoVideos   = errors.New("no video files found, upload videos first")
	ErrNoAnalysis = errors.New("analysis found no transition points")
)

// Client is implemented by every analysis/render backend.
type Client interface {
	// Analyze computes the similarity map over the given source files.
	Analyze(ctx context.Context, paths []string) (*AnalysisResult, error)
	// Render produces one output video from sequence and returns its locator.
	Render(ctx context.Context, sequence []timeline.SwitchPoint) (string, error)
	// Auto analyzes the sources and renders them in the backend's own order, with
	// no session in between. It returns the rendered locator.
	Auto(ctx context.Context, paths []string) (string, error)
}

// AnalysisResult is the analyze contract's payload. Video paths are raw backend
// strings; callers validate them into timeline.VideoID once.
type AnalysisResult struct {
	VideoFiles        []string              `json:"video_files"`
	FrameSimilarities timeline.Similarities `json:"frame_similarities"`
	FrameCount        map[int]int           `json:"frame_count,omitempty"`
}

// Validate reports the missing-input failures of an analysis.
func (r *AnalysisResult) Validate() error {
	if r == nil || len(r.VideoFiles) == 0 {
		return ErrNoVideos
	}
	if len(r.FrameSimilarities) == 0 {
		return ErrNoAnalysis
	}
	return nil
}

type renderRequest struct {
	Sequence []timeline.SwitchPoint `json:"sequence"`
}

type renderResponse struct {
	VideoURL string `json:"video_url"`
}

// StatusError is a non-2xx response from a remote backend.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors are permanent.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500
}
