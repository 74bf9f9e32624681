package api

import (
	"time"

	"github.com/flowkit/flowkit-editor/internal/catalog"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	Backend     string                  `json:"backend"`
	Sessions    int                     `json:"sessions"`
	VideosCount int                     `json:"videos_count"`
	JobsRunning int                     `json:"jobs_running"`
	LastError   string                  `json:"last_error,omitempty"`
	Pipelines   *PipelineStatusResponse `json:"pipelines,omitempty"`
}

type PipelineStatusResponse struct {
	HasAnalyze  bool   `json:"has_analyze"`
	HasRender   bool   `json:"has_render"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
	DepsAvail   int    `json:"deps_available"`
	DepsTotal   int    `json:"deps_total"`
}

type UploadResponse struct {
	Filenames []string `json:"filenames"`
}

type AnalyzeResponse struct {
	SessionID         string                `json:"session_id"`
	VideoFiles        []string              `json:"video_files"`
	FrameSimilarities timeline.Similarities `json:"frame_similarities"`
	FrameCount        map[int]int           `json:"frame_count,omitempty"`
}

type AutoResponse struct {
	VideoURL string `json:"video_url"`
	JobID    string `json:"job_id,omitempty"`
}

type InsertRequest struct {
	Video string  `json:"video"`
	Time  float64 `json:"time"`
}

type SwitchRequest struct {
	Video string `json:"video"`
	Frame int    `json:"frame"`
}

type SequenceResponse struct {
	Sequence []timeline.SwitchPoint `json:"sequence"`
}

type TransitionsResponse struct {
	Target string                     `json:"target"`
	Points []timeline.TransitionPoint `json:"points"`
}

type VideoResponse struct {
	ID        string  `json:"id"`
	Filename  string  `json:"filename"`
	Size      int64   `json:"size"`
	DurationS float64 `json:"duration_s,omitempty"`
	URL       string  `json:"url"`
	CreatedAt string  `json:"created_at"`
}

type VideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

type JobResponse struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Status    string                 `json:"status"`
	SessionID string                 `json:"session_id,omitempty"`
	Sequence  []timeline.SwitchPoint `json:"sequence,omitempty"`
	Result    string                 `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(v *catalog.Video) VideoResponse {
	return VideoResponse{
		ID:        v.ID,
		Filename:  v.Filename,
		Size:      v.Size,
		DurationS: v.DurationS,
		URL:       "/videos/" + v.Filename,
		CreatedAt: v.CreatedAt.Format(time.RFC3339),
	}
}

func JobToResponse(j *catalog.Job) JobResponse {
	return JobResponse{
		ID:        j.ID,
		Type:      j.Type,
		Status:    j.Status,
		SessionID: j.SessionID,
		Sequence:  j.SequencePoints(),
		Result:    j.Result,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
}
