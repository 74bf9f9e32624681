package api

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/catalog"
	"github.com/flowkit/flowkit-editor/internal/pipelines"
	"github.com/flowkit/flowkit-editor/internal/probe"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

const (
	uploadMemory = 32 << 20
	probeTimeout = 5 * time.Minute
)

func uploadHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(uploadMemory); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			WriteError(w, http.StatusBadRequest, "no files uploaded", "BAD_REQUEST")
			return
		}

		uploads := make([]catalog.Upload, 0, len(headers))
		files := make([]multipart.File, 0, len(headers))
		defer func() {
			for _, f := range files {
				f.Close()
			}
		}()
		for _, h := range headers {
			f, err := h.Open()
			if err != nil {
				WriteError(w, http.StatusBadRequest, "failed to read upload", "BAD_REQUEST")
				return
			}
			files = append(files, f)
			uploads = append(uploads, catalog.Upload{Filename: h.Filename, Body: f})
		}

		saved, err := cfg.CatalogService.SaveUploads(r.Context(), uploads)
		switch {
		case errors.Is(err, catalog.ErrNoFiles), errors.Is(err, timeline.ErrInvalidVideoID):
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		case err != nil:
			cfg.Logger.Error("failed to save uploads", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to save uploads", "INTERNAL_ERROR")
			return
		}

		if cfg.Prober != nil {
			go probeUploads(cfg.CatalogService, cfg.Prober, cfg.Logger)
		}

		WriteJSON(w, http.StatusOK, UploadResponse{Filenames: saved})
	}
}

// probeUploads records the duration of every cataloged video in the background.
func probeUploads(svc catalog.CatalogService, p probe.Prober, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	videos, err := svc.ListVideos(ctx)
	if err != nil {
		logger.Warn("failed to list videos for probing", "error", err)
		return
	}
	sources := make([]probe.Source, len(videos))
	for i, v := range videos {
		sources[i] = probe.Source{ID: v.ID, Name: v.Filename, Path: v.Path}
	}
	probe.ProbeAll(ctx, p, svc, sources, logger)
}

// uploadedPaths returns the cataloged source paths, writing the error response
// itself when there are none.
func uploadedPaths(w http.ResponseWriter, r *http.Request, cfg ServerConfig) ([]string, bool) {
	videos, err := cfg.CatalogService.ListVideos(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
		return nil, false
	}
	if len(videos) == 0 {
		WriteError(w, http.StatusBadRequest, "no videos uploaded", "NO_VIDEOS")
		return nil, false
	}

	paths := make([]string, len(videos))
	for i, v := range videos {
		paths[i] = v.Path
	}
	return paths, true
}

// jobTracker records one backend call as a job. A nil job means recording failed;
// the call itself still runs.
type jobTracker struct {
	svc    catalog.CatalogService
	logger *slog.Logger
	ctx    context.Context
	job    *catalog.Job
}

func startJob(ctx context.Context, cfg ServerConfig, jobType string) *jobTracker {
	t := &jobTracker{svc: cfg.CatalogService, logger: cfg.Logger, ctx: context.WithoutCancel(ctx)}
	job, err := t.svc.StartJob(t.ctx, jobType, "", nil)
	if err != nil {
		t.logger.Warn("failed to record job", "type", jobType, "error", err)
		return t
	}
	t.job = job
	return t
}

func (t *jobTracker) id() string {
	if t.job == nil {
		return ""
	}
	return t.job.ID
}

func (t *jobTracker) fail(cause error) {
	if t.job == nil {
		return
	}
	if err := t.svc.FailJob(t.ctx, t.job.ID, cause); err != nil {
		t.logger.Warn("failed to record job failure", "job_id", t.job.ID, "error", err)
	}
}

func (t *jobTracker) complete(result string) {
	if t.job == nil {
		return
	}
	if err := t.svc.CompleteJob(t.ctx, t.job.ID, result); err != nil {
		t.logger.Warn("failed to complete job", "job_id", t.job.ID, "error", err)
	}
}

func analyzeHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		paths, ok := uploadedPaths(w, r, cfg)
		if !ok {
			return
		}

		job := startJob(ctx, cfg, catalog.JobTypeAnalyze)

		result, err := cfg.Backend.Analyze(ctx, paths)
		if err != nil {
			job.fail(err)
			writeBackendError(w, cfg.Logger, "analysis", err)
			return
		}

		sess, err := cfg.Sessions.Create(ctx, result)
		if err != nil {
			job.fail(err)
			writeBackendError(w, cfg.Logger, "analysis", err)
			return
		}
		job.complete(sess.ID())

		WriteJSON(w, http.StatusOK, AnalyzeResponse{
			SessionID:         sess.ID(),
			VideoFiles:        result.VideoFiles,
			FrameSimilarities: result.FrameSimilarities,
			FrameCount:        result.FrameCount,
		})
	}
}

// autoHandler analyzes and renders the upload set in one call. No session is
// created; the backend picks the cut order.
func autoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		paths, ok := uploadedPaths(w, r, cfg)
		if !ok {
			return
		}

		job := startJob(ctx, cfg, catalog.JobTypeAuto)

		locator, err := cfg.Backend.Auto(ctx, paths)
		if err != nil {
			job.fail(err)
			writeBackendError(w, cfg.Logger, "auto edit", err)
			return
		}
		job.complete(locator)

		cfg.Logger.Info("auto edit completed", "videos", len(paths), "video_url", locator)
		WriteJSON(w, http.StatusOK, AutoResponse{VideoURL: locator, JobID: job.id()})
	}
}

// writeBackendError maps a failed analyze or render call to a response.
func writeBackendError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	var statusErr *backend.StatusError
	switch {
	case errors.Is(err, backend.ErrNoVideos):
		WriteError(w, http.StatusBadRequest, err.Error(), "NO_VIDEOS")
	case errors.Is(err, backend.ErrNoAnalysis):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "NO_ANALYSIS")
	case errors.Is(err, pipelines.ErrAnalyzeUnavailable), errors.Is(err, pipelines.ErrRenderUnavailable):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "BACKEND_UNAVAILABLE")
	case errors.Is(err, timeline.ErrInvalidVideoID), errors.Is(err, timeline.ErrEmptyVideoSet):
		logger.Error(op+" returned an unusable result", "error", err)
		WriteError(w, http.StatusBadGateway, err.Error(), "BACKEND_ERROR")
	case errors.As(err, &statusErr):
		logger.Error(op+" failed", "status", statusErr.StatusCode, "error", err)
		WriteError(w, http.StatusBadGateway, err.Error(), "BACKEND_ERROR")
	default:
		logger.Error(op+" failed", "error", err)
		WriteError(w, http.StatusBadGateway, err.Error(), "BACKEND_ERROR")
	}
}
