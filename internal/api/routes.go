package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flowkit/flowkit-editor/internal/catalog"
	"github.com/flowkit/flowkit-editor/internal/realtime"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	// media elements cannot send an Authorization header
	r.Get("/videos/{name}", cfg.Playback.Dir(cfg.MediaDir, false))
	r.Head("/videos/{name}", cfg.Playback.Dir(cfg.MediaDir, false))
	r.Get("/result/{name}", cfg.Playback.Dir(cfg.ResultsDir, true))
	r.Head("/result/{name}", cfg.Playback.Dir(cfg.ResultsDir, true))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Post("/upload", uploadHandler(cfg))
		r.Post("/process/analyze", analyzeHandler(cfg))
		r.Post("/process/auto", autoHandler(cfg))
		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))

		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", getSessionHandler(cfg))
			r.Delete("/", closeSessionHandler(cfg))
			r.Get("/timeline", timelineHandler(cfg))
			r.Get("/transitions", transitionsHandler(cfg))
			r.Post("/sequence", insertHandler(cfg))
			r.Post("/switch", switchHandler(cfg))
			r.Post("/input", inputHandler(cfg))
			r.Post("/render", renderHandler(cfg))
			r.Post("/export", exportHandler(cfg))
			r.Get("/jobs", sessionJobsHandler(cfg))
			r.Get("/player", realtime.NewHandler(cfg.Hub, cfg.Sessions, cfg.Logger).ServeHTTP)
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		videos, _ := cfg.CatalogService.ListVideos(ctx)
		jobs, _ := cfg.CatalogService.ListJobs(ctx, 10)

		resp := StatusResponse{
			Backend:     cfg.BackendMode,
			Sessions:    cfg.Sessions.Len(),
			VideosCount: len(videos),
		}

		for _, j := range jobs {
			if j.Status == catalog.JobStatusRunning {
				resp.JobsRunning++
			}
			if j.Status == catalog.JobStatusFailed && resp.LastError == "" {
				resp.LastError = j.Error
			}
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Pipelines = &PipelineStatusResponse{
					HasAnalyze:  caps.HasAnalyze,
					HasRender:   caps.HasRender,
					LastProbeAt: caps.ProbedAt.Format(time.RFC3339),
					DepsAvail:   caps.Summary.Available,
					DepsTotal:   caps.Summary.Total,
				}
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videos, err := cfg.CatalogService.ListVideos(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list videos", "INTERNAL_ERROR")
			return
		}

		resp := VideosResponse{Videos: make([]VideoResponse, len(videos))}
		for i, v := range videos {
			resp.Videos[i] = VideoToResponse(v)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobs, err := cfg.CatalogService.ListJobs(r.Context(), 50)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, jobsResponse(jobs))
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.CatalogService.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if job == nil {
			WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
			return
		}

		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func jobsResponse(jobs []*catalog.Job) JobsResponse {
	resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = JobToResponse(j)
	}
	return resp
}
