package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/flowkit/flowkit-editor/internal/export"
	"github.com/flowkit/flowkit-editor/internal/session"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

type sessionHandlerFunc func(w http.ResponseWriter, r *http.Request, s *session.Session)

// withSession resolves the {sessionID} route parameter.
func withSession(cfg ServerConfig, h sessionHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := cfg.Sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
		if err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		h(w, r, s)
	}
}

func writeSessionError(w http.ResponseWriter, cfg ServerConfig, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrClosed):
		WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
	case errors.Is(err, timeline.ErrUnknownVideo),
		errors.Is(err, timeline.ErrInvalidVideoID),
		errors.Is(err, session.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, session.ErrRenderInFlight):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, export.ErrNoDuration):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	default:
		cfg.Logger.Error("session request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal error", "INTERNAL_ERROR")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		view, err := s.State()
		if err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, view)
	})
}

func closeSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Sessions.Close(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func timelineHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		rows, err := s.Timeline()
		if err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"rows": rows})
	})
}

func transitionsHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		q := r.URL.Query()
		query := session.TransitionQuery{
			Current: q.Get("current"),
			Target:  q.Get("target"),
		}
		if query.Target == "" {
			WriteError(w, http.StatusBadRequest, "target is required", "BAD_REQUEST")
			return
		}
		if raw := q.Get("after"); raw != "" {
			after, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				WriteError(w, http.StatusBadRequest, "after must be a number", "BAD_REQUEST")
				return
			}
			query.After = &after
		}

		points, err := s.Transitions(query)
		if err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		if points == nil {
			points = []timeline.TransitionPoint{}
		}
		WriteJSON(w, http.StatusOK, TransitionsResponse{Target: query.Target, Points: points})
	})
}

func insertHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var req InsertRequest
		if !decodeBody(w, r, &req) {
			return
		}
		seq, err := s.Insert(r.Context(), req.Video, req.Time)
		if err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, SequenceResponse{Sequence: seq})
	})
}

func switchHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var req SwitchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		seq, err := s.Switch(r.Context(), req.Video, req.Frame)
		if err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, SequenceResponse{Sequence: seq})
	})
}

// inputHandler accepts the same page events as the player websocket.
func inputHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var in session.Input
		if !decodeBody(w, r, &in) {
			return
		}
		if err := s.Dispatch(r.Context(), in); err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func renderHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		result, err := s.Render(r.Context())
		switch {
		case errors.Is(err, session.ErrRenderInFlight), errors.Is(err, session.ErrClosed):
			writeSessionError(w, cfg, err)
			return
		case err != nil:
			writeBackendError(w, cfg.Logger, "render", err)
			return
		}
		WriteJSON(w, http.StatusOK, result)
	})
}

func sessionJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		jobs, err := cfg.CatalogService.SessionJobs(r.Context(), s.ID())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, jobsResponse(jobs))
	})
}
