package api

import (
	"net/http"
	"strings"

	"github.com/flowkit/flowkit-editor/internal/export"
	"github.com/flowkit/flowkit-editor/internal/session"
)

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return withSession(cfg, func(w http.ResponseWriter, r *http.Request, s *session.Session) {
		var req export.ExportRequest
		if !decodeBody(w, r, &req) {
			return
		}

		if req.Format != "" && strings.ToLower(req.Format) != export.FormatEDL {
			WriteError(w, http.StatusBadRequest, "format must be edl", "BAD_REQUEST")
			return
		}

		dir, err := export.ResolveOutputDir(req.OutputDir, cfg.ExportDir)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		projectName := export.SanitizeName(req.ProjectName, 120)
		if projectName == "" {
			projectName = export.DefaultProjectName
		}

		resp, err := s.Export(r.Context(), projectName, dir)
		if err != nil {
			writeSessionError(w, cfg, err)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	})
}
