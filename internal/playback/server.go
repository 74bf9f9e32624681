// Package playback streams uploaded sources and rendered results to the editor's
// media elements with byte-range support.
package playback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".mkv": "video/x-matroska",
	".avi": "video/x-msvideo",
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{logger: logger}
}

// Dir serves the file named by the {name} route parameter from dir. Names that
// would leave dir are rejected. noCache marks files that are rewritten in place,
// such as render results.
func (s *Server) Dir(dir string, noCache bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == ".." {
			http.Error(w, "invalid file name", http.StatusBadRequest)
			return
		}
		if noCache {
			w.Header().Set("Cache-Control", "no-cache")
		}
		if err := s.ServeFile(w, r, filepath.Join(dir, name)); err != nil {
			s.logger.Error("playback failed", "file", name, "error", err)
		}
	}
}

// ServeFile writes filePath, or the requested byte range of it. Response errors are
// written before returning; the returned error is for logging only.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	if err != nil {
		http.Error(w, "failed to open file", http.StatusInternalServerError)
		return fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		http.Error(w, "failed to stat file", http.StatusInternalServerError)
		return fmt.Errorf("stat: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}
	size := stat.Size()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType(filePath))

	rng, partial, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "range not satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case err != nil:
		// a malformed Range header is ignored
		partial = false
	}

	if !partial {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		_, err := io.Copy(w, file)
		return err
	}

	w.Header().Set("Content-Length", strconv.FormatInt(rng.Length(), 10))
	w.Header().Set("Content-Range", rng.ContentRange(size))
	w.WriteHeader(http.StatusPartialContent)
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := file.Seek(rng.Start, io.SeekStart); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	_, err = io.CopyN(w, file, rng.Length())
	return err
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
