// Package probe reads source durations with ffprobe. The engine assumes every
// source of a session has the same length; a probe only warns when they differ.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"
)

const (
	DefaultTimeout = 30 * time.Second
	// MismatchTolerance is the largest duration spread, in seconds, that is not
	// reported.
	MismatchTolerance = 0.5
)

var ErrUnavailable = errors.New("ffprobe not available")

type Prober interface {
	Duration(ctx context.Context, path string) (float64, error)
}

type FFprobe struct {
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

// NewFFprobe resolves bin on PATH. A missing binary is not an error here; Duration
// reports ErrUnavailable.
func NewFFprobe(bin string, logger *slog.Logger) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if resolved, err := exec.LookPath(bin); err == nil {
		bin = resolved
	} else {
		logger.Info("ffprobe not found, durations will not be probed", "bin", bin)
		bin = ""
	}
	return &FFprobe{bin: bin, timeout: DefaultTimeout, logger: logger}
}

func (f *FFprobe) Available() bool {
	return f.bin != ""
}

func (f *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	if f.bin == "" {
		return 0, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w: %s", path, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return parseDuration(stdout.Bytes())
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseDuration(data []byte) (float64, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return 0, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if out.Format.Duration == "" {
		return 0, errors.New("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid duration %q", out.Format.Duration)
	}
	return d, nil
}
