package pipelines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // 8 KB tail of stderr kept for diagnostics
)

// Runner executes Python pipeline commands as subprocesses.
type Runner interface {
	// RunDoctor executes `python -m <module> doctor --json --out <path>` and
	// returns parsed capabilities.
	RunDoctor(ctx context.Context) (*Capabilities, error)

	// RunAnalyze computes pose similarity across the given videos.
	RunAnalyze(ctx context.Context, videoPaths []string, outPath string) (RunResult, error)

	// RunRender cuts the videos according to the sequence file and writes the
	// combined video to videoOut.
	RunRender(ctx context.Context, sequencePath, mediaDir, videoOut, outPath string) (RunResult, error)

	// ValidateOutput reads a pipeline output JSON into v and checks required fields.
	ValidateOutput(path string, v any) error

	// ArtifactsDir returns the base directory for pipeline outputs.
	ArtifactsDir() string
}

// Config holds the runner's configuration.
type Config struct {
	PythonPath     string        // path to python binary; empty = auto-detect
	ModuleName     string        // default "flowkit_pipelines"
	ArtifactsBase  string        // base dir for outputs, e.g. ~/.flowkit/artifacts
	DoctorTimeout  time.Duration // timeout for doctor command
	AnalyzeTimeout time.Duration // timeout for analysis
	RenderTimeout  time.Duration // timeout for rendering
	Logger         *slog.Logger
	DebugPaths     bool // if true, log full file paths; otherwise sanitise
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig(dataDir string, logger *slog.Logger) Config {
	return Config{
		PythonPath:     "", // auto-detect
		ModuleName:     "flowkit_pipelines",
		ArtifactsBase:  filepath.Join(dataDir, "artifacts"),
		DoctorTimeout:  30 * time.Second,
		AnalyzeTimeout: 60 * time.Minute,
		RenderTimeout:  30 * time.Minute,
		Logger:         logger,
		DebugPaths:     false,
	}
}

// SubprocessRunner is the production implementation of Runner.
type SubprocessRunner struct {
	cfg    Config
	python string // resolved python path
}

// NewRunner creates a SubprocessRunner, resolving the Python binary path.
func NewRunner(cfg Config) (*SubprocessRunner, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	python, err := resolvePython(cfg.PythonPath)
	if err != nil {
		return nil, fmt.Errorf("cannot locate python: %w", err)
	}

	if err := os.MkdirAll(cfg.ArtifactsBase, 0755); err != nil {
		return nil, fmt.Errorf("cannot create artifacts dir: %w", err)
	}

	cfg.Logger.Info("pipeline runner initialised",
		"python", python,
		"module", cfg.ModuleName,
		"artifacts_dir", cfg.ArtifactsBase,
	)

	return &SubprocessRunner{cfg: cfg, python: python}, nil
}

func (r *SubprocessRunner) ArtifactsDir() string {
	return r.cfg.ArtifactsBase
}

// RunDoctor probes the installed pipelines environment.
func (r *SubprocessRunner) RunDoctor(ctx context.Context) (*Capabilities, error) {
	outPath := filepath.Join(r.cfg.ArtifactsBase, ".doctor.json")

	ctx, cancel := context.WithTimeout(ctx, r.cfg.DoctorTimeout)
	defer cancel()

	result := r.exec(ctx, outPath, "doctor", "--json", "--out", outPath)
	if !result.IsSuccess() {
		return nil, fmt.Errorf("doctor exited %d: %s", result.ExitCode, result.StderrTail)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read doctor output: %w", err)
	}

	var caps Capabilities
	if err := json.Unmarshal(data, &caps); err != nil {
		return nil, fmt.Errorf("cannot parse doctor JSON: %w", err)
	}

	deriveCapabilities(&caps)
	caps.ProbedAt = time.Now()

	r.cfg.Logger.Info("doctor probe complete",
		"analyze", caps.HasAnalyze,
		"render", caps.HasRender,
		"deps_available", caps.Summary.Available,
		"deps_total", caps.Summary.Total,
	)

	return &caps, nil
}

// deriveCapabilities sets the pipeline flags from the dependency report. Analysis
// needs pose detection and frame decoding; rendering needs ffmpeg to cut and join.
func deriveCapabilities(caps *Capabilities) {
	caps.HasAnalyze = isAvailable(caps.Dependencies, "cv2") &&
		isAvailable(caps.Dependencies, "ultralytics") &&
		isAvailable(caps.Dependencies, "mediapipe")
	caps.HasRender = isAvailable(caps.Dependencies, "cv2") &&
		isAvailable(caps.Executables, "ffmpeg")
}

func (r *SubprocessRunner) RunAnalyze(ctx context.Context, videoPaths []string, outPath string) (RunResult, error) {
	if len(videoPaths) == 0 {
		return RunResult{}, errors.New("no videos to analyze")
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.AnalyzeTimeout)
	defer cancel()

	args := []string{"analyze"}
	for _, p := range videoPaths {
		args = append(args, "--video", p)
	}
	args = append(args, "--fps", "24", "--out", outPath)

	return r.exec(ctx, outPath, args...), nil
}

func (r *SubprocessRunner) RunRender(ctx context.Context, sequencePath, mediaDir, videoOut, outPath string) (RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(videoOut), 0755); err != nil {
		return RunResult{}, fmt.Errorf("cannot create render output dir: %w", err)
	}

	result := r.exec(ctx, outPath,
		"render",
		"--sequence", sequencePath,
		"--media-dir", mediaDir,
		"--video-out", videoOut,
		"--out", outPath,
	)
	return result, nil
}

// ValidateOutput reads a pipeline JSON output into v and checks required metadata fields.
func (r *SubprocessRunner) ValidateOutput(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read output file %s: %w", r.safePath(path), err)
	}

	var meta PipelineOutput
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("cannot parse output JSON: %w", err)
	}

	if !meta.RequiredFieldsPresent() {
		missing := []string{}
		if meta.SchemaVersion == "" {
			missing = append(missing, "schema_version")
		}
		if meta.PipelineVersion == "" {
			missing = append(missing, "pipeline_version")
		}
		return fmt.Errorf("pipeline output missing required fields: %s", strings.Join(missing, ", "))
	}

	if v != nil {
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("cannot parse output JSON: %w", err)
		}
	}
	return nil
}

// exec is the core subprocess execution helper.
func (r *SubprocessRunner) exec(ctx context.Context, outPath string, args ...string) RunResult {
	start := time.Now()

	// Ensure output directory exists
	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			r.cfg.Logger.Error("cannot create output dir", "error", err)
			return RunResult{ExitCode: -1, StderrTail: err.Error(), Duration: time.Since(start)}
		}
	}

	cmdArgs := append([]string{"-m", r.cfg.ModuleName}, args...)
	cmd := exec.CommandContext(ctx, r.python, cmdArgs...)

	// Capture stderr with bounded buffer
	var stderrBuf bytes.Buffer
	cmd.Stderr = io.Writer(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes})
	cmd.Stdout = io.Discard // CLI writes to --out file, not stdout

	r.cfg.Logger.Info("executing pipeline command", "command", args[0])
	r.cfg.Logger.Debug("pipeline command args", "args", cmdArgs)

	err := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
			stderrBuf.WriteString(err.Error())
		}
	}

	stderrTail := stderrBuf.String()

	if exitCode != 0 {
		r.cfg.Logger.Warn("pipeline command failed",
			"command", args[0],
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"stderr_tail", truncate(stderrTail, 512),
		)
	} else {
		r.cfg.Logger.Info("pipeline command succeeded",
			"command", args[0],
			"duration_ms", elapsed.Milliseconds(),
			"output", r.safePath(outPath),
		)
	}

	return RunResult{
		ExitCode:   exitCode,
		OutputPath: outPath,
		StderrTail: stderrTail,
		Duration:   elapsed,
	}
}

func (r *SubprocessRunner) safePath(path string) string {
	if r.cfg.DebugPaths {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Base(path)
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return filepath.Base(path)
}

// resolvePython finds a usable python binary.
func resolvePython(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured python %q not found", preferred)
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no python binary found on PATH (tried python3, python)")
}

func isAvailable(deps map[string]DepInfo, name string) bool {
	d, ok := deps[name]
	return ok && d.Available
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter is an io.Writer that keeps only the last `limit` bytes.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		// Keep only the tail
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
