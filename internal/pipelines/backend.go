package pipelines

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/flowkit/flowkit-editor/internal/backend"
	"github.com/flowkit/flowkit-editor/internal/timeline"
)

const renderVideoName = "combined_video.mp4"

// LocalBackend fulfils the analyze and render contracts by running the pipelines
// module in-process. Runs are serialized: the pipelines share one artifacts dir
// and saturate the CPU on their own.
type LocalBackend struct {
	runner     Runner
	doctor     *CachedDoctor
	mediaDir   string
	resultsDir string
	logger     *slog.Logger

	mu sync.Mutex
}

var _ backend.Client = (*LocalBackend)(nil)

func NewLocalBackend(runner Runner, doctor *CachedDoctor, mediaDir, resultsDir string, logger *slog.Logger) *LocalBackend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LocalBackend{
		runner:     runner,
		doctor:     doctor,
		mediaDir:   mediaDir,
		resultsDir: resultsDir,
		logger:     logger,
	}
}

func (b *LocalBackend) Analyze(ctx context.Context, paths []string) (*backend.AnalysisResult, error) {
	if len(paths) == 0 {
		return nil, backend.ErrNoVideos
	}
	if b.doctor != nil {
		if err := b.doctor.RequireAnalyze(ctx); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	outPath := filepath.Join(b.runner.ArtifactsDir(), "analysis.json")
	result, err := b.runner.RunAnalyze(ctx, paths, outPath)
	if err != nil {
		return nil, err
	}
	if !result.IsSuccess() {
		return nil, fmt.Errorf("analysis exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	var out AnalyzeOutput
	if err := b.runner.ValidateOutput(outPath, &out); err != nil {
		return nil, err
	}

	analysis := out.AnalysisResult
	if err := analysis.Validate(); err != nil {
		return nil, err
	}

	b.logger.Info("local analysis complete",
		"videos", len(analysis.VideoFiles),
		"frames", len(analysis.FrameSimilarities),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return &analysis, nil
}

func (b *LocalBackend) Render(ctx context.Context, sequence []timeline.SwitchPoint) (string, error) {
	if b.doctor != nil {
		if err := b.doctor.RequireRender(ctx); err != nil {
			return "", err
		}
	}
	return b.render(ctx, sequence)
}

// Auto runs analyze then render with an empty sequence, which leaves the cut order
// to the pipeline.
func (b *LocalBackend) Auto(ctx context.Context, paths []string) (string, error) {
	if b.doctor != nil {
		if err := b.doctor.RequireRender(ctx); err != nil {
			return "", err
		}
	}
	if _, err := b.Analyze(ctx, paths); err != nil {
		return "", err
	}
	return b.render(ctx, []timeline.SwitchPoint{})
}

func (b *LocalBackend) render(ctx context.Context, sequence []timeline.SwitchPoint) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	seqPath := filepath.Join(b.runner.ArtifactsDir(), "sequence.json")
	data, err := json.Marshal(map[string]any{"sequence": sequence})
	if err != nil {
		return "", fmt.Errorf("encode sequence: %w", err)
	}
	if err := os.WriteFile(seqPath, data, 0644); err != nil {
		return "", fmt.Errorf("write sequence: %w", err)
	}

	outPath := filepath.Join(b.runner.ArtifactsDir(), "render.json")
	videoOut := filepath.Join(b.resultsDir, renderVideoName)

	result, err := b.runner.RunRender(ctx, seqPath, b.mediaDir, videoOut, outPath)
	if err != nil {
		return "", err
	}
	if !result.IsSuccess() {
		return "", fmt.Errorf("render exited %d: %s", result.ExitCode, truncate(result.StderrTail, 512))
	}

	var out RenderOutput
	if err := b.runner.ValidateOutput(outPath, &out); err != nil {
		return "", err
	}

	name := renderVideoName
	if out.VideoPath != "" {
		name = filepath.Base(out.VideoPath)
	}
	if _, err := os.Stat(filepath.Join(b.resultsDir, name)); err != nil {
		return "", fmt.Errorf("render output missing: %w", err)
	}

	b.logger.Info("local render complete", "points", len(sequence), "video", name)
	return "/result/" + name, nil
}
