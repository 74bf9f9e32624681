package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

const (
	stubFrameStep  = 48
	stubFrameLimit = 24 * 60
	stubResultName = "combined_sequence.json"
)

// StubClient is an offline backend for development: every pair of videos matches
// every two seconds for the first minute, and a render writes the sequence as JSON.
// An auto edit renders the first video alone.
type StubClient struct {
	resultsDir string
	logger     *slog.Logger
}

func NewStubClient(resultsDir string, logger *slog.Logger) *StubClient {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StubClient{resultsDir: resultsDir, logger: logger}
}

func (c *StubClient) Analyze(ctx context.Context, paths []string) (*AnalysisResult, error) {
	if len(paths) == 0 {
		return nil, ErrNoVideos
	}

	result := &AnalysisResult{
		FrameSimilarities: timeline.Similarities{},
		FrameCount:        map[int]int{},
	}
	for _, p := range paths {
		result.VideoFiles = append(result.VideoFiles, filepath.Base(p))
	}

	for frame := stubFrameStep; frame <= stubFrameLimit; frame += stubFrameStep {
		for i := range result.VideoFiles {
			for j := i + 1; j < len(result.VideoFiles); j++ {
				pair := [2]string{result.VideoFiles[i], result.VideoFiles[j]}
				result.FrameSimilarities[frame] = append(result.FrameSimilarities[frame], pair)
				result.FrameCount[frame]++
			}
		}
	}

	if err := result.Validate(); err != nil {
		return nil, err
	}

	c.logger.Info("stub: analysis generated", "videos", len(paths), "frames", len(result.FrameSimilarities))
	return result, nil
}

func (c *StubClient) Render(ctx context.Context, sequence []timeline.SwitchPoint) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.resultsDir, 0755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	data, err := json.MarshalIndent(renderRequest{Sequence: sequence}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(c.resultsDir, stubResultName), data, 0644); err != nil {
		return "", err
	}

	c.logger.Info("stub: render written", "points", len(sequence))
	return "/result/" + stubResultName, nil
}

func (c *StubClient) Auto(ctx context.Context, paths []string) (string, error) {
	result, err := c.Analyze(ctx, paths)
	if err != nil {
		return "", err
	}
	first, err := timeline.ParseVideoID(result.VideoFiles[0])
	if err != nil {
		return "", err
	}
	return c.Render(ctx, []timeline.SwitchPoint{{Video: first}})
}
