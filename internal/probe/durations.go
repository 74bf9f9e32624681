package probe

import (
	"context"
	"log/slog"
)

// Source is one cataloged video to probe.
type Source struct {
	ID   string
	Name string
	Path string
}

type DurationSink interface {
	SetDuration(ctx context.Context, id string, durationS float64) error
}

// Spread returns the shortest and longest of durations.
func Spread(durations map[string]float64) (shortest, longest float64) {
	first := true
	for _, d := range durations {
		if first {
			shortest, longest = d, d
			first = false
			continue
		}
		shortest = min(shortest, d)
		longest = max(longest, d)
	}
	return shortest, longest
}

// ProbeAll probes every source, records each duration in sink and warns when the
// set is not equally long. Failures are logged and skipped. It returns the
// durations it read, keyed by name.
func ProbeAll(ctx context.Context, p Prober, sink DurationSink, sources []Source, logger *slog.Logger) map[string]float64 {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	durations := make(map[string]float64, len(sources))
	for _, src := range sources {
		if ctx.Err() != nil {
			break
		}
		d, err := p.Duration(ctx, src.Path)
		if err != nil {
			logger.Warn("duration probe failed", "video", src.Name, "error", err)
			continue
		}
		durations[src.Name] = d
		if sink != nil {
			if err := sink.SetDuration(ctx, src.ID, d); err != nil {
				logger.Warn("failed to store duration", "video", src.Name, "error", err)
			}
		}
	}

	if len(durations) > 1 {
		shortest, longest := Spread(durations)
		if longest-shortest > MismatchTolerance {
			logger.Warn("source durations differ, switching assumes aligned timelines",
				"shortest_s", shortest,
				"longest_s", longest,
			)
		}
	}
	return durations
}
