package export

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

var ErrNoDuration = errors.New("sequence duration is unknown, load the video first")

// ClipsFromSequence turns switch points into clips. Point i covers
// [start_i, start_i+1); the last point runs to duration. mediaPath maps a video to
// the path written into the EDL.
func ClipsFromSequence(points []timeline.SwitchPoint, duration float64, mediaPath func(timeline.VideoID) string) ([]ResolvedClip, error) {
	if len(points) == 0 {
		return nil, timeline.ErrEmptyVideoSet
	}
	if duration <= 0 || duration <= points[len(points)-1].Start {
		return nil, fmt.Errorf("%w (duration %.2fs)", ErrNoDuration, duration)
	}

	clips := make([]ResolvedClip, 0, len(points))
	for i, p := range points {
		end := duration
		if i+1 < len(points) {
			end = points[i+1].Start
		}
		startMs := secondsToMs(p.Start)
		endMs := secondsToMs(end)
		if endMs <= startMs {
			continue
		}
		clips = append(clips, ResolvedClip{
			ClipName:  SanitizeName(p.Video.String(), 160),
			MediaPath: mediaPath(p.Video),
			StartMs:   startMs,
			EndMs:     endMs,
		})
	}
	return clips, nil
}

// WriteEDL writes edl to <dir>/<name>.edl and returns the path.
func WriteEDL(dir, name, edl string) (string, error) {
	path := filepath.Join(dir, name+".edl")
	if err := os.WriteFile(path, []byte(edl), 0644); err != nil {
		return "", fmt.Errorf("write edl: %w", err)
	}
	return path, nil
}

func secondsToMs(s float64) int {
	return int(math.Round(s * 1000))
}
