package timeline

import (
	"fmt"
	"slices"
)

// Similarities is the backend's frame-level map: frame number to the pairs of video
// paths judged visually interchangeable at that frame.
type Similarities map[int][][2]string

// TransitionPoint is a frame at which the current video can be cut to another one.
type TransitionPoint struct {
	Frame        int     `json:"frame"`
	CurrentVideo VideoID `json:"current_video"`
}

// Time returns the point's position in seconds.
func (p TransitionPoint) Time(fps float64) float64 {
	return FrameTime(p.Frame, fps)
}

type match struct {
	a, b VideoID
}

// Index is a read-only view over a similarity map with identifiers resolved once.
type Index struct {
	fps     float64
	videos  []VideoID
	known   map[VideoID]bool
	frames  []int
	matches map[int][]match
}

// NewIndex validates the video set and every path in sims.
func NewIndex(videos []VideoID, sims Similarities, fps float64) (*Index, error) {
	if len(videos) == 0 {
		return nil, ErrEmptyVideoSet
	}
	if fps <= 0 {
		fps = FPS
	}

	idx := &Index{
		fps:     fps,
		videos:  slices.Clone(videos),
		known:   make(map[VideoID]bool, len(videos)),
		frames:  make([]int, 0, len(sims)),
		matches: make(map[int][]match, len(sims)),
	}
	for _, v := range videos {
		idx.known[v] = true
	}

	for frame, pairs := range sims {
		ms := make([]match, 0, len(pairs))
		for _, pair := range pairs {
			a, err := ParseVideoID(pair[0])
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", frame, err)
			}
			b, err := ParseVideoID(pair[1])
			if err != nil {
				return nil, fmt.Errorf("frame %d: %w", frame, err)
			}
			ms = append(ms, match{a: a, b: b})
		}
		idx.frames = append(idx.frames, frame)
		idx.matches[frame] = ms
	}
	slices.Sort(idx.frames)

	return idx, nil
}

func (x *Index) FPS() float64 {
	return x.fps
}

func (x *Index) Videos() []VideoID {
	return slices.Clone(x.videos)
}

func (x *Index) Has(v VideoID) bool {
	return x.known[v]
}

func (x *Index) FrameCount() int {
	return len(x.frames)
}

// TransitionsBetween lists, in frame order, the frames after the cursor at which
// current can be cut to target. Frames earlier than after+Lookahead are skipped so
// only upcoming opportunities are surfaced.
func (x *Index) TransitionsBetween(current, target VideoID, after float64) []TransitionPoint {
	var points []TransitionPoint
	for _, frame := range x.frames {
		if FrameTime(frame, x.fps) < after+Lookahead {
			continue
		}
		for _, m := range x.matches[frame] {
			if (m.a == current && m.b == target) || (m.b == current && m.a == target) {
				points = append(points, TransitionPoint{Frame: frame, CurrentVideo: current})
			}
		}
	}
	return points
}
