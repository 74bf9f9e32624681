// Package timeline implements the sequence engine behind the manual re-cut editor:
// the ordered set of switch points, the similarity-derived transition query, the
// play-head switch controller and the side-by-side preview synchronizer.
package timeline

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// FPS is the frame rate the similarity map's frame numbers are expressed in.
	FPS = 24.0

	// StartEpsilon is the distance under which two switch points share a start time.
	StartEpsilon = 0.01

	// ActiveTolerance absorbs play-head update jitter when resolving the active segment.
	ActiveTolerance = 0.1

	// Lookahead hides transition points closer than this to the time cursor.
	Lookahead = 0.5

	// PreviewLeadIn is how far before a candidate cut the preview starts.
	PreviewLeadIn = 2.0
)

var (
	ErrInvalidVideoID = errors.New("invalid video identifier")
	ErrUnknownVideo   = errors.New("unknown video")
	ErrEmptyVideoSet  = errors.New("video set is empty")
)

// VideoID identifies a source video by file name. Paths are reduced to their final
// segment once, when the video set is loaded, so comparisons never re-derive it.
type VideoID string

func (v VideoID) String() string {
	return string(v)
}

// ParseVideoID reduces a backend path to its final segment.
func ParseVideoID(path string) (VideoID, error) {
	p := strings.TrimSpace(path)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	if p == "" || p == "." || p == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidVideoID, path)
	}
	return VideoID(p), nil
}

// ParseVideoIDs parses a list of paths, rejecting duplicates.
func ParseVideoIDs(paths []string) ([]VideoID, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyVideoSet
	}
	ids := make([]VideoID, 0, len(paths))
	seen := make(map[VideoID]bool, len(paths))
	for _, p := range paths {
		id, err := ParseVideoID(p)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate %q", ErrInvalidVideoID, id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// FrameTime converts a frame index to seconds.
func FrameTime(frame int, fps float64) float64 {
	if fps <= 0 {
		fps = FPS
	}
	return float64(frame) / fps
}
