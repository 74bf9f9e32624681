package timeline

import (
	"cmp"
	"math"
	"slices"
)

// SwitchPoint means "from Start onward, Video is the active source".
type SwitchPoint struct {
	Video VideoID `json:"video"`
	Start float64 `json:"start"`
}

// Store owns the edit's ordered switch points. The zero value is not usable; create
// one with NewStore once the video set is known.
//
// Invariants held after every mutation:
//   - points are sorted by Start
//   - no two adjacent points share a Video
//   - at most one point per Start within StartEpsilon
//   - points[0].Start == 0
type Store struct {
	points []SwitchPoint
}

func NewStore(first VideoID) *Store {
	return &Store{points: []SwitchPoint{{Video: first, Start: 0}}}
}

// RestoreStore rebuilds a store from previously committed points.
func RestoreStore(points []SwitchPoint) (*Store, error) {
	if len(points) == 0 {
		return nil, ErrEmptyVideoSet
	}
	s := &Store{points: slices.Clone(points)}
	s.points = normalize(s.points)
	return s, nil
}

// Insert places video at time t, replacing any point within StartEpsilon of t, and
// returns the resulting sequence. A negative time, like any time below
// StartEpsilon, replaces point 0.
func (s *Store) Insert(video VideoID, t float64) []SwitchPoint {
	if t < StartEpsilon {
		t = 0
	}

	next := make([]SwitchPoint, 0, len(s.points)+1)
	for _, p := range s.points {
		if math.Abs(p.Start-t) > StartEpsilon {
			next = append(next, p)
		}
	}
	next = append(next, SwitchPoint{Video: video, Start: t})

	s.points = normalize(next)
	return s.Points()
}

// Points returns a copy of the sequence in ascending start order.
func (s *Store) Points() []SwitchPoint {
	return slices.Clone(s.points)
}

func (s *Store) Len() int {
	return len(s.points)
}

// ActiveAt returns the last point whose start is at or before t+tolerance.
func (s *Store) ActiveAt(t, tolerance float64) SwitchPoint {
	active := s.points[0]
	for _, p := range s.points[1:] {
		if p.Start > t+tolerance {
			break
		}
		active = p
	}
	return active
}

// normalize sorts points and keeps only the first of each run of equal videos.
// Point 0 always survives.
func normalize(points []SwitchPoint) []SwitchPoint {
	slices.SortStableFunc(points, func(a, b SwitchPoint) int {
		return cmp.Compare(a.Start, b.Start)
	})

	out := points[:1]
	for _, p := range points[1:] {
		if p.Video != out[len(out)-1].Video {
			out = append(out, p)
		}
	}
	out[0].Start = 0
	return out
}
