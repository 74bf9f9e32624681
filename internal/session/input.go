package session

import (
	"context"
	"fmt"

	"github.com/flowkit/flowkit-editor/internal/timeline"
)

// Input types reported by the page.
const (
	InputTimeUpdate     = "timeupdate"
	InputLoadedMetadata = "loadedmetadata"
	InputHover          = "hover"
	InputLeave          = "leave"
	InputSwitch         = "switch"
)

// Input is one page event: a media element callback or a timeline gesture.
type Input struct {
	Type     string  `json:"type"`
	Element  string  `json:"element,omitempty"`
	Time     float64 `json:"time"`
	Duration float64 `json:"duration"`
	Video    string  `json:"video,omitempty"`
	Frame    int     `json:"frame"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// Dispatch applies a page event. Time callbacks from the preview elements are
// ignored: only the primary element drives the switch controller.
func (s *Session) Dispatch(ctx context.Context, in Input) error {
	switch in.Type {
	case InputTimeUpdate:
		if !isPrimary(in.Element) {
			return nil
		}
		return s.do(func() {
			s.controller.Handle(timeline.TimeUpdate{Time: in.Time, Duration: in.Duration})
		})

	case InputLoadedMetadata:
		if !isPrimary(in.Element) {
			return nil
		}
		return s.do(func() {
			s.controller.Handle(timeline.MetadataLoaded{Duration: in.Duration})
		})

	case InputHover:
		return s.hover(in)

	case InputLeave:
		return s.do(func() {
			if s.preview.Hide() {
				s.emit(Command{Type: CmdReset})
			}
		})

	case InputSwitch:
		_, err := s.Switch(ctx, in.Video, in.Frame)
		return err

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInput, in.Type)
	}
}

func (s *Session) hover(in Input) error {
	target, err := s.resolve(in.Video)
	if err != nil {
		return err
	}
	if in.Frame < 0 {
		return fmt.Errorf("%w: negative frame %d", ErrInvalidInput, in.Frame)
	}

	var herr error
	err = s.do(func() {
		current := s.controller.Loaded()
		if target == current {
			herr = fmt.Errorf("%w: %q is already loaded", ErrInvalidInput, target)
			return
		}
		point := timeline.TransitionPoint{Frame: in.Frame, CurrentVideo: current}
		st := s.preview.Show(point, target, timeline.Anchor{X: in.X, Y: in.Y})
		s.emit(Command{Type: CmdPreview, Preview: &st})
	})
	if err != nil {
		return err
	}
	return herr
}

func isPrimary(element string) bool {
	return element == "" || element == ElementPrimary
}
