package timeline

import "math"

// Anchor is the screen position the preview popup is attached to.
type Anchor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PreviewState exists only while a transition point is hovered.
type PreviewState struct {
	CurrentVideo VideoID `json:"current_video"`
	TargetVideo  VideoID `json:"target_video"`
	TargetFrame  int     `json:"target_frame"`
	CurrentFrame int     `json:"current_frame"`
	Start        float64 `json:"start"`
	Anchor       Anchor  `json:"anchor"`
}

// Preview drives the two preview players around a candidate cut. Both cursors are
// set to the same timestamp before playback starts; they are not frame-locked after.
type Preview struct {
	current Player
	target  Player
	fps     float64
	state   *PreviewState
}

func NewPreview(current, target Player, fps float64) *Preview {
	if fps <= 0 {
		fps = FPS
	}
	return &Preview{current: current, target: target, fps: fps}
}

// Show starts a muted looping comparison of point.CurrentVideo and target, beginning
// PreviewLeadIn seconds before the candidate frame.
func (p *Preview) Show(point TransitionPoint, target VideoID, anchor Anchor) PreviewState {
	start := math.Max(0, point.Time(p.fps)-PreviewLeadIn)

	st := PreviewState{
		CurrentVideo: point.CurrentVideo,
		TargetVideo:  target,
		TargetFrame:  point.Frame,
		CurrentFrame: point.Frame,
		Start:        start,
		Anchor:       anchor,
	}

	if p.state == nil || p.state.CurrentVideo != st.CurrentVideo {
		p.current.Load(st.CurrentVideo)
	}
	if p.state == nil || p.state.TargetVideo != st.TargetVideo {
		p.target.Load(st.TargetVideo)
	}

	p.current.Seek(start)
	p.target.Seek(start)

	opts := PlayOptions{Muted: true, Loop: true}
	p.current.Play(opts)
	p.target.Play(opts)

	p.state = &st
	return st
}

// Hide stops both preview players and rewinds them. It reports whether a preview
// was active.
func (p *Preview) Hide() bool {
	if p.state == nil {
		return false
	}
	p.current.Pause()
	p.target.Pause()
	p.current.Seek(0)
	p.target.Seek(0)
	p.state = nil
	return true
}

func (p *Preview) State() (PreviewState, bool) {
	if p.state == nil {
		return PreviewState{}, false
	}
	return *p.state, true
}
