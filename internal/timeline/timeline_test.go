package timeline

import (
	"fmt"
	"strings"
)

// recordingPlayer captures commands as compact strings, e.g. "load b.mp4", "seek 10.05".
type recordingPlayer struct {
	calls []string
}

func (p *recordingPlayer) Load(video VideoID) {
	p.calls = append(p.calls, "load "+string(video))
}

func (p *recordingPlayer) Seek(t float64) {
	p.calls = append(p.calls, fmt.Sprintf("seek %g", t))
}

func (p *recordingPlayer) Play(opts PlayOptions) {
	var flags []string
	if opts.Muted {
		flags = append(flags, "muted")
	}
	if opts.Loop {
		flags = append(flags, "loop")
	}
	p.calls = append(p.calls, strings.TrimSpace("play "+strings.Join(flags, ",")))
}

func (p *recordingPlayer) Pause() {
	p.calls = append(p.calls, "pause")
}

func (p *recordingPlayer) reset() {
	p.calls = nil
}
