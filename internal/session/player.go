package session

import "github.com/flowkit/flowkit-editor/internal/timeline"

// Media elements on the editor page.
const (
	ElementPrimary        = "primary"
	ElementPreviewCurrent = "preview_current"
	ElementPreviewTarget  = "preview_target"
)

// Command types sent to the page.
const (
	CmdLoad     = "load"
	CmdSeek     = "seek"
	CmdPlay     = "play"
	CmdPause    = "pause"
	CmdReset    = "reset"
	CmdSequence = "sequence"
	CmdPreview  = "preview"
	CmdRender   = "render"
	CmdError    = "error"
)

// Command is one instruction for the page: a media element operation or a state
// update for the timeline view.
type Command struct {
	Type     string                 `json:"type"`
	Element  string                 `json:"element,omitempty"`
	Video    timeline.VideoID       `json:"video,omitempty"`
	Time     *float64               `json:"time,omitempty"`
	Muted    bool                   `json:"muted,omitempty"`
	Loop     bool                   `json:"loop,omitempty"`
	Sequence []timeline.SwitchPoint `json:"sequence,omitempty"`
	Preview  *timeline.PreviewState `json:"preview,omitempty"`
	Status   string                 `json:"status,omitempty"`
	VideoURL string                 `json:"video_url,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Broadcaster delivers commands to every page attached to a session. It must not
// block.
type Broadcaster interface {
	Broadcast(sessionID string, cmd Command)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(string, Command) {}

// elementPlayer turns Player calls into commands for one media element.
type elementPlayer struct {
	element string
	emit    func(Command)
}

func (p *elementPlayer) Load(video timeline.VideoID) {
	p.emit(Command{Type: CmdLoad, Element: p.element, Video: video})
}

func (p *elementPlayer) Seek(t float64) {
	p.emit(Command{Type: CmdSeek, Element: p.element, Time: &t})
}

func (p *elementPlayer) Play(opts timeline.PlayOptions) {
	p.emit(Command{Type: CmdPlay, Element: p.element, Muted: opts.Muted, Loop: opts.Loop})
}

func (p *elementPlayer) Pause() {
	p.emit(Command{Type: CmdPause, Element: p.element})
}
