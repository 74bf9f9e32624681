package timeline

import (
	"log/slog"
)

// State of the switch controller.
type State int

const (
	// Stable: the loaded video matches the active segment.
	Stable State = iota
	// Switching: a new source was requested and the controller waits for its metadata.
	Switching
)

func (s State) String() string {
	switch s {
	case Stable:
		return "stable"
	case Switching:
		return "switching"
	default:
		return "unknown"
	}
}

// Event is a signal from the primary media element or the user.
type Event interface {
	event()
}

// TimeUpdate is a play-head tick. Duration is the loaded media's duration, or zero
// when the element does not know it yet.
type TimeUpdate struct {
	Time     float64
	Duration float64
}

// MetadataLoaded reports that a newly loaded source is ready to seek.
type MetadataLoaded struct {
	Duration float64
}

// ManualSwitch is a user-initiated cut to Video at Time.
type ManualSwitch struct {
	Video VideoID
	Time  float64
}

func (TimeUpdate) event()     {}
func (MetadataLoaded) event() {}
func (ManualSwitch) event()   {}

// Controller keeps the primary player on the video the sequence says is active. It
// owns the primary player exclusively. Handle is the single transition function;
// callers must serialize calls.
type Controller struct {
	store     *Store
	player    Player
	logger    *slog.Logger
	tolerance float64

	state       State
	loaded      VideoID
	pendingSeek float64
	currentTime float64
	duration    float64
}

func NewController(store *Store, player Player, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		store:     store,
		player:    player,
		logger:    logger,
		tolerance: ActiveTolerance,
		state:     Stable,
		loaded:    store.ActiveAt(0, 0).Video,
	}
}

// Handle applies one event.
func (c *Controller) Handle(ev Event) {
	switch e := ev.(type) {
	case TimeUpdate:
		c.onTimeUpdate(e)
	case MetadataLoaded:
		c.onMetadataLoaded(e)
	case ManualSwitch:
		c.onManualSwitch(e)
	}
}

func (c *Controller) onTimeUpdate(e TimeUpdate) {
	if c.state == Switching {
		return
	}

	c.currentTime = e.Time
	if e.Duration > 0 {
		c.duration = e.Duration
	}

	active := c.store.ActiveAt(e.Time, c.tolerance)
	if active.Video == c.loaded {
		return
	}

	c.logger.Info("auto-switching video",
		"from", c.loaded,
		"to", active.Video,
		"time", e.Time,
	)
	c.state = Switching
	c.pendingSeek = e.Time
	c.loaded = active.Video
	c.player.Load(active.Video)
}

func (c *Controller) onMetadataLoaded(e MetadataLoaded) {
	// Duration follows whichever source is loaded; sources are assumed synchronized.
	if e.Duration > 0 {
		c.duration = e.Duration
	}
	if c.state != Switching {
		return
	}

	c.player.Seek(c.pendingSeek)
	c.player.Play(PlayOptions{})
	c.currentTime = c.pendingSeek
	c.pendingSeek = 0
	c.state = Stable
}

func (c *Controller) onManualSwitch(e ManualSwitch) {
	c.store.Insert(e.Video, e.Time)

	c.logger.Info("manual switch",
		"from", c.loaded,
		"to", e.Video,
		"time", e.Time,
	)

	c.state = Stable
	c.pendingSeek = 0
	if e.Video != c.loaded {
		c.loaded = e.Video
		c.player.Load(e.Video)
	}
	c.player.Seek(e.Time)
	c.currentTime = e.Time
}

// Sync replays the loaded source and position to a freshly attached player without
// resuming playback.
func (c *Controller) Sync() {
	c.player.Load(c.loaded)
	c.player.Seek(c.currentTime)
}

func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Loaded() VideoID {
	return c.loaded
}

func (c *Controller) CurrentTime() float64 {
	return c.currentTime
}

func (c *Controller) Duration() float64 {
	return c.duration
}

// PendingSeek returns the resume position while Switching.
func (c *Controller) PendingSeek() (float64, bool) {
	return c.pendingSeek, c.state == Switching
}
