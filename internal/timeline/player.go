package timeline

// PlayOptions qualify a play request.
type PlayOptions struct {
	Muted bool
	Loop  bool
}

// Player is one media element's playback cursor. Commands are fire-and-forget: the
// element reports back through events, never through return values.
type Player interface {
	Load(video VideoID)
	Seek(t float64)
	Play(opts PlayOptions)
	Pause()
}
