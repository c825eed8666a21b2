package sync

// State is the arbiter's view of how the mailbox is kept in sync.
type State int

const (
	// Connecting means the event stream has not reported an outcome yet.
	Connecting State = iota
	// Live means the event stream is connected; polling is off.
	Live
	// DegradedPolling means the stream is down and the poller has taken over.
	DegradedPolling
	// DegradedNoFallback means the stream is down and polling is disabled.
	DegradedNoFallback
)

func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case DegradedPolling:
		return "degraded-polling"
	case DegradedNoFallback:
		return "degraded-no-fallback"
	default:
		return "connecting"
	}
}

// Degraded reports whether the stream is known to be down.
func (s State) Degraded() bool {
	return s == DegradedPolling || s == DegradedNoFallback
}
