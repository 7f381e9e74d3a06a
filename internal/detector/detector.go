// Package detector watches the process list for known games and drives the
// session: a game appearing activates, the last game exiting deactivates.
package detector

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SanGraphic/gamemode/internal"
	"github.com/SanGraphic/gamemode/internal/process"
)

// DefaultPollInterval is used when the configured interval is not positive
const DefaultPollInterval = 3 * time.Second

// Session is the part of the engine the detector drives
type Session interface {
	Activate(ctx context.Context, trigger internal.TriggerSource) (*internal.Report, error)
	Deactivate(ctx context.Context, trigger internal.TriggerSource) (*internal.Report, error)
	Status() internal.SessionState
}

// Event is what one poll did
type Event int

const (
	EventNone Event = iota
	EventActivated
	EventDeactivated
)

func (e Event) String() string {
	switch e {
	case EventActivated:
		return "activated"
	case EventDeactivated:
		return "deactivated"
	default:
		return "none"
	}
}

// Watcher polls for games. It only deactivates sessions it activated itself.
type Watcher struct {
	procs    process.Backend
	session  Session
	games    map[string]bool
	interval time.Duration
	clock    clockwork.Clock
	owned    bool
	// OnEvent, when set, is called after every poll that changed the session
	OnEvent func(Event, *internal.Report)
}

// Option configures a Watcher
type Option func(*Watcher)

// WithClock replaces the wall clock that drives polling
func WithClock(c clockwork.Clock) Option {
	return func(w *Watcher) {
		w.clock = c
	}
}

// New creates a watcher for the given game executable names
func New(procs process.Backend, session Session, games []string, interval time.Duration, opts ...Option) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	set := make(map[string]bool, len(games))
	for _, g := range games {
		set[internal.NormalizeProcessName(g)] = true
	}
	w := &Watcher{procs: procs, session: session, games: set, interval: interval, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	internal.LogInfo("Watching for %d games every %s", len(w.games), w.interval)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil {
			if errors.Is(err, internal.ErrUnsupported) {
				return err
			}
			internal.LogWarn("Detector poll failed: %v", err)
		}
		select {
		case <-ctx.Done():
			internal.LogDebug("Detector stopped")
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunningGame returns the first known game in the process list, or ""
func (w *Watcher) RunningGame(ctx context.Context) (string, error) {
	procs, err := w.procs.List(ctx)
	if err != nil {
		return "", err
	}
	for _, p := range procs {
		if w.games[internal.NormalizeProcessName(p.Name)] {
			return p.Name, nil
		}
	}
	return "", nil
}

// Poll checks the process list once and activates or deactivates as needed
func (w *Watcher) Poll(ctx context.Context) (Event, error) {
	game, err := w.RunningGame(ctx)
	if err != nil {
		return EventNone, err
	}

	state := w.session.Status()
	switch {
	case game != "" && state == internal.StateInactive:
		internal.LogInfo("Detected %s, activating", game)
		report, err := w.session.Activate(ctx, internal.TriggerDetector)
		if err != nil {
			return EventNone, err
		}
		w.owned = true
		w.emit(EventActivated, report)
		return EventActivated, nil

	case game == "" && w.owned && (state == internal.StateActive || state == internal.StateError):
		internal.LogInfo("No game running, deactivating")
		report, err := w.session.Deactivate(ctx, internal.TriggerDetector)
		if err != nil {
			// stays owned so the next poll retries
			return EventNone, err
		}
		w.owned = false
		w.emit(EventDeactivated, report)
		return EventDeactivated, nil
	}
	return EventNone, nil
}

func (w *Watcher) emit(e Event, report *internal.Report) {
	if w.OnEvent != nil {
		w.OnEvent(e, report)
	}
}
