package jellyfin

import (
	"context"
	"time"

	"github.com/almontasser/brakerr/internal/logging"
	"github.com/almontasser/brakerr/internal/metrics"
)

// Snapshot is the reduced playback state of one server.
type Snapshot struct {
	Server string
	// Streaming is true when at least one session is playing something and
	// has not been paused past the grace period.
	Streaming bool
	// ActiveSession is true when at least one session showed activity within
	// the grace period, playing or not.
	ActiveSession bool
}

// Watcher polls one server for sessions and reduces them to a Snapshot.
// It keeps per-session pause bookkeeping between polls, so a paused stream
// stops counting as streaming only after the grace period elapses.
type Watcher struct {
	client   Client
	interval time.Duration
	// grace period in seconds; -1 disables pause and idle tracking
	ignorePausedAfter int

	pausedSince map[string]time.Time
	last        Snapshot
	observed    bool

	Now func() time.Time // injectable clock for testing
}

// NewWatcher creates a watcher for the given client.
func NewWatcher(c Client, interval time.Duration, ignorePausedAfter int) *Watcher {
	return &Watcher{
		client:            c,
		interval:          interval,
		ignorePausedAfter: ignorePausedAfter,
		pausedSince:       make(map[string]time.Time),
		Now:               time.Now,
	}
}

// Name returns the watched server's name.
func (w *Watcher) Name() string { return w.client.Name() }

// Observe performs a single poll. The boolean reports whether the snapshot
// differs from the previously observed one; the first observation always
// counts as changed.
func (w *Watcher) Observe(ctx context.Context) (Snapshot, bool, error) {
	sessions, err := w.client.Sessions(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}
	snap := w.reduce(sessions)
	changed := !w.observed || snap != w.last
	w.last = snap
	w.observed = true
	return snap, changed, nil
}

// reduce derives the server snapshot from the session list and updates the
// pause bookkeeping.
func (w *Watcher) reduce(sessions []Session) Snapshot {
	now := w.Now()
	grace := time.Duration(w.ignorePausedAfter) * time.Second
	snap := Snapshot{Server: w.Name()}
	playing := make(map[string]struct{})

	for _, s := range sessions {
		if w.ignorePausedAfter != -1 && !s.LastActivityDate.IsZero() {
			logging.Get().Debug().Str("server", snap.Server).Str("user", s.UserName).Str("session", s.ID).Time("last_activity", s.LastActivityDate).Msg("session activity")
			if now.Sub(s.LastActivityDate) < grace {
				snap.ActiveSession = true
			}
		}

		// Sessions that aren't playing anything don't affect streaming state
		if s.NowPlayingItem == nil {
			continue
		}
		playing[s.ID] = struct{}{}

		switch {
		case w.ignorePausedAfter == -1:
			// pause tracking disabled: every playing session counts
			snap.Streaming = true
		case s.PlayState.IsPaused:
			since, seen := w.pausedSince[s.ID]
			if !seen {
				w.pausedSince[s.ID] = now
				logging.Get().Debug().Str("server", snap.Server).Str("title", s.NowPlayingItem.Name).Str("session", s.ID).Msg("session paused, noted time")
				snap.Streaming = true
			} else if now.Sub(since) > grace {
				logging.Get().Debug().Str("server", snap.Server).Str("title", s.NowPlayingItem.Name).Str("session", s.ID).Msg("session paused for too long")
			} else {
				snap.Streaming = true
			}
		default:
			snap.Streaming = true
			if _, seen := w.pausedSince[s.ID]; seen {
				logging.Get().Debug().Str("server", snap.Server).Str("session", s.ID).Msg("session resumed, clearing pause marker")
				delete(w.pausedSince, s.ID)
			}
		}
	}

	// Drop pause markers for sessions that left the session list
	for id := range w.pausedSince {
		if _, ok := playing[id]; !ok {
			logging.Get().Debug().Str("server", snap.Server).Str("session", id).Msg("removing pause marker, session gone")
			delete(w.pausedSince, id)
		}
	}
	return snap
}

// Run polls the server on the configured interval until the context is
// cancelled, sending a snapshot on updates whenever the reduced state
// changes. Poll errors are logged, counted, and reported through onError.
func (w *Watcher) Run(ctx context.Context, updates chan<- Snapshot, onError func(error)) {
	logging.Get().Info().Str("server", w.Name()).Dur("interval", w.interval).Msg("starting session watcher")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		snap, changed, err := w.Observe(ctx)
		if err != nil {
			logging.Get().Error().Err(err).Str("server", w.Name()).Msg("failed to poll sessions")
			metrics.IncSessionPollFailure()
			if onError != nil {
				onError(err)
			}
		} else {
			metrics.IncSessionPollSuccess()
			metrics.SetLastPoll(w.Now())
			if changed {
				select {
				case updates <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}
