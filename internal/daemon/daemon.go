// Package daemon ties session watching to qBittorrent throttling.
package daemon

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/almontasser/brakerr/internal/config"
	"github.com/almontasser/brakerr/internal/jellyfin"
	"github.com/almontasser/brakerr/internal/logging"
	"github.com/almontasser/brakerr/internal/metrics"
	"github.com/almontasser/brakerr/internal/notify"
	"github.com/almontasser/brakerr/internal/qbit"
	"github.com/almontasser/brakerr/internal/state"
)

// Source is a watched media server. Implemented by jellyfin.Watcher.
type Source interface {
	Name() string
	Observe(ctx context.Context) (jellyfin.Snapshot, bool, error)
	Run(ctx context.Context, updates chan<- jellyfin.Snapshot, onError func(error))
}

type failureInfo struct {
	count           int
	lastFailureAt   time.Time
	suppressedUntil time.Time
}

// Daemon is the core loop that reacts to playback changes by adjusting
// qBittorrent's global download limit.
type Daemon struct {
	cfg     *config.Config
	qb      qbit.Client
	sources []Source
	updates chan jellyfin.Snapshot
	latest  map[string]jellyfin.Snapshot

	quit     chan struct{}
	wg       sync.WaitGroup   // tracks active apply passes
	Now      func() time.Time // injectable clock for testing
	notifier *notify.MultiNotifier
	cancel   func() // cancel function for active context (set at Start)

	// last limit pushed to qBittorrent, guarded by mu
	mu          sync.Mutex
	applied     bool
	lastApplied int64

	// circuit breaker state for API failures
	cbMu        sync.Mutex
	apiFailures map[string]*failureInfo
}

// New creates a daemon with an injected qBittorrent client and session sources
func New(cfg *config.Config, qb qbit.Client, sources []Source) *Daemon {
	d := &Daemon{
		cfg:     cfg,
		qb:      qb,
		sources: sources,
		updates: make(chan jellyfin.Snapshot, len(sources)+1),
		latest:  make(map[string]jellyfin.Snapshot),
		quit:    make(chan struct{}),
		Now:     time.Now,
	}

	d.initNotifiers()

	// Log config validation warnings
	for _, w := range cfg.Validate() {
		logging.Get().Warn().Str("warning", w).Msg("config validation")
	}

	return d
}

// initNotifiers initializes all configured notifiers for the daemon
func (d *Daemon) initNotifiers() {
	d.notifier = notify.NewMultiNotifier()
	cfg := d.cfg
	entries := []struct {
		enabled bool
		add     func()
	}{
		{cfg.DiscordWebhook != "", func() { d.notifier.Add(&notify.Discord{WebhookURL: cfg.DiscordWebhook}) }},
		{cfg.SlackWebhook != "", func() { d.notifier.Add(&notify.Slack{WebhookURL: cfg.SlackWebhook}) }},
		{cfg.TelegramToken != "" && cfg.TelegramChatID != "", func() { d.notifier.Add(&notify.Telegram{BotToken: cfg.TelegramToken, ChatID: cfg.TelegramChatID}) }},
		{cfg.GotifyURL != "" && cfg.GotifyToken != "", func() { d.notifier.Add(&notify.Gotify{ServerURL: cfg.GotifyURL, Token: cfg.GotifyToken}) }},
		{cfg.PushoverUser != "" && cfg.PushoverToken != "", func() { d.notifier.Add(&notify.Pushover{UserKey: cfg.PushoverUser, APIToken: cfg.PushoverToken}) }},
		{cfg.AppriseURL != "", func() { d.notifier.Add(&notify.Apprise{APIURL: cfg.AppriseURL}) }},
		{cfg.GenericWebhookURL != "", func() { d.notifier.Add(&notify.Generic{WebhookURL: cfg.GenericWebhookURL}) }},
		{cfg.EmailHost != "" && len(cfg.EmailTo) > 0, func() {
			d.notifier.Add(&notify.Email{Host: cfg.EmailHost, Port: cfg.EmailPort, User: cfg.EmailUser, Pass: cfg.EmailPass, To: cfg.EmailTo})
		}},
	}
	for _, e := range entries {
		if e.enabled {
			e.add()
		}
	}
}

// Start runs the main event loop until Stop is called
func (d *Daemon) Start() {
	logging.Get().Info().Int("servers", len(d.sources)).Msg("starting brakerr daemon")
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	// Lift any throttle left behind by a previous run before watching
	d.recoverStaleLimit(ctx)

	for _, s := range d.sources {
		d.wg.Add(1)
		go func(src Source) {
			defer d.wg.Done()
			src.Run(ctx, d.updates, func(err error) {
				d.handleSourceError(ctx, src.Name(), err)
			})
		}(s)
	}

	for {
		select {
		case snap := <-d.updates:
			logging.Get().Info().Str("server", snap.Server).Bool("streaming", snap.Streaming).Bool("active", snap.ActiveSession).Msg("playback state changed")
			d.latest[snap.Server] = snap
			d.wg.Add(1)
			d.apply(ctx)
			d.wg.Done()
		case <-d.quit:
			logging.Get().Info().Msg("stopping daemon")
			return
		}
	}
}

// RunOnce polls every server once and applies the resulting limit (CLI -run-once)
func (d *Daemon) RunOnce() {
	ctx := context.Background()
	for _, s := range d.sources {
		snap, _, err := s.Observe(ctx)
		if err != nil {
			logging.Get().Error().Err(err).Str("server", s.Name()).Msg("failed to poll sessions")
			metrics.IncSessionPollFailure()
			continue
		}
		metrics.IncSessionPollSuccess()
		metrics.SetLastPoll(d.Now())
		d.latest[s.Name()] = snap
	}
	d.apply(ctx)
}

// aggregate folds the latest per-server snapshots into a single state
func (d *Daemon) aggregate() (streaming, active bool) {
	for _, snap := range d.latest {
		streaming = streaming || snap.Streaming
		active = active || snap.ActiveSession
	}
	return streaming, active
}

// decide maps the aggregated playback state to a download limit in KiB/s
func (d *Daemon) decide(streaming, active bool) (int64, string) {
	if !d.cfg.IsWithinThrottleWindow(d.Now()) {
		if streaming || active {
			metrics.IncWindowSkip()
		}
		return 0, "outside throttle window"
	}
	switch {
	case streaming:
		return d.cfg.StreamLimit, "streaming"
	case active:
		return d.cfg.ActiveLimit, "active session"
	default:
		return 0, "no active sessions"
	}
}

// apply pushes the decided limit to qBittorrent when it differs from the last
// applied one, and records the outcome in state, metrics and notifications.
func (d *Daemon) apply(ctx context.Context) {
	streaming, active := d.aggregate()
	metrics.SetSessionState(streaming, active)
	limit, reason := d.decide(streaming, active)

	d.mu.Lock()
	unchanged := d.applied && limit == d.lastApplied
	d.mu.Unlock()
	if unchanged {
		return
	}

	if d.cfg.DryRun {
		logging.Get().Info().Int64("limit_kib", limit).Str("reason", reason).Msg("dry-run mode: would set download limit")
		d.notify(ctx, "info", "Limit change (dry-run)", fmt.Sprintf("would set download limit to %d KiB/s (%s)", limit, reason))
		return
	}

	applyStart := d.Now()
	if err := d.qb.SetDownloadLimit(ctx, limit*1024); err != nil {
		logging.Get().Error().Err(err).Int64("limit_kib", limit).Msg("failed to set download limit")
		metrics.IncThrottleFailed()
		if d.shouldNotifyFailure("qbittorrent") {
			d.notify(ctx, "failure", "Throttle failed", err.Error())
		}
		return
	}
	d.clearFailures("qbittorrent")
	metrics.ObserveApplyDuration(d.Now().Sub(applyStart).Seconds())
	metrics.IncThrottleChange()
	metrics.SetCurrentLimit(limit)

	d.mu.Lock()
	d.applied = true
	d.lastApplied = limit
	d.mu.Unlock()

	d.persist(limit, reason)

	logging.Get().Info().Int64("limit_kib", limit).Str("reason", reason).Msg("download limit updated")
	d.notify(ctx, "success", "Download limit updated", fmt.Sprintf("limit=%d KiB/s reason=%s", limit, reason))
}

// persist records the applied limit so a restart can lift a leftover throttle.
// Unlimited clears the record instead.
func (d *Daemon) persist(limit int64, reason string) {
	if limit == 0 {
		if err := state.Clear(); err != nil {
			logging.Get().Warn().Err(err).Msg("failed to clear state file")
		}
		return
	}
	if err := state.Save(state.AppliedLimit{LimitKiB: limit, Reason: reason, Timestamp: d.Now()}); err != nil {
		logging.Get().Warn().Err(err).Msg("failed to persist applied limit")
	}
}

// recoverStaleLimit lifts a download limit left behind by a crashed or killed
// previous run.
func (d *Daemon) recoverStaleLimit(ctx context.Context) {
	rec, found, err := state.Load()
	if err != nil {
		logging.Get().Warn().Err(err).Msg("failed reading state file during recovery pass")
		return
	}
	if !found {
		return
	}
	if rec.LimitKiB == 0 {
		_ = state.Clear()
		return
	}
	logging.Get().Warn().Int64("limit_kib", rec.LimitKiB).Time("applied_at", rec.Timestamp).Msg("leftover download limit from previous run detected; lifting")
	if err := d.qb.SetDownloadLimit(ctx, 0); err != nil {
		logging.Get().Error().Err(err).Msg("failed to lift leftover download limit")
		d.notify(ctx, "warning", "Recovery failed", fmt.Sprintf("could not lift leftover %d KiB/s limit: %v", rec.LimitKiB, err))
		return
	}
	if err := state.Clear(); err != nil {
		logging.Get().Warn().Err(err).Msg("failed to clean up state record after recovery")
	}
	metrics.SetCurrentLimit(0)
	d.mu.Lock()
	d.applied = true
	d.lastApplied = 0
	d.mu.Unlock()
	d.notify(ctx, "warning", "Recovery performed", fmt.Sprintf("lifted leftover %d KiB/s download limit", rec.LimitKiB))
}

// handleSourceError applies the circuit breaker to session poll failures
func (d *Daemon) handleSourceError(ctx context.Context, server string, err error) {
	if d.shouldNotifyFailure(server) {
		d.notify(ctx, "failure", fmt.Sprintf("Session poll failed: %s", server), err.Error())
	}
}

// shouldNotifyFailure updates circuit breaker state for the given target and
// returns true when a notification should be sent (first failures up to the
// threshold, then again after cooldown).
func (d *Daemon) shouldNotifyFailure(target string) bool {
	now := d.Now()
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	if d.apiFailures == nil {
		d.apiFailures = make(map[string]*failureInfo)
	}
	fi, ok := d.apiFailures[target]
	if !ok {
		d.apiFailures[target] = &failureInfo{count: 1, lastFailureAt: now}
		// first failure -> notify
		return true
	}
	// if currently suppressed and cooldown hasn't elapsed, keep suppressing
	if fi.suppressedUntil.After(now) {
		fi.count++
		fi.lastFailureAt = now
		return false
	}
	// if cooldown elapsed, reset count
	if now.Sub(fi.lastFailureAt) > d.cfg.CircuitBreakerCooldown {
		fi.count = 1
		fi.lastFailureAt = now
		fi.suppressedUntil = time.Time{}
		return true
	}
	fi.count++
	fi.lastFailureAt = now
	// if threshold exceeded, suppress for cooldown (allow notifications up to threshold)
	if d.cfg.CircuitBreakerThreshold > 0 && fi.count > d.cfg.CircuitBreakerThreshold {
		fi.suppressedUntil = now.Add(d.cfg.CircuitBreakerCooldown)
		return false
	}
	return true
}

func (d *Daemon) clearFailures(target string) {
	d.cbMu.Lock()
	defer d.cbMu.Unlock()
	delete(d.apiFailures, target)
}

// notify sends a notification if the configured level allows it
// level: "success" | "failure" | "warning" | "info"
func (d *Daemon) notify(ctx context.Context, level, title, message string) {
	configLevel := strings.ToLower(d.cfg.NotificationLevel)
	if configLevel == "none" {
		return
	}
	if configLevel == "failure" && level != "failure" {
		return
	}
	d.notifier.Send(ctx, title, message)
}

// Stop signals the daemon to stop, waits for active operations to complete,
// and lifts any applied limit so a stopped Brakerr never leaves downloads
// throttled.
func (d *Daemon) Stop(ctx context.Context) {
	// Cancel background context to signal watchers and in-flight operations
	if d.cancel != nil {
		d.cancel()
	}
	close(d.quit)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Get().Info().Msg("all active operations completed")
	case <-ctx.Done():
		logging.Get().Warn().Msg("shutdown timeout exceeded, some operations may be incomplete")
	}

	d.liftLimitOnShutdown()

	// Allow some time for pending notifications to finish (best-effort)
	if d.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.notifier.Wait(notifyCtx); err != nil {
			logging.Get().Warn().Err(err).Msg("timed out waiting for notifiers to finish")
		}
	}
}

// liftLimitOnShutdown resets qBittorrent to unlimited when a limit is applied
func (d *Daemon) liftLimitOnShutdown() {
	d.mu.Lock()
	needsLift := d.applied && d.lastApplied != 0
	d.mu.Unlock()
	if !needsLift || d.cfg.DryRun {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.qb.SetDownloadLimit(ctx, 0); err != nil {
		logging.Get().Error().Err(err).Msg("failed to lift download limit on shutdown")
		return
	}
	if err := state.Clear(); err != nil {
		logging.Get().Warn().Err(err).Msg("failed to clear state file on shutdown")
	}
	metrics.SetCurrentLimit(0)
	logging.Get().Info().Msg("download limit lifted on shutdown")
}
