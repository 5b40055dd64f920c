// Package metrics provides counters, Prometheus collectors, and HTTP
// handlers for exporting Brakerr runtime metrics.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 1. Internal State (Source of Truth)
var (
	throttleChanges int64
	throttleFailed  int64
	pollsSuccess    int64
	pollsFailure    int64
	windowSkips     int64
	currentLimitKiB int64
	streamingFlag   int64
	activeFlag      int64
	lastPoll        int64
)

const counterInc int64 = 1

// 2. Prometheus Collectors
var (
	promThrottleChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brakerr_throttle_changes_total",
			Help: "Total download limit changes applied to qBittorrent",
		},
	)
	promThrottleFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brakerr_throttle_failed_total",
			Help: "Total failed attempts to change the download limit",
		},
	)
	promSessionPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "brakerr_session_polls_total",
			Help: "Total media server session poll attempts",
		},
		[]string{"status"},
	)
	promWindowSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "brakerr_window_skips_total",
			Help: "Total throttle decisions forced to unlimited by the throttle window",
		},
	)
	promCurrentLimit = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brakerr_download_limit_kibps",
			Help: "Currently applied qBittorrent download limit in KiB/s (0 = unlimited)",
		},
	)
	promStreaming = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brakerr_streaming",
			Help: "1 when any watched server has a streaming session",
		},
	)
	promActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brakerr_active_session",
			Help: "1 when any watched server has a recently active session",
		},
	)
	promApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "brakerr_apply_duration_seconds",
			Help: "Duration of download limit apply operations",
			Buckets: []float64{
				0.05,
				0.1,
				0.25,
				0.5,
				1,
				2,
				5,
				10,
			},
		},
	)
	promLastPoll = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "brakerr_last_poll_timestamp_seconds",
			Help: "Unix timestamp of the last successful session poll",
		},
	)
)

func init() {
	prometheus.MustRegister(
		promThrottleChanges,
		promThrottleFailed,
		promSessionPolls,
		promWindowSkips,
		promCurrentLimit,
		promStreaming,
		promActive,
		promApplyDuration,
		promLastPoll,
	)
}

// 3. Public API (Updates both Atomic and Prometheus)

// IncThrottleChange increments the number of applied limit changes.
func IncThrottleChange() {
	atomic.AddInt64(&throttleChanges, counterInc)
	promThrottleChanges.Inc()
}

// IncThrottleFailed increments the counter for failed limit changes.
func IncThrottleFailed() {
	atomic.AddInt64(&throttleFailed, counterInc)
	promThrottleFailed.Inc()
}

// IncSessionPollSuccess increments the counter for successful session polls.
func IncSessionPollSuccess() {
	atomic.AddInt64(&pollsSuccess, counterInc)
	promSessionPolls.WithLabelValues("success").Inc()
}

// IncSessionPollFailure increments the counter for failed session polls.
func IncSessionPollFailure() {
	atomic.AddInt64(&pollsFailure, counterInc)
	promSessionPolls.WithLabelValues("failure").Inc()
}

// IncWindowSkip increments the counter for throttle decisions overridden by
// the throttle window.
func IncWindowSkip() {
	atomic.AddInt64(&windowSkips, counterInc)
	promWindowSkips.Inc()
}

// SetCurrentLimit records the currently applied download limit in KiB/s.
func SetCurrentLimit(kib int64) {
	atomic.StoreInt64(&currentLimitKiB, kib)
	promCurrentLimit.Set(float64(kib))
}

// SetSessionState records whether any server is streaming / has active sessions.
func SetSessionState(streaming, active bool) {
	atomic.StoreInt64(&streamingFlag, boolToInt(streaming))
	atomic.StoreInt64(&activeFlag, boolToInt(active))
	promStreaming.Set(float64(boolToInt(streaming)))
	promActive.Set(float64(boolToInt(active)))
}

// ObserveApplyDuration records the duration (in seconds) of a limit apply
// operation in the Prometheus histogram.
func ObserveApplyDuration(seconds float64) {
	promApplyDuration.Observe(seconds)
}

// SetLastPoll stores the provided time as the last successful poll timestamp
// and updates the corresponding Prometheus gauge.
func SetLastPoll(t time.Time) {
	atomic.StoreInt64(&lastPoll, t.Unix())
	promLastPoll.Set(float64(t.Unix()))
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// 4. JSON Snapshot Struct (For Zabbix/API)

// StatsSnapshot is a snapshot of metrics for JSON encoding.
type StatsSnapshot struct {
	ThrottleChanges int64  `json:"throttle_changes"`
	ThrottleFailed  int64  `json:"throttle_failed"`
	PollsSuccess    int64  `json:"polls_success"`
	PollsFailure    int64  `json:"polls_failure"`
	WindowSkips     int64  `json:"window_skips"`
	CurrentLimitKiB int64  `json:"current_limit_kib"`
	Streaming       bool   `json:"streaming"`
	ActiveSession   bool   `json:"active_session"`
	LastPoll        int64  `json:"last_poll_timestamp"`
	LastPollHuman   string `json:"last_poll_human"`
}

// GetSnapshot returns a StatsSnapshot with the current values of all
// internal counters and timestamps.
func GetSnapshot() StatsSnapshot {
	ts := atomic.LoadInt64(&lastPoll)
	return StatsSnapshot{
		ThrottleChanges: atomic.LoadInt64(&throttleChanges),
		ThrottleFailed:  atomic.LoadInt64(&throttleFailed),
		PollsSuccess:    atomic.LoadInt64(&pollsSuccess),
		PollsFailure:    atomic.LoadInt64(&pollsFailure),
		WindowSkips:     atomic.LoadInt64(&windowSkips),
		CurrentLimitKiB: atomic.LoadInt64(&currentLimitKiB),
		Streaming:       atomic.LoadInt64(&streamingFlag) == 1,
		ActiveSession:   atomic.LoadInt64(&activeFlag) == 1,
		LastPoll:        ts,
		LastPollHuman:   time.Unix(ts, 0).Format(time.RFC3339),
	}
}

// 5. Handlers

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }

// JSONHandler returns an HTTP handler that serves the current metrics as
// a JSON-encoded StatsSnapshot.
func JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(GetSnapshot())
	})
}
