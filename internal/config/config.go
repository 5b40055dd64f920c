package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig describes one additional media server to watch besides the
// primary one configured via the Jellyfin* fields.
type ServerConfig struct {
	Name        string `json:"name" yaml:"name"`
	URL         string `json:"url" yaml:"url"`
	APIKey      string `json:"api_key" yaml:"api_key"`
	VerifyHTTPS bool   `json:"verify_https" yaml:"verify_https"`
}

// Config holds runtime configuration for Brakerr
type Config struct {
	// qBittorrent connection
	QbitURL         string `json:"qbit_url" yaml:"qbit_url"`
	QbitUsername    string `json:"qbit_username" yaml:"qbit_username"`
	QbitPassword    string `json:"qbit_password" yaml:"qbit_password"`
	QbitVerifyHTTPS bool   `json:"qbit_verify_https" yaml:"qbit_verify_https"`

	// Download limits in KiB/s. 0 means unlimited.
	// StreamLimit applies while something is being played; ActiveLimit
	// applies when sessions exist but nothing is actively playing.
	StreamLimit int64 `json:"stream_limit" yaml:"stream_limit"`
	ActiveLimit int64 `json:"active_limit" yaml:"active_limit"`

	// Primary Jellyfin server
	JellyfinURL         string `json:"jellyfin_url" yaml:"jellyfin_url"`
	JellyfinAPIKey      string `json:"jellyfin_api_key" yaml:"jellyfin_api_key"`
	JellyfinVerifyHTTPS bool   `json:"jellyfin_verify_https" yaml:"jellyfin_verify_https"`

	// Additional media servers (Jellyfin/Emby share the sessions API)
	ExtraServers []ServerConfig `json:"extra_servers" yaml:"extra_servers"`

	// How often each server is polled for sessions
	UpdateInterval time.Duration `json:"update_interval" yaml:"update_interval"`

	// Sessions paused longer than this many seconds no longer count as
	// streaming, and sessions idle longer than this no longer count as
	// active. -1 disables pause tracking entirely: every playing session
	// counts as streaming and idle sessions are ignored.
	IgnorePausedAfter int `json:"ignore_paused_after" yaml:"ignore_paused_after"`

	// ThrottleWindow limits throttling to a local-time window ("HH:MM-HH:MM",
	// may wrap midnight). Outside the window the limit is forced to unlimited.
	// Empty means throttling may apply at any time.
	ThrottleWindow string `json:"throttle_window" yaml:"throttle_window"`

	// Dry-run: log what limit would be applied without touching qBittorrent
	DryRun bool `json:"dry_run" yaml:"dry_run"`

	// Notification configuration
	NotificationLevel string `json:"notification_level" yaml:"notification_level"` // "all", "failure", "none"

	// Circuit breaker for API failure notifications (number of failures
	// notified before suppressing until cooldown elapses)
	CircuitBreakerThreshold int           `json:"circuit_breaker_threshold" yaml:"circuit_breaker_threshold"`
	CircuitBreakerCooldown  time.Duration `json:"circuit_breaker_cooldown" yaml:"circuit_breaker_cooldown"`

	// Metrics
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port" yaml:"metrics_port"`

	// InfluxDB (push)
	InfluxURL      string        `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string        `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string        `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string        `json:"influx_bucket" yaml:"influx_bucket"`
	InfluxInterval time.Duration `json:"influx_interval" yaml:"influx_interval"`

	// Notifiers
	DiscordWebhook    string   `json:"discord_webhook" yaml:"discord_webhook"`
	SlackWebhook      string   `json:"slack_webhook" yaml:"slack_webhook"`
	TelegramToken     string   `json:"telegram_token" yaml:"telegram_token"`
	TelegramChatID    string   `json:"telegram_chat_id" yaml:"telegram_chat_id"`
	GotifyURL         string   `json:"gotify_url" yaml:"gotify_url"`
	GotifyToken       string   `json:"gotify_token" yaml:"gotify_token"`
	PushoverUser      string   `json:"pushover_user" yaml:"pushover_user"`
	PushoverToken     string   `json:"pushover_token" yaml:"pushover_token"`
	AppriseURL        string   `json:"apprise_url" yaml:"apprise_url"`
	GenericWebhookURL string   `json:"generic_webhook_url" yaml:"generic_webhook_url"`
	EmailHost         string   `json:"email_host" yaml:"email_host"`
	EmailPort         int      `json:"email_port" yaml:"email_port"`
	EmailUser         string   `json:"email_user" yaml:"email_user"`
	EmailPass         string   `json:"email_pass" yaml:"email_pass"`
	EmailTo           []string `json:"email_to" yaml:"email_to"`
}

// DefaultConfig returns a sane default configuration
func DefaultConfig() *Config {
	return &Config{
		UpdateInterval:    10 * time.Second,
		IgnorePausedAfter: 300,
		ThrottleWindow:    "",
		NotificationLevel: "all",

		CircuitBreakerThreshold: 3,
		CircuitBreakerCooldown:  10 * time.Minute,

		// Metrics defaults (opt-in)
		MetricsEnabled: false,
		MetricsPort:    9712,

		// Influx defaults
		InfluxInterval: 1 * time.Minute,

		DryRun: false,
	}
}

// IsWithinThrottleWindow returns true when the provided time is inside the
// configured throttle window. Window format: "HH:MM-HH:MM" in local time.
// Supports windows that span midnight (e.g., "23:00-02:00").
func (c *Config) IsWithinThrottleWindow(now time.Time) bool {
	if c.ThrottleWindow == "" {
		// empty window means throttling is always allowed
		return true
	}
	var sh, sm, eh, em int
	n, err := fmt.Sscanf(c.ThrottleWindow, "%d:%d-%d:%d", &sh, &sm, &eh, &em)
	if err != nil || n != 4 {
		// invalid format - be conservative and never throttle
		return false
	}
	nowMinutes := now.Hour()*60 + now.Minute()
	startMinutes := sh*60 + sm
	endMinutes := eh*60 + em

	if endMinutes > startMinutes {
		return nowMinutes >= startMinutes && nowMinutes <= endMinutes
	}
	// Window wraps midnight (e.g., 23:00-01:00)
	return nowMinutes >= startMinutes || nowMinutes <= endMinutes
}

// Validate returns a list of non-fatal configuration warnings, such as
// incomplete notifier credential combinations or a throttle setup that can
// never have an effect.
func (c *Config) Validate() []string {
	var warnings []string
	checks := []struct {
		cond bool
		msg  string
	}{
		{c.QbitURL == "", "qbit_url is empty; Brakerr has nothing to throttle"},
		{c.JellyfinURL == "" && len(c.ExtraServers) == 0, "no media server configured; Brakerr has nothing to watch"},
		{c.StreamLimit == 0 && c.ActiveLimit == 0, "both limits are 0 (unlimited); Brakerr will never throttle"},
		{c.GotifyURL != "" && c.GotifyToken == "", "gotify URL provided but token is missing"},
		{c.GotifyToken != "" && c.GotifyURL == "", "gotify token provided but URL is missing"},
		{c.PushoverUser != "" && c.PushoverToken == "", "pushover user provided but token is missing"},
		{c.PushoverToken != "" && c.PushoverUser == "", "pushover token provided but user is missing"},
		{c.TelegramToken != "" && c.TelegramChatID == "", "telegram token provided but chat id is missing"},
		{c.EmailHost != "" && len(c.EmailTo) == 0, "email host provided but no recipients configured (EmailTo)"},
		{c.EmailHost == "" && len(c.EmailTo) > 0, "email recipients configured but email host is empty"},
	}
	for _, ch := range checks {
		if ch.cond {
			warnings = append(warnings, ch.msg)
		}
	}
	if w := validateThrottleWindow(c.ThrottleWindow); w != "" {
		warnings = append(warnings, w)
	}
	return warnings
}

// validateThrottleWindow returns a warning string when the provided window is invalid, or empty when valid/empty.
func validateThrottleWindow(tw string) string {
	if tw == "" {
		return ""
	}
	var sh, sm, eh, em int
	n, err := fmt.Sscanf(tw, "%d:%d-%d:%d", &sh, &sm, &eh, &em)
	if err != nil || n != 4 || sh < 0 || sh > 23 || eh < 0 || eh > 23 || sm < 0 || sm > 59 || em < 0 || em > 59 {
		return fmt.Sprintf("invalid ThrottleWindow format: %q (expected HH:MM-HH:MM)", tw)
	}
	return ""
}

// LoadConfigFromFile loads config from a YAML/JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
