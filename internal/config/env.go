package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported:
// - BRAKERR_QBIT_URL / BRAKERR_QBIT_USERNAME / BRAKERR_QBIT_PASSWORD
// - BRAKERR_QBIT_VERIFY_HTTPS (bool)
// - BRAKERR_QBIT_SPEED_LIMIT / BRAKERR_QBIT_SPEED_LIMIT_PAUSED (KiB/s)
// - BRAKERR_JELLYFIN_URL / BRAKERR_JELLYFIN_API_KEY
// - BRAKERR_JELLYFIN_VERIFY_HTTPS (bool)
// - BRAKERR_JELLYFIN_UPDATE_INTERVAL (duration, e.g. "10s")
// - BRAKERR_JELLYFIN_IGNORE_PAUSED_AFTER (seconds, -1 disables)
// - BRAKERR_THROTTLE_WINDOW (string, e.g. "08:00-23:00")
// plus notification, metrics and Influx variables (see the apply* helpers).
func ApplyEnvOverrides(cfg *Config) error {
	if err := applyQbitEnv(cfg); err != nil {
		return err
	}
	if err := applyJellyfinEnv(cfg); err != nil {
		return err
	}
	if err := applyNotificationEnv(cfg); err != nil {
		return err
	}
	if err := applyEmailEnv(cfg); err != nil {
		return err
	}
	if err := applyMetricsEnv(cfg); err != nil {
		return err
	}
	if err := applyInfluxEnv(cfg); err != nil {
		return err
	}
	return applyRuntimeFlags(cfg)
}

// applyQbitEnv consolidates qBittorrent connection and limit env parsing
func applyQbitEnv(cfg *Config) error {
	if v := os.Getenv("BRAKERR_QBIT_URL"); v != "" {
		cfg.QbitURL = v
	}
	if v := os.Getenv("BRAKERR_QBIT_USERNAME"); v != "" {
		cfg.QbitUsername = v
	}
	if v := os.Getenv("BRAKERR_QBIT_PASSWORD"); v != "" {
		cfg.QbitPassword = v
	}
	if err := setBoolEnv("BRAKERR_QBIT_VERIFY_HTTPS", func(b bool) { cfg.QbitVerifyHTTPS = b }); err != nil {
		return err
	}
	if err := setInt64Env("BRAKERR_QBIT_SPEED_LIMIT", func(n int64) { cfg.StreamLimit = n }); err != nil {
		return err
	}
	return setInt64Env("BRAKERR_QBIT_SPEED_LIMIT_PAUSED", func(n int64) { cfg.ActiveLimit = n })
}

// applyJellyfinEnv consolidates media server env parsing
func applyJellyfinEnv(cfg *Config) error {
	if v := os.Getenv("BRAKERR_JELLYFIN_URL"); v != "" {
		cfg.JellyfinURL = v
	}
	if v := os.Getenv("BRAKERR_JELLYFIN_API_KEY"); v != "" {
		cfg.JellyfinAPIKey = v
	}
	if err := setBoolEnv("BRAKERR_JELLYFIN_VERIFY_HTTPS", func(b bool) { cfg.JellyfinVerifyHTTPS = b }); err != nil {
		return err
	}
	if v := os.Getenv("BRAKERR_JELLYFIN_UPDATE_INTERVAL"); v != "" {
		d, err := parseIntervalEnv(v)
		if err != nil {
			return fmt.Errorf("invalid BRAKERR_JELLYFIN_UPDATE_INTERVAL: %w", err)
		}
		cfg.UpdateInterval = d
	}
	if v := os.Getenv("BRAKERR_JELLYFIN_IGNORE_PAUSED_AFTER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BRAKERR_JELLYFIN_IGNORE_PAUSED_AFTER: %w", err)
		}
		cfg.IgnorePausedAfter = n
	}
	return nil
}

// parseIntervalEnv accepts either a duration string ("10s", "1m") or a bare
// number of seconds, for compatibility with older deployments.
func parseIntervalEnv(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// applyRuntimeFlags handles dry-run, throttle window, notification level and circuit breaker
func applyRuntimeFlags(cfg *Config) error {
	if v := os.Getenv("BRAKERR_DRY_RUN"); v == "true" {
		cfg.DryRun = true
	}
	if v := os.Getenv("BRAKERR_THROTTLE_WINDOW"); v != "" {
		cfg.ThrottleWindow = v
	}
	if v := os.Getenv("BRAKERR_NOTIFICATION_LEVEL"); v != "" {
		cfg.NotificationLevel = v
	}
	if v := os.Getenv("BRAKERR_CIRCUIT_BREAKER_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BRAKERR_CIRCUIT_BREAKER_THRESHOLD: %w", err)
		}
		cfg.CircuitBreakerThreshold = n
	}
	if v := os.Getenv("BRAKERR_CIRCUIT_BREAKER_COOLDOWN"); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BRAKERR_CIRCUIT_BREAKER_COOLDOWN: %w", err)
		}
		cfg.CircuitBreakerCooldown = dur
	}
	return nil
}

// setBoolEnv is a small helper to parse boolean environment variables
func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}

// setInt64Env is a small helper to parse integer environment variables
func setInt64Env(env string, setter func(int64)) error {
	if v := os.Getenv(env); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(n)
	}
	return nil
}

// applyNotificationEnv consolidates notification-related env parsing
func applyNotificationEnv(cfg *Config) error {
	if v := os.Getenv("BRAKERR_DISCORD_WEBHOOK"); v != "" {
		cfg.DiscordWebhook = v
	}
	if v := os.Getenv("BRAKERR_SLACK_WEBHOOK"); v != "" {
		cfg.SlackWebhook = v
	}
	if v := os.Getenv("BRAKERR_TELEGRAM_TOKEN"); v != "" {
		cfg.TelegramToken = v
	}
	if v := os.Getenv("BRAKERR_TELEGRAM_CHAT_ID"); v != "" {
		cfg.TelegramChatID = v
	}
	if v := os.Getenv("BRAKERR_GOTIFY_URL"); v != "" {
		cfg.GotifyURL = v
	}
	if v := os.Getenv("BRAKERR_GOTIFY_TOKEN"); v != "" {
		cfg.GotifyToken = v
	}
	if v := os.Getenv("BRAKERR_PUSHOVER_USER"); v != "" {
		cfg.PushoverUser = v
	}
	if v := os.Getenv("BRAKERR_PUSHOVER_TOKEN"); v != "" {
		cfg.PushoverToken = v
	}
	if v := os.Getenv("BRAKERR_APPRISE_URL"); v != "" {
		cfg.AppriseURL = v
	}
	if v := os.Getenv("BRAKERR_GENERIC_WEBHOOK_URL"); v != "" {
		cfg.GenericWebhookURL = v
	}
	return nil
}

// applyEmailEnv consolidates email-related env parsing
func applyEmailEnv(cfg *Config) error {
	if v := os.Getenv("BRAKERR_EMAIL_HOST"); v != "" {
		cfg.EmailHost = v
	}
	if v := os.Getenv("BRAKERR_EMAIL_USER"); v != "" {
		cfg.EmailUser = v
	}
	if v := os.Getenv("BRAKERR_EMAIL_PASS"); v != "" {
		cfg.EmailPass = v
	}
	if v := os.Getenv("BRAKERR_EMAIL_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BRAKERR_EMAIL_PORT: %w", err)
		}
		cfg.EmailPort = p
	}
	if v := os.Getenv("BRAKERR_EMAIL_TO"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.EmailTo = parts
	}
	return nil
}

// applyMetricsEnv consolidates metrics-related env parsing
func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("BRAKERR_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	if v := os.Getenv("BRAKERR_METRICS_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BRAKERR_METRICS_PORT: %w", err)
		}
		cfg.MetricsPort = p
	}
	return nil
}

// applyInfluxEnv consolidates Influx-related env parsing
func applyInfluxEnv(cfg *Config) error {
	if v := os.Getenv("BRAKERR_INFLUX_URL"); v != "" {
		cfg.InfluxURL = v
	}
	if v := os.Getenv("BRAKERR_INFLUX_TOKEN"); v != "" {
		cfg.InfluxToken = v
	}
	if v := os.Getenv("BRAKERR_INFLUX_ORG"); v != "" {
		cfg.InfluxOrg = v
	}
	if v := os.Getenv("BRAKERR_INFLUX_BUCKET"); v != "" {
		cfg.InfluxBucket = v
	}
	if v := os.Getenv("BRAKERR_INFLUX_INTERVAL"); v != "" {
		dur, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid BRAKERR_INFLUX_INTERVAL: %w", err)
		}
		cfg.InfluxInterval = dur
	}
	return nil
}
