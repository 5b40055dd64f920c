package config

import (
	"testing"
	"time"
)

func TestApplyEnvOverridesQbit(t *testing.T) {
	t.Setenv("BRAKERR_QBIT_URL", "http://qbit:8080")
	t.Setenv("BRAKERR_QBIT_USERNAME", "admin")
	t.Setenv("BRAKERR_QBIT_PASSWORD", "secret")
	t.Setenv("BRAKERR_QBIT_VERIFY_HTTPS", "true")
	t.Setenv("BRAKERR_QBIT_SPEED_LIMIT", "4096")
	t.Setenv("BRAKERR_QBIT_SPEED_LIMIT_PAUSED", "10240")

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	if cfg.QbitURL != "http://qbit:8080" || cfg.QbitUsername != "admin" || cfg.QbitPassword != "secret" {
		t.Fatalf("qbit connection not applied: %+v", cfg)
	}
	if !cfg.QbitVerifyHTTPS {
		t.Fatal("expected QbitVerifyHTTPS to be true")
	}
	if cfg.StreamLimit != 4096 || cfg.ActiveLimit != 10240 {
		t.Fatalf("limits not applied: %d/%d", cfg.StreamLimit, cfg.ActiveLimit)
	}
}

func TestApplyEnvOverridesJellyfin(t *testing.T) {
	t.Setenv("BRAKERR_JELLYFIN_URL", "http://jellyfin:8096")
	t.Setenv("BRAKERR_JELLYFIN_API_KEY", "abc123")
	t.Setenv("BRAKERR_JELLYFIN_UPDATE_INTERVAL", "30s")
	t.Setenv("BRAKERR_JELLYFIN_IGNORE_PAUSED_AFTER", "-1")

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	if cfg.JellyfinURL != "http://jellyfin:8096" || cfg.JellyfinAPIKey != "abc123" {
		t.Fatalf("jellyfin connection not applied: %+v", cfg)
	}
	if cfg.UpdateInterval != 30*time.Second {
		t.Fatalf("expected 30s update interval, got %v", cfg.UpdateInterval)
	}
	if cfg.IgnorePausedAfter != -1 {
		t.Fatalf("expected ignore_paused_after -1, got %d", cfg.IgnorePausedAfter)
	}
}

func TestApplyEnvOverridesBareSecondsInterval(t *testing.T) {
	// older deployments configured the interval as a bare number of seconds
	t.Setenv("BRAKERR_JELLYFIN_UPDATE_INTERVAL", "15")
	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	if cfg.UpdateInterval != 15*time.Second {
		t.Fatalf("expected 15s update interval, got %v", cfg.UpdateInterval)
	}
}

func TestApplyEnvOverridesInvalidValues(t *testing.T) {
	t.Setenv("BRAKERR_QBIT_SPEED_LIMIT", "fast")
	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err == nil {
		t.Fatal("expected error for invalid speed limit")
	}

	t.Setenv("BRAKERR_QBIT_SPEED_LIMIT", "1024")
	t.Setenv("BRAKERR_JELLYFIN_UPDATE_INTERVAL", "soon")
	cfg = DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err == nil {
		t.Fatal("expected error for invalid update interval")
	}
}

func TestApplyEnvOverridesRuntimeFlags(t *testing.T) {
	t.Setenv("BRAKERR_DRY_RUN", "true")
	t.Setenv("BRAKERR_THROTTLE_WINDOW", "08:00-23:00")
	t.Setenv("BRAKERR_NOTIFICATION_LEVEL", "failure")
	t.Setenv("BRAKERR_CIRCUIT_BREAKER_THRESHOLD", "5")
	t.Setenv("BRAKERR_CIRCUIT_BREAKER_COOLDOWN", "2m")

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	if !cfg.DryRun {
		t.Fatal("expected DryRun to be true")
	}
	if cfg.ThrottleWindow != "08:00-23:00" {
		t.Fatalf("throttle window not applied: %q", cfg.ThrottleWindow)
	}
	if cfg.NotificationLevel != "failure" {
		t.Fatalf("notification level not applied: %q", cfg.NotificationLevel)
	}
	if cfg.CircuitBreakerThreshold != 5 || cfg.CircuitBreakerCooldown != 2*time.Minute {
		t.Fatalf("circuit breaker settings not applied: %d/%v", cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}
}

func TestApplyEnvOverridesNotifiers(t *testing.T) {
	t.Setenv("BRAKERR_DISCORD_WEBHOOK", "https://discord/h")
	t.Setenv("BRAKERR_GOTIFY_URL", "https://gotify")
	t.Setenv("BRAKERR_GOTIFY_TOKEN", "tok")
	t.Setenv("BRAKERR_EMAIL_HOST", "mail.example")
	t.Setenv("BRAKERR_EMAIL_PORT", "587")
	t.Setenv("BRAKERR_EMAIL_TO", "a@example.com, b@example.com")

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	if cfg.DiscordWebhook != "https://discord/h" {
		t.Fatalf("discord webhook not applied: %q", cfg.DiscordWebhook)
	}
	if cfg.GotifyURL != "https://gotify" || cfg.GotifyToken != "tok" {
		t.Fatalf("gotify settings not applied")
	}
	if cfg.EmailPort != 587 {
		t.Fatalf("email port not applied: %d", cfg.EmailPort)
	}
	if len(cfg.EmailTo) != 2 || cfg.EmailTo[1] != "b@example.com" {
		t.Fatalf("email recipients not applied: %v", cfg.EmailTo)
	}
}

func TestApplyEnvOverridesMetrics(t *testing.T) {
	t.Setenv("BRAKERR_METRICS_ENABLED", "true")
	t.Setenv("BRAKERR_METRICS_PORT", "9999")
	t.Setenv("BRAKERR_INFLUX_URL", "http://influx:8086")
	t.Setenv("BRAKERR_INFLUX_BUCKET", "brakerr")
	t.Setenv("BRAKERR_INFLUX_INTERVAL", "30s")

	cfg := DefaultConfig()
	if err := ApplyEnvOverrides(cfg); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}
	if !cfg.MetricsEnabled || cfg.MetricsPort != 9999 {
		t.Fatalf("metrics settings not applied: %v/%d", cfg.MetricsEnabled, cfg.MetricsPort)
	}
	if cfg.InfluxURL != "http://influx:8086" || cfg.InfluxBucket != "brakerr" || cfg.InfluxInterval != 30*time.Second {
		t.Fatalf("influx settings not applied")
	}
}
