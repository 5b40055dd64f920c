// Command brakerr throttles qBittorrent downloads while Jellyfin streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/almontasser/brakerr/internal/config"
	"github.com/almontasser/brakerr/internal/daemon"
	"github.com/almontasser/brakerr/internal/jellyfin"
	"github.com/almontasser/brakerr/internal/logging"
	"github.com/almontasser/brakerr/internal/metrics"
	"github.com/almontasser/brakerr/internal/qbit"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	pollInterval := flag.Duration("poll-interval", 0, "override session poll interval (e.g. 30s)")
	runOnce := flag.Bool("run-once", false, "poll once, apply the limit, and exit")
	dryRun := flag.Bool("dry-run", false, "log limit changes without applying them")
	flag.Parse()

	cleanup, err := logging.Init(os.Getenv("BRAKERR_LOG_FILE"), os.Getenv("BRAKERR_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()
	log := logging.Get()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	// Flags win over file and environment
	if *pollInterval > 0 {
		cfg.UpdateInterval = *pollInterval
	}
	if *dryRun {
		cfg.DryRun = true
	}

	startMetrics(cfg)

	qb, err := qbit.NewClient(cfg.QbitURL, cfg.QbitUsername, cfg.QbitPassword, cfg.QbitVerifyHTTPS)
	if err != nil {
		log.Fatal().Err(err).Str("url", cfg.QbitURL).Msg("invalid qBittorrent URL")
	}
	loginCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	err = qb.Login(loginCtx)
	cancel()
	switch {
	case errors.Is(err, qbit.ErrBanned):
		log.Fatal().Msg("qBittorrent WebUI has banned this IP after too many failed logins; wait and retry")
	case errors.Is(err, qbit.ErrLoginFailed):
		log.Fatal().Msg("qBittorrent rejected the configured username/password")
	case err != nil:
		log.Fatal().Err(err).Str("url", cfg.QbitURL).Msg("could not reach qBittorrent WebUI")
	}
	log.Info().Str("url", cfg.QbitURL).Msg("connected to qBittorrent")

	sources := buildSources(cfg)
	if len(sources) == 0 {
		log.Fatal().Msg("no media server configured; set jellyfin_url or extra_servers")
	}

	d := daemon.New(cfg, qb, sources)
	if *runOnce {
		d.RunOnce()
		return
	}

	go d.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.Stop(shutdownCtx)
}

// loadConfig layers defaults, the optional config file, and env overrides
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		var err error
		cfg, err = config.LoadConfigFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	if err := config.ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildSources creates a session watcher for the primary server and every
// extra server in the config.
func buildSources(cfg *config.Config) []daemon.Source {
	var sources []daemon.Source
	if cfg.JellyfinURL != "" {
		c := jellyfin.NewClient("jellyfin", cfg.JellyfinURL, cfg.JellyfinAPIKey, cfg.JellyfinVerifyHTTPS)
		sources = append(sources, jellyfin.NewWatcher(c, cfg.UpdateInterval, cfg.IgnorePausedAfter))
	}
	for _, s := range cfg.ExtraServers {
		if s.URL == "" {
			continue
		}
		name := s.Name
		if name == "" {
			name = s.URL
		}
		c := jellyfin.NewClient(name, s.URL, s.APIKey, s.VerifyHTTPS)
		sources = append(sources, jellyfin.NewWatcher(c, cfg.UpdateInterval, cfg.IgnorePausedAfter))
	}
	return sources
}

// startMetrics exposes Prometheus and JSON status endpoints and, when
// configured, starts the InfluxDB pusher.
func startMetrics(cfg *config.Config) {
	if cfg.InfluxURL != "" {
		go metrics.StartInfluxPusher(context.Background(), cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, cfg.InfluxInterval)
	}
	if !cfg.MetricsEnabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PromHandler())
	mux.Handle("/status", metrics.JSONHandler())
	addr := fmt.Sprintf(":%d", cfg.MetricsPort)
	go func() {
		logging.Get().Info().Str("addr", addr).Msg("metrics server listening")
		if err := http.ListenAndServe(addr, mux); err != nil {
			logging.Get().Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
