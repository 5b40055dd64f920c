package metrics

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/almontasser/brakerr/internal/logging"
)

// StartInfluxPusher starts a background loop to push metrics to InfluxDB
func StartInfluxPusher(ctx context.Context, url, token, org, bucket string, interval time.Duration) {
	if url == "" || bucket == "" {
		return
	}
	logging.Get().Info().Str("url", url).Dur("interval", interval).Msg("starting influxdb pusher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	writeURL := fmt.Sprintf("%s/api/v2/write?org=%s&bucket=%s&precision=s", strings.TrimRight(url, "/"), org, bucket)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pushToInflux(client, writeURL, token)
		}
	}
}

func pushToInflux(client *http.Client, url, token string) {
	s := GetSnapshot()

	// Influx Line Protocol:
	// measurement,tag=value field=value timestamp
	lines := fmt.Sprintf(
		"brakerr throttle_changes=%di,throttle_failed=%di,polls_failure=%di,current_limit_kib=%di,streaming=%di,active_session=%di,last_poll=%di %d",
		s.ThrottleChanges, s.ThrottleFailed, s.PollsFailure, s.CurrentLimitKiB,
		boolToInt(s.Streaming), boolToInt(s.ActiveSession), s.LastPoll, time.Now().Unix(),
	)

	req, err := http.NewRequest("POST", url, bytes.NewReader([]byte(lines)))
	if err != nil {
		logging.Get().Error().Err(err).Msg("influxdb request creation failed")
		return
	}

	req.Header.Set("Authorization", "Token "+token)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := client.Do(req)
	if err != nil {
		logging.Get().Error().Err(err).Msg("influxdb push failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		logging.Get().Warn().Int("status", resp.StatusCode).Msg("influxdb rejected metrics")
	}
}
