// Package jellyfin talks to the Jellyfin (or Emby) sessions API and watches
// for playback activity.
package jellyfin

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 10 * time.Second

// PlayState carries the subset of Jellyfin's play state Brakerr reads.
type PlayState struct {
	IsPaused bool `json:"IsPaused"`
}

// NowPlayingItem identifies what a session is playing. Sessions without one
// are connected but idle.
type NowPlayingItem struct {
	Name string `json:"Name"`
}

// Session is one entry of the /Sessions response.
type Session struct {
	ID               string          `json:"Id"`
	UserName         string          `json:"UserName"`
	LastActivityDate time.Time       `json:"LastActivityDate"`
	NowPlayingItem   *NowPlayingItem `json:"NowPlayingItem"`
	PlayState        PlayState       `json:"PlayState"`
}

// Client is the interface used by the watcher for session lookups
type Client interface {
	// Sessions returns the current sessions known to the server.
	Sessions(ctx context.Context) ([]Session, error)
	Name() string
}

type httpClient struct {
	name   string
	base   string
	apiKey string
	http   *http.Client
}

// NewClient creates a sessions client for one media server. name is used for
// logging and snapshot attribution; when verifyHTTPS is false, TLS
// certificate validation is skipped (self-signed setups).
func NewClient(name, baseURL, apiKey string, verifyHTTPS bool) Client {
	transport := http.DefaultTransport
	if !verifyHTTPS {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &httpClient{
		name:   name,
		base:   strings.TrimRight(baseURL, "/"),
		apiKey: apiKey,
		http:   &http.Client{Timeout: requestTimeout, Transport: transport},
	}
}

func (c *httpClient) Name() string { return c.name }

func (c *httpClient) Sessions(ctx context.Context) ([]Session, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.base+"/Sessions", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("MediaBrowser Token=%q", c.apiKey))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("sessions endpoint returned status %d", resp.StatusCode)
	}

	var sessions []Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}
