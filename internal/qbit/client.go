// Package qbit is a minimal qBittorrent WebUI API v2 client covering the
// operations Brakerr needs: authentication and the global download limit.
package qbit

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/almontasser/brakerr/internal/logging"
)

const requestTimeout = 10 * time.Second

// The WebUI API v2 used here ships with qBittorrent 4.1.0 and later.
var minSupportedVersion = semver.MustParse("4.1.0")

// ErrLoginFailed indicates rejected credentials.
var ErrLoginFailed = errors.New("qbittorrent login failed, check your credentials")

// ErrBanned indicates the WebUI has temporarily banned this IP after too many
// failed login attempts.
var ErrBanned = errors.New("qbittorrent login forbidden, temporarily banned, try again later")

// Client is the interface used by the daemon for qBittorrent operations
type Client interface {
	// Login authenticates against the WebUI and stores the session cookie.
	Login(ctx context.Context) error
	// SetDownloadLimit sets the global download limit in bytes/s. 0 removes
	// the limit.
	SetDownloadLimit(ctx context.Context, bytesPerSec int64) error
	// AppVersion returns the qBittorrent application version string.
	AppVersion(ctx context.Context) (string, error)
}

type webClient struct {
	base     *url.URL
	username string
	password string
	http     *http.Client
}

// NewClient creates a WebUI client. When verifyHTTPS is false, TLS
// certificate validation is skipped (self-signed setups).
func NewClient(rawURL, username, password string, verifyHTTPS bool) (Client, error) {
	base, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid qbittorrent url %q: %w", rawURL, err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	transport := http.DefaultTransport
	if !verifyHTTPS {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &webClient{
		base:     base,
		username: username,
		password: password,
		http:     &http.Client{Timeout: requestTimeout, Jar: jar, Transport: transport},
	}, nil
}

// Login authenticates and, on success, logs a warning when the server runs a
// qBittorrent version older than the minimum this client supports.
func (c *webClient) Login(ctx context.Context) error {
	logging.Get().Debug().Str("url", c.base.String()).Msg("logging in to qbittorrent")

	form := url.Values{"username": {c.username}, "password": {c.password}}
	resp, err := c.postForm(ctx, "/api/v2/auth/login", form)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrBanned
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != "Ok." {
		return ErrLoginFailed
	}

	c.warnIfUnsupportedVersion(ctx)
	logging.Get().Debug().Str("url", c.base.String()).Msg("connected to qbittorrent")
	return nil
}

// warnIfUnsupportedVersion compares the server version against the minimum
// supported release. Unknown or unparsable versions are tolerated.
func (c *webClient) warnIfUnsupportedVersion(ctx context.Context) {
	raw, err := c.AppVersion(ctx)
	if err != nil {
		logging.Get().Warn().Err(err).Msg("could not determine qbittorrent version")
		return
	}
	v, err := semver.NewVersion(strings.TrimPrefix(raw, "v"))
	if err != nil {
		logging.Get().Warn().Str("version", raw).Msg("unrecognized qbittorrent version format")
		return
	}
	if v.LessThan(minSupportedVersion) {
		logging.Get().Warn().Str("version", raw).Str("min_supported", minSupportedVersion.String()).Msg("qbittorrent version is older than the minimum supported release; API calls may fail")
	}
}

// AppVersion returns the server's application version (e.g. "v4.6.3").
func (c *webClient) AppVersion(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.base.String()+"/api/v2/app/version", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Referer", c.base.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("get app version: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("app version endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

// SetDownloadLimit sets the global download limit in bytes/s. An expired
// session (403) triggers a single re-login and retry.
func (c *webClient) SetDownloadLimit(ctx context.Context, bytesPerSec int64) error {
	logging.Get().Debug().Str("url", c.base.String()).Int64("limit_bytes", bytesPerSec).Msg("setting download limit")

	status, err := c.doSetDownloadLimit(ctx, bytesPerSec)
	if err != nil {
		return err
	}
	if status == http.StatusForbidden {
		logging.Get().Debug().Str("url", c.base.String()).Msg("session expired, re-authenticating")
		if err := c.Login(ctx); err != nil {
			return fmt.Errorf("re-login after expired session: %w", err)
		}
		status, err = c.doSetDownloadLimit(ctx, bytesPerSec)
		if err != nil {
			return err
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("set download limit returned status %d", status)
	}
	return nil
}

func (c *webClient) doSetDownloadLimit(ctx context.Context, bytesPerSec int64) (int, error) {
	form := url.Values{"limit": {strconv.FormatInt(bytesPerSec, 10)}}
	resp, err := c.postForm(ctx, "/api/v2/transfer/setDownloadLimit", form)
	if err != nil {
		return 0, fmt.Errorf("set download limit request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (c *webClient) postForm(ctx context.Context, path string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.base.String()+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	// qBittorrent rejects cross-origin requests without a matching Referer
	req.Header.Set("Referer", c.base.String())
	return c.http.Do(req)
}
