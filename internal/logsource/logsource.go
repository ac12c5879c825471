// Package logsource queries the external log systems attached to a client:
// a Graylog search API for recent message counts and a bearer-token log
// statistics API for dashboard overviews. Results are never cached.
package logsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/msspconsole/console/internal/model"
)

// DefaultTimeout bounds a single upstream call.
const DefaultTimeout = 10 * time.Second

// CountWindow is how far back CountRecent looks.
const CountWindow = 10 * time.Second

// isoMillis matches the timestamps Graylog accepts in absolute searches.
const isoMillis = "2006-01-02T15:04:05.000Z"

// maxBody caps upstream response bodies.
const maxBody = 4 << 20

var (
	// ErrNotConfigured means the client has no connection of the requested kind.
	ErrNotConfigured = errors.New("log source not configured")
	// ErrUpstream wraps any failure talking to the external API.
	ErrUpstream = errors.New("log source request failed")
)

// Client talks to the external log APIs.
type Client struct {
	http *http.Client
	now  func() time.Time
}

// New creates a Client whose requests time out after timeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		now:  time.Now,
	}
}

// LogCount is the number of messages a Graylog stream received in a window.
type LogCount struct {
	Total int64
	From  string
	To    string
}

// CountRecent asks Graylog how many messages the configured stream received
// during the last CountWindow.
func (c *Client) CountRecent(ctx context.Context, cfg *model.GraylogConfig) (*LogCount, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, ErrNotConfigured
	}

	to := c.now().UTC()
	from := to.Add(-CountWindow)
	q := url.Values{}
	q.Set("query", "*")
	q.Set("from", from.Format(isoMillis))
	q.Set("to", to.Format(isoMillis))
	q.Set("limit", "0")
	if cfg.StreamID != "" {
		q.Set("filter", "streams:"+cfg.StreamID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL(cfg.Host)+"/api/search/universal/absolute?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	req.SetBasicAuth(cfg.Username, cfg.Password)
	req.Header.Set("Accept", "application/json")

	var body struct {
		TotalResults int64 `json:"total_results"`
	}
	if err := c.do(req, &body); err != nil {
		return nil, err
	}
	return &LogCount{
		Total: body.TotalResults,
		From:  from.Format(isoMillis),
		To:    to.Format(isoMillis),
	}, nil
}

// StatsOverview logs in to the statistics API and returns its overview
// document for timeRange (for example "24h") unchanged.
func (c *Client) StatsOverview(ctx context.Context, cfg *model.LogAPIConfig, timeRange string) (json.RawMessage, error) {
	if cfg == nil || cfg.Host == "" {
		return nil, ErrNotConfigured
	}
	base := baseURL(cfg.Host)

	creds, err := json.Marshal(map[string]string{"username": cfg.Username, "password": cfg.Password})
	if err != nil {
		return nil, err
	}
	login, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/auth/login", bytes.NewReader(creds))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	login.Header.Set("Content-Type", "application/json")

	var tok struct {
		Token string `json:"token"`
	}
	if err := c.do(login, &tok); err != nil {
		return nil, err
	}
	if tok.Token == "" {
		return nil, fmt.Errorf("%w: no token in login response", ErrUpstream)
	}

	stats, err := http.NewRequestWithContext(ctx, http.MethodGet,
		base+"/api/logs/stats/overview?timeRange="+url.QueryEscape(timeRange), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	stats.Header.Set("Authorization", "Bearer "+tok.Token)
	stats.Header.Set("Content-Type", "application/json")

	var raw json.RawMessage
	if err := c.do(stats, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d", ErrUpstream, req.Method, req.URL.Path, resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUpstream, req.URL.Path, err)
	}
	return nil
}

// baseURL accepts hosts stored with or without a scheme. Bare hosts are
// reached over plain HTTP.
func baseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "http://" + host
}
