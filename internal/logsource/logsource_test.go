package logsource

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/msspconsole/console/internal/model"
)

func TestCountRecent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search/universal/absolute" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("from") != "2026-01-02T03:04:00.000Z" || q.Get("to") != "2026-01-02T03:04:10.000Z" {
			t.Errorf("window = %s .. %s", q.Get("from"), q.Get("to"))
		}
		if q.Get("limit") != "0" || q.Get("filter") != "streams:abc123" || q.Get("query") != "*" {
			t.Errorf("query = %v", q)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "reader" || pass != "s3cret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"total_results": 42, "messages": []}`))
	}))
	defer srv.Close()

	c := New(time.Second)
	c.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 10, 0, time.UTC) }

	got, err := c.CountRecent(context.Background(), &model.GraylogConfig{
		Host:     srv.URL,
		Username: "reader",
		Password: "s3cret",
		StreamID: "abc123",
	})
	if err != nil {
		t.Fatalf("CountRecent: %v", err)
	}
	if got.Total != 42 {
		t.Errorf("Total = %d, want 42", got.Total)
	}
	if got.From != "2026-01-02T03:04:00.000Z" {
		t.Errorf("From = %s", got.From)
	}
}

func TestCountRecentUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(time.Second).CountRecent(context.Background(), &model.GraylogConfig{Host: srv.URL})
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestNotConfigured(t *testing.T) {
	c := New(0)
	if _, err := c.CountRecent(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("graylog: expected ErrNotConfigured, got %v", err)
	}
	if _, err := c.StatsOverview(context.Background(), &model.LogAPIConfig{}, "24h"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("log api: expected ErrNotConfigured, got %v", err)
	}
}

func TestStatsOverview(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			var creds map[string]string
			json.NewDecoder(r.Body).Decode(&creds)
			if creds["username"] != "stats" || creds["password"] != "pw" {
				http.Error(w, "bad creds", http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`{"token":"tok-1"}`))
		case "/api/logs/stats/overview":
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				http.Error(w, "no token", http.StatusUnauthorized)
				return
			}
			if r.URL.Query().Get("timeRange") != "24h" {
				t.Errorf("timeRange = %q", r.URL.Query().Get("timeRange"))
			}
			w.Write([]byte(`{"total":1200,"bySeverity":{"high":3}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	raw, err := New(time.Second).StatsOverview(context.Background(), &model.LogAPIConfig{
		Host:     strings.TrimPrefix(srv.URL, "http://"),
		Username: "stats",
		Password: "pw",
	}, "24h")
	if err != nil {
		t.Fatalf("StatsOverview: %v", err)
	}
	var stats map[string]interface{}
	if err := json.Unmarshal(raw, &stats); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if stats["total"] != float64(1200) {
		t.Errorf("stats = %v", stats)
	}
}

func TestStatsOverviewMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := New(time.Second).StatsOverview(context.Background(), &model.LogAPIConfig{Host: srv.URL}, "24h")
	if !errors.Is(err, ErrUpstream) {
		t.Errorf("expected ErrUpstream, got %v", err)
	}
}

func TestBaseURL(t *testing.T) {
	tests := map[string]string{
		"graylog.local:9000":       "http://graylog.local:9000",
		"https://graylog.example/": "https://graylog.example",
		"http://10.0.0.5":          "http://10.0.0.5",
	}
	for in, want := range tests {
		if got := baseURL(in); got != want {
			t.Errorf("baseURL(%q) = %q, want %q", in, got, want)
		}
	}
}
