package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestParse_MinimalConfig(t *testing.T) {
	yaml := `
sources:
  - type: news
    url: https://example.com/news.json
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.DefaultInterval.Duration() != 2*time.Second {
		t.Errorf("DefaultInterval = %v, want 2s", cfg.DefaultInterval.Duration())
	}
	if cfg.Logging == nil || !*cfg.Logging {
		t.Error("Logging should default to true")
	}
	if cfg.MaxConcurrency != 10 {
		t.Errorf("MaxConcurrency = %d, want 10", cfg.MaxConcurrency)
	}
	if cfg.Heartbeat || cfg.Stats {
		t.Error("Heartbeat and Stats should default to false")
	}
	if len(cfg.Sources) != 1 {
		t.Errorf("len(Sources) = %d, want 1", len(cfg.Sources))
	}
}

func TestParse_FullSourceConfig(t *testing.T) {
	yaml := `
port: 9090
default_interval: 5s
heartbeat: true
stats: true
logging: false
title: Newsroom

sources:
  - type: bbc
    path: news/bbc
    url: https://feeds.example.com/rss.xml
    interval: 30s
    xml: true
    method: POST
    timeout: 3s
    headers:
      Authorization: Bearer token123
    compare: field:rss.channel.item.0.guid
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.DefaultInterval.Duration() != 5*time.Second {
		t.Errorf("DefaultInterval = %v, want 5s", cfg.DefaultInterval.Duration())
	}
	if !cfg.Heartbeat || !cfg.Stats {
		t.Errorf("Heartbeat = %v, Stats = %v, want both true", cfg.Heartbeat, cfg.Stats)
	}
	if *cfg.Logging {
		t.Error("Logging = true, want false")
	}
	if cfg.Title != "Newsroom" {
		t.Errorf("Title = %q, want %q", cfg.Title, "Newsroom")
	}

	s := cfg.Sources[0]
	if s.Type != "bbc" || s.Path != "news/bbc" || !s.XML || s.Method != "POST" {
		t.Errorf("source = %+v", s)
	}
	if s.Interval.Duration() != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", s.Interval.Duration())
	}
	if s.Timeout.Duration() != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", s.Timeout.Duration())
	}
	if s.Headers["Authorization"] != "Bearer token123" {
		t.Errorf("Headers[Authorization] = %q", s.Headers["Authorization"])
	}
	want := CompareConfig{Type: "field", Paths: []string{"rss.channel.item.0.guid"}}
	if !reflect.DeepEqual(s.Compare, want) {
		t.Errorf("Compare = %+v, want %+v", s.Compare, want)
	}
}

func TestParse_ServerSections(t *testing.T) {
	t.Setenv("FEEDCAST_REDIS", "redis://cache:6379/2")
	t.Setenv("FEED_TOKEN", "abc")

	yaml := `
log:
  level: debug
  format: text
request:
  timeout: 4s
  user_agent: feedcast-test
  headers:
    X-Token: ${FEED_TOKEN}
sessions:
  redis_url: ${FEEDCAST_REDIS}
  redis_key: demo:sessions
transport:
  read_buffer_size: 2048
  write_buffer_size: 4096
  allowed_origins: [https://example.com]
  compression: true
  write_timeout: 2s
  send_buffer: 32
sources:
  - type: news
    url: https://example.com
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.Request.Timeout.Duration() != 4*time.Second || cfg.Request.UserAgent != "feedcast-test" {
		t.Errorf("Request = %+v", cfg.Request)
	}
	if cfg.Request.Headers["X-Token"] != "abc" {
		t.Errorf("Request.Headers[X-Token] = %q, want expanded value", cfg.Request.Headers["X-Token"])
	}
	if cfg.Sessions.RedisURL != "redis://cache:6379/2" || cfg.Sessions.RedisKey != "demo:sessions" {
		t.Errorf("Sessions = %+v", cfg.Sessions)
	}

	tr := cfg.Transport
	if tr.ReadBufferSize != 2048 || tr.WriteBufferSize != 4096 || tr.SendBuffer != 32 {
		t.Errorf("Transport sizes = %+v", tr)
	}
	if !tr.Compression || tr.WriteTimeout.Duration() != 2*time.Second {
		t.Errorf("Transport = %+v", tr)
	}
	if len(tr.AllowedOrigins) != 1 || tr.AllowedOrigins[0] != "https://example.com" {
		t.Errorf("AllowedOrigins = %v", tr.AllowedOrigins)
	}
}

func TestParse_GridConfig(t *testing.T) {
	yaml := `
grids:
  - type: weather
    url_template: "https://api.example.com/forecast?city={{.city}}"
    path_template: "forecast/{{.city}}"
    dimensions:
      city: [london, paris]
    interval: 10s
    compare: never
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	g := cfg.Grids[0]
	if g.Type != "weather" || g.PathTemplate != "forecast/{{.city}}" {
		t.Errorf("grid = %+v", g)
	}
	if len(g.Dimensions["city"]) != 2 {
		t.Errorf("Dimensions[city] = %v", g.Dimensions["city"])
	}
	if g.Compare.Type != "never" {
		t.Errorf("Compare.Type = %q, want never", g.Compare.Type)
	}
}

func TestParse_CompareShorthand(t *testing.T) {
	tests := []struct {
		name      string
		compare   string
		want      CompareConfig
		wantErrLk string
	}{
		{name: "field", compare: "field:0.pubDate", want: CompareConfig{Type: "field", Paths: []string{"0.pubDate"}}},
		{name: "equal", compare: "equal", want: CompareConfig{Type: "equal"}},
		{name: "never", compare: "never", want: CompareConfig{Type: "never"}},
		{name: "empty", compare: `""`, want: CompareConfig{}},
		{name: "unknown prefix", compare: "regex:foo", wantErrLk: "unknown comparator type"},
		{name: "unknown word", compare: "always", wantErrLk: "unknown comparator"},
		{name: "field without path", compare: "field:", wantErrLk: "requires exactly one path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "sources:\n  - type: news\n    url: https://example.com\n    compare: " + tt.compare + "\n"
			cfg, err := Parse([]byte(yaml))
			if tt.wantErrLk != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErrLk) {
					t.Fatalf("Parse() error = %v, want error containing %q", err, tt.wantErrLk)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !reflect.DeepEqual(cfg.Sources[0].Compare, tt.want) {
				t.Errorf("Compare = %+v, want %+v", cfg.Sources[0].Compare, tt.want)
			}
		})
	}
}

func TestParse_CompareStructured(t *testing.T) {
	yaml := `
sources:
  - type: news
    url: https://example.com
    compare:
      type: fields
      paths: [0.pubDate, 0.title]
  - type: weather
    url: https://example.com/weather
    compare:
      type: field
      path: current.temp
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if want := (CompareConfig{Type: "fields", Paths: []string{"0.pubDate", "0.title"}}); !reflect.DeepEqual(cfg.Sources[0].Compare, want) {
		t.Errorf("Compare = %+v, want %+v", cfg.Sources[0].Compare, want)
	}
	if want := (CompareConfig{Type: "field", Paths: []string{"current.temp"}}); !reflect.DeepEqual(cfg.Sources[1].Compare, want) {
		t.Errorf("Compare = %+v, want %+v", cfg.Sources[1].Compare, want)
	}
}

func TestParse_EnvVarSubstitution(t *testing.T) {
	t.Setenv("FEED_HOST", "feeds.example.com")
	t.Setenv("API_KEY", "secret")

	yaml := `
sources:
  - type: news
    url: https://${FEED_HOST}/news.json
    headers:
      X-Key: ${API_KEY}
  - type: fallback
    url: ${FALLBACK_URL:-https://default.example.com}
grids:
  - type: weather
    url_template: "https://${FEED_HOST}/{{.city}}"
    dimensions:
      city: [london]
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Sources[0].URL != "https://feeds.example.com/news.json" {
		t.Errorf("URL = %q", cfg.Sources[0].URL)
	}
	if cfg.Sources[0].Headers["X-Key"] != "secret" {
		t.Errorf("Headers[X-Key] = %q", cfg.Sources[0].Headers["X-Key"])
	}
	if cfg.Sources[1].URL != "https://default.example.com" {
		t.Errorf("URL = %q, want default", cfg.Sources[1].URL)
	}
	if cfg.Grids[0].URLTemplate != "https://feeds.example.com/{{.city}}" {
		t.Errorf("URLTemplate = %q", cfg.Grids[0].URLTemplate)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name        string
		yaml        string
		wantErrLike string
	}{
		{
			name:        "no sources or grids",
			yaml:        `port: 8080`,
			wantErrLike: "at least one source or grid",
		},
		{
			name:        "source missing type",
			yaml:        "sources:\n  - url: https://example.com\n",
			wantErrLike: "type is required",
		},
		{
			name:        "source missing url",
			yaml:        "sources:\n  - type: news\n",
			wantErrLike: "url is required",
		},
		{
			name:        "duplicate type",
			yaml:        "sources:\n  - type: news\n    url: https://a.example.com\n  - type: news\n    url: https://b.example.com\n",
			wantErrLike: "duplicate type",
		},
		{
			name:        "duplicate path",
			yaml:        "sources:\n  - type: a\n    path: feed\n    url: https://a.example.com\n  - type: b\n    path: /feed\n    url: https://b.example.com\n",
			wantErrLike: "duplicate path",
		},
		{
			name:        "path equal to another type",
			yaml:        "sources:\n  - type: news\n    url: https://a.example.com\n  - type: bbc\n    path: news\n    url: https://b.example.com\n",
			wantErrLike: "duplicate path \"news\"",
		},
		{
			name:        "url without scheme",
			yaml:        "sources:\n  - type: news\n    url: example.com/feed\n",
			wantErrLike: "must have a scheme",
		},
		{
			name:        "url bad scheme",
			yaml:        "sources:\n  - type: news\n    url: ftp://example.com/feed\n",
			wantErrLike: "scheme must be http or https",
		},
		{
			name:        "missing env var",
			yaml:        "sources:\n  - type: news\n    url: ${FEEDCAST_UNSET_VAR}\n",
			wantErrLike: "is not set",
		},
		{
			name:        "invalid method",
			yaml:        "sources:\n  - type: news\n    url: https://example.com\n    method: HEAD\n",
			wantErrLike: "method must be GET or POST",
		},
		{
			name:        "negative timeout",
			yaml:        "sources:\n  - type: news\n    url: https://example.com\n    timeout: -1s\n",
			wantErrLike: "timeout cannot be negative",
		},
		{
			name:        "interval too short",
			yaml:        "sources:\n  - type: news\n    url: https://example.com\n    interval: 10ms\n",
			wantErrLike: "interval must be at least",
		},
		{
			name:        "interval too long",
			yaml:        "sources:\n  - type: news\n    url: https://example.com\n    interval: 2h\n",
			wantErrLike: "interval must not exceed",
		},
		{
			name:        "default interval too short",
			yaml:        "default_interval: 1ms\nsources:\n  - type: news\n    url: https://example.com\n",
			wantErrLike: "default_interval must be at least",
		},
		{
			name:        "port out of range",
			yaml:        "port: 70000\nsources:\n  - type: news\n    url: https://example.com\n",
			wantErrLike: "port must be between",
		},
		{
			name:        "bad log level",
			yaml:        "log:\n  level: verbose\nsources:\n  - type: news\n    url: https://example.com\n",
			wantErrLike: "log.level",
		},
		{
			name:        "bad log format",
			yaml:        "log:\n  format: xml\nsources:\n  - type: news\n    url: https://example.com\n",
			wantErrLike: "log.format",
		},
		{
			name:        "negative max concurrency",
			yaml:        "max_concurrency: -2\nsources:\n  - type: news\n    url: https://example.com\n",
			wantErrLike: "max_concurrency must be positive",
		},
		{
			name:        "negative send buffer",
			yaml:        "transport:\n  send_buffer: -1\nsources:\n  - type: news\n    url: https://example.com\n",
			wantErrLike: "buffer sizes cannot be negative",
		},
		{
			name:        "unknown structured comparator",
			yaml:        "sources:\n  - type: news\n    url: https://example.com\n    compare:\n      type: regex\n",
			wantErrLike: "unknown comparator type",
		},
		{
			name:        "fields without paths",
			yaml:        "sources:\n  - type: news\n    url: https://example.com\n    compare:\n      type: fields\n",
			wantErrLike: "at least one path",
		},
		{
			name:        "grid missing type",
			yaml:        "grids:\n  - url_template: https://x.com/{{.a}}\n    dimensions:\n      a: [1]\n",
			wantErrLike: "type is required",
		},
		{
			name:        "grid missing template",
			yaml:        "grids:\n  - type: w\n    dimensions:\n      a: [1]\n",
			wantErrLike: "url_template is required",
		},
		{
			name:        "grid invalid template",
			yaml:        "grids:\n  - type: w\n    url_template: \"https://x.com/{{.a\"\n    dimensions:\n      a: [1]\n",
			wantErrLike: "invalid url_template",
		},
		{
			name:        "grid invalid path template",
			yaml:        "grids:\n  - type: w\n    url_template: https://x.com/{{.a}}\n    path_template: \"{{.a\"\n    dimensions:\n      a: [1]\n",
			wantErrLike: "invalid path_template",
		},
		{
			name:        "grid no dimensions",
			yaml:        "grids:\n  - type: w\n    url_template: https://x.com/{{.a}}\n",
			wantErrLike: "at least one dimension",
		},
		{
			name:        "grid empty dimension",
			yaml:        "grids:\n  - type: w\n    url_template: https://x.com/{{.a}}\n    dimensions:\n      a: []\n",
			wantErrLike: "has no values",
		},
		{
			name:        "grid duplicate dimension value",
			yaml:        "grids:\n  - type: w\n    url_template: https://x.com/{{.a}}\n    dimensions:\n      a: [1, 1]\n",
			wantErrLike: "duplicate value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Parse() expected error containing %q, got nil", tt.wantErrLike)
			}
			if !strings.Contains(err.Error(), tt.wantErrLike) {
				t.Errorf("Parse() error = %v, want error containing %q", err, tt.wantErrLike)
			}
		})
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("sources: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("Parse() error = %v, want YAML error", err)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte("default_interval: soon\nsources:\n  - type: news\n    url: https://example.com\n"))
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("Parse() error = %v, want invalid duration", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedcast.yaml")
	if err := os.WriteFile(path, []byte("sources:\n  - type: news\n    url: https://example.com\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sources[0].Type != "news" {
		t.Errorf("Sources[0].Type = %q, want news", cfg.Sources[0].Type)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	t.Setenv("EMPTY_VAR", "") // set but empty

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"no vars", "plain text", "plain text", false},
		{"simple var", "${TEST_VAR}", "value", false},
		{"var in text", "prefix ${TEST_VAR} suffix", "prefix value suffix", false},
		{"multiple vars", "${TEST_VAR}-${TEST_VAR}", "value-value", false},
		{"with default (var set)", "${TEST_VAR:-default}", "value", false},
		{"with default (var unset)", "${UNSET:-default}", "default", false},
		{"missing required", "${MISSING}", "", true},
		{"empty default (var unset)", "${UNSET:-}", "", false},
		{"set but empty var", "${EMPTY_VAR}", "", false},
		{"set but empty with default", "${EMPTY_VAR:-fallback}", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := expandEnvVars(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expandEnvVars() expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("expandEnvVars() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("expandEnvVars() = %q, want %q", got, tt.want)
			}
		})
	}
}
