package feedcast

import (
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/feedcast/internal/poller"
)

func TestNewSource_Valid(t *testing.T) {
	src, err := NewSource("news", "https://example.com/news.json")
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	if src.Type() != "news" {
		t.Errorf("Type() = %v, want %v", src.Type(), "news")
	}
	if src.Path() != "news" {
		t.Errorf("Path() = %v, want path to default to type", src.Path())
	}
	if src.URL() != "https://example.com/news.json" {
		t.Errorf("URL() = %v, want %v", src.URL(), "https://example.com/news.json")
	}
	if src.Interval() != 0 {
		t.Errorf("Interval() = %v, want 0 (server default)", src.Interval())
	}
	if src.XML() {
		t.Error("XML() = true, want JSON by default")
	}
	if src.Compare() != nil {
		t.Error("Compare() should be nil when not set")
	}
}

func TestNewSource_EmptyType(t *testing.T) {
	for _, typ := range []string{"", "   "} {
		if _, err := NewSource(typ, "https://example.com"); err == nil {
			t.Errorf("NewSource(%q) expected error for empty type, got nil", typ)
		}
	}
}

func TestNewSource_InvalidURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{"no scheme", "example.com/feed"},
		{"empty url", ""},
		{"just path", "/feed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSource("news", tt.url)
			if err == nil {
				t.Errorf("NewSource() expected error for URL %q, got nil", tt.url)
			}
		})
	}
}

func TestWithPath(t *testing.T) {
	tests := []struct {
		name     string
		typ      string
		opts     []SourceOption
		wantPath string
		wantErr  string
	}{
		{name: "custom", typ: "bbc", opts: []SourceOption{WithPath("news/bbc")}, wantPath: "news/bbc"},
		{name: "slashes trimmed", typ: "bbc", opts: []SourceOption{WithPath("/news/")}, wantPath: "news"},
		{name: "type with slashes", typ: "/weather/", wantPath: "weather"},
		{name: "empty option", typ: "bbc", opts: []SourceOption{WithPath("")}, wantErr: "path cannot be empty"},
		{name: "only slashes", typ: "/", wantErr: "path cannot be empty"},
		{name: "whitespace", typ: "my feed", wantErr: "not allowed"},
		{name: "query", typ: "bbc", opts: []SourceOption{WithPath("news?x=1")}, wantErr: "not allowed"},
		{name: "reserved api", typ: "bbc", opts: []SourceOption{WithPath("/api/sources")}, wantErr: "reserved"},
		{name: "reserved metrics", typ: "metrics", wantErr: "reserved"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewSource(tt.typ, "https://example.com", tt.opts...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("NewSource() error = %v, want error containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSource() error = %v", err)
			}
			if src.Path() != tt.wantPath {
				t.Errorf("Path() = %q, want %q", src.Path(), tt.wantPath)
			}
		})
	}
}

func TestWithInterval(t *testing.T) {
	src, err := NewSource("news", "https://example.com", WithInterval(2*time.Second))
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	if src.Interval() != 2*time.Second {
		t.Errorf("Interval() = %v, want %v", src.Interval(), 2*time.Second)
	}

	for _, d := range []time.Duration{0, -time.Second} {
		if _, err := NewSource("news", "https://example.com", WithInterval(d)); err == nil {
			t.Errorf("WithInterval(%v) expected error, got nil", d)
		}
	}
}

func TestWithMethod(t *testing.T) {
	tests := []struct {
		method  string
		wantErr bool
	}{
		{"GET", false},
		{"POST", false},
		{"HEAD", true},
		{"DELETE", true},
		{"get", true},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			src, err := NewSource("news", "https://example.com", WithMethod(tt.method))
			if (err != nil) != tt.wantErr {
				t.Fatalf("WithMethod(%q) error = %v, wantErr %v", tt.method, err, tt.wantErr)
			}
			if !tt.wantErr && src.Method() != tt.method {
				t.Errorf("Method() = %q, want %q", src.Method(), tt.method)
			}
		})
	}
}

func TestWithHeaders(t *testing.T) {
	src, err := NewSource("news", "https://example.com",
		WithHeaders("Authorization", "Bearer token", "Accept", "application/json"),
	)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	headers := src.Headers()
	if headers["Authorization"] != "Bearer token" {
		t.Errorf("Headers()[Authorization] = %v, want %v", headers["Authorization"], "Bearer token")
	}

	// modify returned headers
	headers["Authorization"] = "modified"
	if src.Headers()["Authorization"] != "Bearer token" {
		t.Error("Headers() mutation affected original source")
	}
}

func TestWithHeaders_OddArgs(t *testing.T) {
	_, err := NewSource("news", "https://example.com", WithHeaders("Authorization"))
	if err == nil {
		t.Error("NewSource() expected error for odd number of header args, got nil")
	}
}

func TestWithTimeout(t *testing.T) {
	src, err := NewSource("news", "https://example.com", WithTimeout(3*time.Second))
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	if src.Timeout() != 3*time.Second {
		t.Errorf("Timeout() = %v, want %v", src.Timeout(), 3*time.Second)
	}

	if _, err := NewSource("news", "https://example.com", WithTimeout(0)); err == nil {
		t.Error("WithTimeout(0) expected error, got nil")
	}
}

func TestToPollerSource(t *testing.T) {
	src, err := NewSource("bbc", "https://example.com/rss.xml",
		WithXML(),
		WithPath("news/bbc"),
		WithInterval(5*time.Second),
		WithMethod("POST"),
		WithHeaders("X-Key", "secret"),
		WithTimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	ps := src.toPollerSource()

	if ps.Type != "bbc" || ps.Path != "news/bbc" || ps.URL != "https://example.com/rss.xml" {
		t.Errorf("identity fields = %q %q %q", ps.Type, ps.Path, ps.URL)
	}
	if ps.Format != poller.FormatXML {
		t.Errorf("Format = %v, want xml", ps.Format)
	}
	if ps.Period != 5*time.Second || ps.Timeout != time.Second || ps.Method != "POST" {
		t.Errorf("period/timeout/method = %v %v %q", ps.Period, ps.Timeout, ps.Method)
	}
	if ps.Compare == nil {
		t.Fatal("Compare should default to EqualComparator, got nil")
	}
	if ps.Compare(nil, "x") {
		t.Error("default comparator reported the first payload unchanged")
	}
	if !ps.Compare("x", "x") {
		t.Error("default comparator reported equal payloads changed")
	}

	// headers are copied, not shared
	ps.Headers["X-Key"] = "modified"
	if src.Headers()["X-Key"] != "secret" {
		t.Error("poller source headers share storage with the Source")
	}
}
