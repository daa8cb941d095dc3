// Package config provides YAML configuration parsing for feedcast.
//
// This package enables running feedcast as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	port: 8080
//	default_interval: 2s
//	heartbeat: true
//
//	sources:
//	  - type: json-example
//	    url: https://example.com/feed.json
//	    interval: 1s
//	    compare: field:0.pubDate
//	  - type: bbc
//	    path: news/bbc
//	    url: https://feeds.bbci.co.uk/news/rss.xml
//	    xml: true
//
//	grids:
//	  - type: weather
//	    url_template: "https://api.example.com/forecast?city={{.city}}"
//	    dimensions:
//	      city: [london, paris]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort     = 8080
	defaultInterval = 2 * time.Second

	defaultMaxConcurrency = 10

	// minInterval keeps a config file from polling a feed in a tight loop.
	minInterval = 100 * time.Millisecond
	maxInterval = time.Hour
)

// Config is the root configuration structure for feedcast.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "feedcast" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// DefaultInterval is used by sources without their own interval.
	// Accepts duration strings like "2s", "1m", "500ms". Defaults to 2s.
	DefaultInterval Duration `yaml:"default_interval"`

	// Heartbeat enables 20 second liveness pings.
	Heartbeat bool `yaml:"heartbeat"`

	// MaxConcurrency caps simultaneous poll requests. Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// Stats enables Prometheus metrics at /metrics.
	Stats bool `yaml:"stats"`

	// Logging turns server logs on or off. Defaults to true.
	Logging *bool `yaml:"logging"`

	// Log selects the CLI log handler.
	Log LogConfig `yaml:"log"`

	// Request holds defaults applied to every poll.
	Request RequestConfig `yaml:"request"`

	// Sessions selects where live connections are recorded.
	Sessions SessionsConfig `yaml:"sessions"`

	// Transport tunes the websocket transport.
	Transport TransportConfig `yaml:"transport"`

	// Sources defines individually polled endpoints.
	Sources []SourceConfig `yaml:"sources"`

	// Grids defines source grids that expand via cartesian product.
	Grids []GridConfig `yaml:"grids"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level"`
	// Format is json or text. Defaults to json.
	Format string `yaml:"format"`
}

// RequestConfig mirrors feedcast.RequestOptions.
type RequestConfig struct {
	Timeout   Duration          `yaml:"timeout"`
	UserAgent string            `yaml:"user_agent"`
	Headers   map[string]string `yaml:"headers"`
}

// SessionsConfig mirrors feedcast.SessionStoreOptions.
type SessionsConfig struct {
	// RedisURL supports environment variable substitution. Empty keeps
	// sessions in memory.
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

// TransportConfig mirrors feedcast.TransportOptions.
type TransportConfig struct {
	ReadBufferSize  int      `yaml:"read_buffer_size"`
	WriteBufferSize int      `yaml:"write_buffer_size"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	Compression     bool     `yaml:"compression"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	SendBuffer      int      `yaml:"send_buffer"`
}

// SourceConfig defines a single polled source.
type SourceConfig struct {
	// Type is the unique source key.
	Type string `yaml:"type"`

	// Path is the websocket route. Defaults to the type.
	Path string `yaml:"path"`

	// URL is the feed URL.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Interval overrides default_interval for this source.
	Interval Duration `yaml:"interval"`

	// XML decodes the payload as markup instead of JSON.
	XML bool `yaml:"xml"`

	// Method is the HTTP method (GET, POST). Defaults to GET.
	Method string `yaml:"method"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Timeout is the request timeout. Defaults to the request timeout.
	Timeout Duration `yaml:"timeout"`

	// Compare decides when a payload counts as unchanged.
	// Can be shorthand ("field:0.pubDate", "equal", "never") or structured.
	Compare CompareConfig `yaml:"compare"`
}

// GridConfig defines a source grid that expands via cartesian product.
//
// For example, with dimensions {city: [london, paris], units: [metric]},
// the grid expands to two sources: weather-london-metric and
// weather-paris-metric.
type GridConfig struct {
	// Type is the base type for generated sources.
	Type string `yaml:"type"`

	// URLTemplate is a Go template for generating feed URLs.
	// Dimension keys are available as template variables: {{.city}}
	// Supports environment variable substitution in the template.
	URLTemplate string `yaml:"url_template"`

	// PathTemplate renders each source's route. Defaults to the type.
	PathTemplate string `yaml:"path_template"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions"`

	Interval Duration          `yaml:"interval"`
	XML      bool              `yaml:"xml"`
	Method   string            `yaml:"method"`
	Headers  map[string]string `yaml:"headers"`
	Timeout  Duration          `yaml:"timeout"`
	Compare  CompareConfig     `yaml:"compare"`
}

// CompareConfig specifies how consecutive payloads are compared.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	compare: field:0.pubDate
//	compare: equal
//	compare: never
//
// Structured object:
//
//	compare:
//	  type: fields
//	  paths: [0.pubDate, 0.title]
type CompareConfig struct {
	// Type is the comparator type: "equal", "never", "field", "fields".
	Type string

	// Paths are the dotted field paths (for field and fields).
	Paths []string
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for CompareConfig.
func (c *CompareConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		return c.parseShorthand(s)
	case yaml.MappingNode:
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type  string   `yaml:"type"`
			Path  string   `yaml:"path"`
			Paths []string `yaml:"paths"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		c.Type = raw.Type
		c.Paths = raw.Paths
		if raw.Path != "" {
			c.Paths = append([]string{raw.Path}, c.Paths...)
		}
		return nil
	}

	return fmt.Errorf("compare must be a string or object, got %v", node.Kind)
}

// parseShorthand parses comparator shorthand syntax.
//
// Supported formats:
//   - "equal" → deep equality (the default)
//   - "never" → every poll is a change
//   - "field:path" → compare one field
func (c *CompareConfig) parseShorthand(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if typ, path, ok := strings.Cut(s, ":"); ok {
		if typ != "field" {
			return fmt.Errorf("unknown comparator type %q", typ)
		}
		c.Type = typ
		c.Paths = []string{path}
		return nil
	}

	switch s {
	case "equal", "never":
		c.Type = s
	default:
		return fmt.Errorf("unknown comparator %q (expected 'equal', 'never' or 'field:path')", s)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		varName := sub[1]
		hasDefault := sub[2] != ""

		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		if hasDefault {
			return sub[3]
		}
		firstErr = fmt.Errorf("environment variable %q is not set", varName)
		return match
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a YAML configuration file.
//
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URLs, URL templates, header values
// and the Redis URL. Defaults are applied for Port (8080), DefaultInterval
// (2s) and Logging (on).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DefaultInterval == 0 {
		cfg.DefaultInterval = Duration(defaultInterval)
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.Logging == nil {
		enabled := true
		cfg.Logging = &enabled
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if err := checkInterval("default_interval", c.DefaultInterval); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}

	types := make(map[string]string)
	claim := func(typ, owner string) error {
		if prev, ok := types[typ]; ok {
			return fmt.Errorf("%s: duplicate type %q (also defined by %s)", owner, typ, prev)
		}
		types[typ] = owner
		return nil
	}

	paths := make(map[string]string)

	for i := range c.Sources {
		s := &c.Sources[i]
		ctx := fmt.Sprintf("sources[%d] (%s)", i, s.Type)

		if strings.TrimSpace(s.Type) == "" {
			return fmt.Errorf("sources[%d]: type is required", i)
		}
		if err := claim(s.Type, ctx); err != nil {
			return err
		}

		path := strings.Trim(s.Path, "/")
		if path == "" {
			path = s.Type
		}
		if prev, ok := paths[path]; ok {
			return fmt.Errorf("%s: duplicate path %q (also used by %s)", ctx, path, prev)
		}
		paths[path] = ctx

		if s.URL == "" {
			return fmt.Errorf("%s: url is required", ctx)
		}
		expanded, err := expandEnvVars(s.URL)
		if err != nil {
			return fmt.Errorf("%s: url: %w", ctx, err)
		}
		s.URL = expanded
		if err := checkURL(s.URL); err != nil {
			return fmt.Errorf("%s: %w", ctx, err)
		}

		if err := checkRequest(ctx, s.Method, s.Headers, s.Interval, s.Timeout, s.Compare); err != nil {
			return err
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]
		ctx := fmt.Sprintf("grids[%d] (%s)", i, g.Type)

		if strings.TrimSpace(g.Type) == "" {
			return fmt.Errorf("grids[%d]: type is required", i)
		}

		if g.URLTemplate == "" {
			return fmt.Errorf("%s: url_template is required", ctx)
		}
		expanded, err := expandEnvVars(g.URLTemplate)
		if err != nil {
			return fmt.Errorf("%s: url_template: %w", ctx, err)
		}
		g.URLTemplate = expanded

		// fail fast before the SDK tries to use an invalid template
		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("%s: invalid url_template: %w", ctx, err)
		}
		if g.PathTemplate != "" {
			if _, err := template.New("").Parse(g.PathTemplate); err != nil {
				return fmt.Errorf("%s: invalid path_template: %w", ctx, err)
			}
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("%s: at least one dimension is required", ctx)
		}
		for dimName, dimValues := range g.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("%s: dimension %q has no values", ctx, dimName)
			}
			seen := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("%s: dimension %q has duplicate value %q", ctx, dimName, v)
				}
				seen[v] = struct{}{}
			}
		}

		if err := checkRequest(ctx, g.Method, g.Headers, g.Interval, g.Timeout, g.Compare); err != nil {
			return err
		}
	}

	if len(c.Sources) == 0 && len(c.Grids) == 0 {
		return errors.New("at least one source or grid must be defined")
	}

	return nil
}

func (c *Config) validateServer() error {
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}

	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.Request.Timeout < 0 {
		return fmt.Errorf("request.timeout cannot be negative, got %s", c.Request.Timeout.Duration())
	}
	for k, v := range c.Request.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("request.headers[%s]: %w", k, err)
		}
		c.Request.Headers[k] = expanded
	}

	redisURL, err := expandEnvVars(c.Sessions.RedisURL)
	if err != nil {
		return fmt.Errorf("sessions.redis_url: %w", err)
	}
	c.Sessions.RedisURL = redisURL

	t := c.Transport
	if t.ReadBufferSize < 0 || t.WriteBufferSize < 0 || t.SendBuffer < 0 {
		return errors.New("transport buffer sizes cannot be negative")
	}
	if t.WriteTimeout < 0 {
		return fmt.Errorf("transport.write_timeout cannot be negative, got %s", t.WriteTimeout.Duration())
	}
	return nil
}

// checkRequest validates the per-source request settings shared by sources
// and grids, expanding header values in place.
func checkRequest(ctx, method string, headers map[string]string, interval, timeout Duration, cmp CompareConfig) error {
	for k, v := range headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", ctx, k, err)
		}
		headers[k] = expanded
	}

	if method != "" && method != "GET" && method != "POST" {
		return fmt.Errorf("%s: method must be GET or POST", ctx)
	}

	if timeout < 0 {
		return fmt.Errorf("%s: timeout cannot be negative, got %s", ctx, timeout.Duration())
	}

	if interval != 0 {
		if err := checkInterval("interval", interval); err != nil {
			return fmt.Errorf("%s: %w", ctx, err)
		}
	}

	return validateCompare(cmp, ctx)
}

func checkInterval(field string, d Duration) error {
	if d.Duration() < minInterval {
		return fmt.Errorf("%s must be at least %s, got %s", field, minInterval, d.Duration())
	}
	if d.Duration() > maxInterval {
		return fmt.Errorf("%s must not exceed %s, got %s", field, maxInterval, d.Duration())
	}
	return nil
}

func checkURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	return nil
}

// validateCompare validates a comparator configuration.
func validateCompare(c CompareConfig, context string) error {
	switch c.Type {
	case "", "equal", "never":
		return nil
	case "field":
		if len(c.Paths) != 1 || c.Paths[0] == "" {
			return fmt.Errorf("%s: comparator type 'field' requires exactly one path", context)
		}
	case "fields":
		if len(c.Paths) == 0 {
			return fmt.Errorf("%s: comparator type 'fields' requires at least one path", context)
		}
		for _, p := range c.Paths {
			if p == "" {
				return fmt.Errorf("%s: comparator paths cannot be empty", context)
			}
		}
	default:
		return fmt.Errorf("%s: unknown comparator type %q", context, c.Type)
	}
	return nil
}
