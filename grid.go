package feedcast

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"text/template"
)

// NewSourceGrid expands one templated feed URL into a source per combination
// of dimension values.
//
// Templates use text/template syntax and see the dimension values
// URL-encoded. A key missing from the dimensions fails the whole grid.
//
// Source types are "base-val1-val2", values taken in sorted key order, and
// each route path defaults to its type. [WithGridPathTemplate] renders the
// path from a second template instead.
//
// Example:
//
//	sources, err := NewSourceGrid("weather",
//	    WithURLTemplate("https://api.example.com/forecast?city={{.city}}"),
//	    WithDimensions(map[string][]string{
//	        "city": {"london", "paris"},
//	    }),
//	)
//	// sources "weather-london" and "weather-paris",
//	// ready for srv.Sources(sources...)
func NewSourceGrid(baseType string, opts ...GridOption) ([]Source, error) {
	if strings.TrimSpace(baseType) == "" {
		return nil, errors.New("base type cannot be empty")
	}

	cfg := &gridConfig{sourceConfig: sourceConfig{headers: make(map[string]string)}}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.urlTemplate == "" {
		return nil, errors.New("URL template required")
	}
	if len(cfg.dimensions) == 0 {
		return nil, errors.New("at least one dimension required")
	}

	urlTmpl, err := parseGridTemplate("url", cfg.urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("invalid URL template: %w", err)
	}
	var pathTmpl *template.Template
	if cfg.pathTemplate != "" {
		if pathTmpl, err = parseGridTemplate("path", cfg.pathTemplate); err != nil {
			return nil, fmt.Errorf("invalid path template: %w", err)
		}
	}

	shared := cfg.sourceOptions()
	combos := cartesianProduct(cfg.dimensions)
	if len(combos) == 0 {
		return nil, nil
	}

	sources := make([]Source, 0, len(combos))
	for _, combo := range combos {
		// templates get encoded values, the type keeps the raw ones
		escaped := urlEncodeMap(combo)
		rawURL, err := executeTemplate(urlTmpl, escaped)
		if err != nil {
			return nil, fmt.Errorf("template execution failed: %w", err)
		}

		srcOpts := slices.Clone(shared)
		if pathTmpl != nil {
			path, err := executeTemplate(pathTmpl, escaped)
			if err != nil {
				return nil, fmt.Errorf("path template execution failed: %w", err)
			}
			srcOpts = append(srcOpts, WithPath(path))
		}

		sourceType := formatSourceType(baseType, combo)
		src, err := NewSource(sourceType, rawURL, srcOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create source '%s': %w", sourceType, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

func parseGridTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(text)
}

// sourceOptions translates the settings every grid member shares.
func (cfg *gridConfig) sourceOptions() []SourceOption {
	var opts []SourceOption
	if len(cfg.headers) > 0 {
		opts = append(opts, WithHeaders(flattenMap(cfg.headers)...))
	}
	if cfg.timeout > 0 {
		opts = append(opts, WithTimeout(cfg.timeout))
	}
	if cfg.compare != nil {
		opts = append(opts, WithCompare(cfg.compare))
	}
	if cfg.method != "" {
		opts = append(opts, WithMethod(cfg.method))
	}
	if cfg.interval > 0 {
		opts = append(opts, WithInterval(cfg.interval))
	}
	if cfg.xml {
		opts = append(opts, WithXML())
	}
	return opts
}

// cartesianProduct lists every combination of dimension values. Keys vary
// slowest-first in sorted order; values keep their slice order.
//
//	{"x": ["a","b"], "y": ["1","2"]}
//	=> [{x:a y:1} {x:a y:2} {x:b y:1} {x:b y:2}]
func cartesianProduct(dims map[string][]string) []map[string]string {
	if len(dims) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(dims))

	total := 1
	for _, k := range keys {
		total *= len(dims[k])
	}
	if total == 0 {
		return nil
	}

	result := make([]map[string]string, total)
	for n := range total {
		combo := make(map[string]string, len(keys))
		// decode n as a mixed-radix number, last key least significant
		rem := n
		for i := len(keys) - 1; i >= 0; i-- {
			vals := dims[keys[i]]
			combo[keys[i]] = vals[rem%len(vals)]
			rem /= len(vals)
		}
		result[n] = combo
	}
	return result
}

func urlEncodeMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = url.QueryEscape(v)
	}
	return out
}

func executeTemplate(tmpl *template.Template, data map[string]string) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// formatSourceType joins baseType and the values of combo in key order.
func formatSourceType(baseType string, combo map[string]string) string {
	parts := []string{baseType}
	for _, k := range slices.Sorted(maps.Keys(combo)) {
		parts = append(parts, combo[k])
	}
	return strings.Join(parts, "-")
}

// flattenMap turns m into sorted key/value pairs for [WithHeaders].
func flattenMap(m map[string]string) []string {
	pairs := make([]string, 0, len(m)*2)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}
