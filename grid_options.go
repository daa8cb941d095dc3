package feedcast

import (
	"errors"
	"fmt"
	"time"
)

// gridConfig collects the settings for [NewSourceGrid]. The embedded
// sourceConfig carries what every generated source shares; only the
// templates and dimensions are grid-specific.
type gridConfig struct {
	sourceConfig

	urlTemplate  string
	pathTemplate string
	dimensions   map[string][]string
}

// GridOption configures [NewSourceGrid].
type GridOption func(*gridConfig) error

// forEachSource lifts a [SourceOption] into a grid option applied to the
// shared settings.
func forEachSource(opt SourceOption) GridOption {
	return func(cfg *gridConfig) error {
		if cfg.headers == nil {
			cfg.headers = make(map[string]string)
		}
		return opt(&cfg.sourceConfig)
	}
}

// WithURLTemplate sets the feed URL every source is rendered from. Dimension
// names are the template fields:
//
//	WithURLTemplate("https://news.example.com/{{.lang}}/{{.topic}}.json")
func WithURLTemplate(tmpl string) GridOption {
	return func(cfg *gridConfig) error {
		if tmpl == "" {
			return errors.New("URL template required")
		}
		cfg.urlTemplate = tmpl
		return nil
	}
}

// WithGridPathTemplate renders each source's route from tmpl, which sees the
// same fields as the URL template. Routes otherwise default to the generated
// source type, e.g. "weather-london".
//
//	WithGridPathTemplate("weather/{{.city}}")
func WithGridPathTemplate(tmpl string) GridOption {
	return func(cfg *gridConfig) error {
		if tmpl == "" {
			return errors.New("path template cannot be empty")
		}
		cfg.pathTemplate = tmpl
		return nil
	}
}

// WithDimensions names the values each template field ranges over. One
// source is generated per combination:
//
//	WithDimensions(map[string][]string{
//	    "topic": {"world", "sport"},
//	    "lang":  {"en", "fr"},
//	}) // four sources
//
// Every dimension needs at least one value and values cannot be empty.
func WithDimensions(dims map[string][]string) GridOption {
	return func(cfg *gridConfig) error {
		if len(dims) == 0 {
			return errors.New("at least one dimension required")
		}
		for name, vals := range dims {
			if len(vals) == 0 {
				return fmt.Errorf("dimension '%s' has no values", name)
			}
			for i, v := range vals {
				if v == "" {
					return fmt.Errorf("dimension '%s' contains empty value at index %d", name, i)
				}
			}
		}
		cfg.dimensions = dims
		return nil
	}
}

// WithGridHeaders is [WithHeaders] for every generated source.
func WithGridHeaders(keyValues ...string) GridOption {
	return forEachSource(WithHeaders(keyValues...))
}

// WithGridTimeout is [WithTimeout] for every generated source. Zero keeps the
// request default.
func WithGridTimeout(d time.Duration) GridOption {
	if d == 0 {
		return func(*gridConfig) error { return nil }
	}
	return forEachSource(WithTimeout(d))
}

// WithGridCompare is [WithCompare] for every generated source. Members share
// the one comparator value, so it must not keep per-source state.
func WithGridCompare(c Comparator) GridOption {
	return forEachSource(WithCompare(c))
}

// WithGridMethod is [WithMethod] for every generated source.
func WithGridMethod(method string) GridOption {
	return forEachSource(WithMethod(method))
}

// WithGridInterval is [WithInterval] for every generated source. Zero keeps
// the server default.
func WithGridInterval(d time.Duration) GridOption {
	if d == 0 {
		return func(*gridConfig) error { return nil }
	}
	return forEachSource(WithInterval(d))
}

// WithGridXML is [WithXML] for every generated source.
func WithGridXML() GridOption {
	return forEachSource(WithXML())
}
