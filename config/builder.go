package config

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/jpalmerr/feedcast"
)

// BuildSources converts parsed configuration into SDK Source values.
//
// It processes both direct sources and grids, returning a combined slice.
// Grid dimensions are expanded via cartesian product.
func BuildSources(cfg *Config) ([]feedcast.Source, error) {
	var sources []feedcast.Source

	for i, sc := range cfg.Sources {
		src, err := buildSource(sc)
		if err != nil {
			return nil, fmt.Errorf("sources[%d] (%s): %w", i, sc.Type, err)
		}
		sources = append(sources, src)
	}

	for i, gc := range cfg.Grids {
		grid, err := buildGrid(gc)
		if err != nil {
			return nil, fmt.Errorf("grids[%d] (%s): %w", i, gc.Type, err)
		}
		sources = append(sources, grid...)
	}

	return sources, nil
}

// BuildOptions converts the server settings into SDK options. logger is
// passed through [feedcast.WithLogger] when non-nil.
func BuildOptions(cfg *Config, logger *slog.Logger) []feedcast.Option {
	opts := []feedcast.Option{
		feedcast.WithPort(cfg.Port),
		feedcast.WithDefaultInterval(cfg.DefaultInterval.Duration()),
		feedcast.WithHeartbeat(cfg.Heartbeat),
		feedcast.WithStats(cfg.Stats),
		feedcast.WithTitle(cfg.Title),
		feedcast.WithRequestOptions(feedcast.RequestOptions{
			Timeout:   cfg.Request.Timeout.Duration(),
			Headers:   cfg.Request.Headers,
			UserAgent: cfg.Request.UserAgent,
		}),
		feedcast.WithSessionStore(feedcast.SessionStoreOptions{
			RedisURL: cfg.Sessions.RedisURL,
			RedisKey: cfg.Sessions.RedisKey,
		}),
		feedcast.WithTransportOptions(feedcast.TransportOptions{
			ReadBufferSize:    cfg.Transport.ReadBufferSize,
			WriteBufferSize:   cfg.Transport.WriteBufferSize,
			AllowedOrigins:    cfg.Transport.AllowedOrigins,
			EnableCompression: cfg.Transport.Compression,
			WriteTimeout:      cfg.Transport.WriteTimeout.Duration(),
			SendBuffer:        cfg.Transport.SendBuffer,
		}),
	}
	if cfg.MaxConcurrency > 0 {
		opts = append(opts, feedcast.WithMaxConcurrency(cfg.MaxConcurrency))
	}
	if cfg.Logging != nil {
		opts = append(opts, feedcast.WithLogging(*cfg.Logging))
	}
	if logger != nil {
		opts = append(opts, feedcast.WithLogger(logger))
	}
	return opts
}

// buildSource converts a single SourceConfig to an SDK Source.
func buildSource(sc SourceConfig) (feedcast.Source, error) {
	var opts []feedcast.SourceOption

	if sc.Path != "" {
		opts = append(opts, feedcast.WithPath(sc.Path))
	}
	if sc.Interval != 0 {
		opts = append(opts, feedcast.WithInterval(sc.Interval.Duration()))
	}
	if sc.XML {
		opts = append(opts, feedcast.WithXML())
	}
	if sc.Method != "" {
		opts = append(opts, feedcast.WithMethod(sc.Method))
	}
	if len(sc.Headers) > 0 {
		opts = append(opts, feedcast.WithHeaders(mapToKeyValuePairs(sc.Headers)...))
	}
	if sc.Timeout != 0 {
		opts = append(opts, feedcast.WithTimeout(sc.Timeout.Duration()))
	}
	if cmp := buildComparator(sc.Compare); cmp != nil {
		opts = append(opts, feedcast.WithCompare(cmp))
	}

	return feedcast.NewSource(sc.Type, sc.URL, opts...)
}

// buildGrid expands a GridConfig through [feedcast.NewSourceGrid].
func buildGrid(gc GridConfig) ([]feedcast.Source, error) {
	opts := []feedcast.GridOption{
		feedcast.WithURLTemplate(gc.URLTemplate),
		feedcast.WithDimensions(gc.Dimensions),
	}

	if gc.PathTemplate != "" {
		opts = append(opts, feedcast.WithGridPathTemplate(gc.PathTemplate))
	}
	if gc.Interval != 0 {
		opts = append(opts, feedcast.WithGridInterval(gc.Interval.Duration()))
	}
	if gc.XML {
		opts = append(opts, feedcast.WithGridXML())
	}
	if gc.Method != "" {
		opts = append(opts, feedcast.WithGridMethod(gc.Method))
	}
	if len(gc.Headers) > 0 {
		opts = append(opts, feedcast.WithGridHeaders(mapToKeyValuePairs(gc.Headers)...))
	}
	if gc.Timeout != 0 {
		opts = append(opts, feedcast.WithGridTimeout(gc.Timeout.Duration()))
	}
	if cmp := buildComparator(gc.Compare); cmp != nil {
		opts = append(opts, feedcast.WithGridCompare(cmp))
	}

	return feedcast.NewSourceGrid(gc.Type, opts...)
}

// mapToKeyValuePairs converts a map to a sorted slice of key-value pairs.
func mapToKeyValuePairs(m map[string]string) []string {
	// sort keys for deterministic ordering
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(m)*2)
	for _, k := range keys {
		pairs = append(pairs, k, m[k])
	}
	return pairs
}

// buildComparator converts CompareConfig to a Comparator.
// Returns nil for equal/empty configs (the SDK uses EqualComparator).
func buildComparator(cc CompareConfig) feedcast.Comparator {
	switch cc.Type {
	case "never":
		return feedcast.NeverUnchanged
	case "field":
		return feedcast.FieldComparator(cc.Paths[0])
	case "fields":
		cmps := make([]feedcast.Comparator, len(cc.Paths))
		for i, p := range cc.Paths {
			cmps[i] = feedcast.FieldComparator(p)
		}
		return feedcast.AllUnchanged(cmps...)
	default:
		return nil
	}
}
