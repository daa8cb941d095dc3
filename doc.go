// Package feedcast polls HTTP feeds and pushes every change to websocket
// clients in real time.
//
// Each registered [Source] is polled on its own interval and exposed at its
// own websocket route. When a poll yields a payload its [Comparator] reports
// as changed, the payload is broadcast to every client connected on that
// route. Clients that connect later receive the last payload straight away.
// Polling stops entirely while no client is connected and resumes with the
// first connection.
//
// # Quick Start
//
// Register sources and broadcast with graceful shutdown:
//
//	src, _ := feedcast.NewSource("news", "https://example.com/news.json",
//	    feedcast.WithCompare(feedcast.FieldComparator("0.pubDate")),
//	)
//	srv, _ := feedcast.New()
//	_ = srv.Sources(src)
//
//	// Set up graceful shutdown on SIGINT/SIGTERM
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	srv.Broadcast(ctx, 8080) // blocks until context is cancelled
//
// Clients connect with any websocket client to ws://localhost:8080/news and
// receive each payload as a JSON text message.
//
// # Configuration
//
// Server options:
//
//	srv, err := feedcast.New(
//	    feedcast.WithDefaultInterval(5 * time.Second),
//	    feedcast.WithHeartbeat(true),
//	    feedcast.WithStats(true),
//	    feedcast.WithRequestOptions(feedcast.RequestOptions{UserAgent: "feedcast"}),
//	)
//
// Source options:
//
//	src, err := feedcast.NewSource("bbc", "https://feeds.bbci.co.uk/news/rss.xml",
//	    feedcast.WithXML(),
//	    feedcast.WithPath("news/bbc"),
//	    feedcast.WithInterval(30 * time.Second),
//	    feedcast.WithCompare(feedcast.FieldComparator("rss.channel.item.0.guid.#text")),
//	)
//
// # Comparators
//
// A comparator decides whether a poll changed anything. Only a true result
// ("unchanged") suppresses a broadcast. Built-ins:
//
//   - [EqualComparator]: deep equality of the whole payload, the default
//   - [FieldComparator]: equality of one field located by a dot path
//   - [NeverUnchanged]: broadcast on every successful poll
//   - [AllUnchanged]: unchanged only when all given comparators agree
//
// # Architecture
//
// feedcast consists of several internal packages (under internal/):
//
//   - internal/activity: Connection counting and the idle signal
//   - internal/interval: One shared timer per interval, paused while idle
//   - internal/poller: Fetching, decoding, change detection and fan-out
//   - internal/server: Websocket transport, heartbeat and status API
//   - internal/store: Session records in memory or Redis
//   - internal/metrics: Prometheus metrics
//   - dashboard: Embedded demo page
//
// The internal packages are not part of the public API and may change
// without notice.
package feedcast
