package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/feedcast"
	"github.com/jpalmerr/feedcast/example/mockfeed"
)

func main() {
	go func() {
		if err := mockfeed.ListenAndServe(":9999"); err != nil {
			slog.Error("mock feed server error", "error", err)
		}
	}()
	time.Sleep(100 * time.Millisecond)

	// broadcast only when the newest article changes
	news, err := feedcast.NewSource("json-example", "http://localhost:9999/news.json",
		feedcast.WithInterval(time.Second),
		feedcast.WithCompare(feedcast.FieldComparator("0.pubDate")),
	)
	if err != nil {
		slog.Error("failed to create source", "error", err)
		os.Exit(1)
	}

	rss, err := feedcast.NewSource("rss", "http://localhost:9999/rss.xml",
		feedcast.WithXML(),
		feedcast.WithPath("news/rss"),
		feedcast.WithCompare(feedcast.FieldComparator("rss.channel.item.0.guid")),
	)
	if err != nil {
		slog.Error("failed to create source", "error", err)
		os.Exit(1)
	}

	// grid API: one source per city from one declaration
	weather, err := feedcast.NewSourceGrid("weather",
		feedcast.WithURLTemplate("http://localhost:9999/weather?city={{.city}}"),
		feedcast.WithGridPathTemplate("weather/{{.city}}"),
		feedcast.WithDimensions(map[string][]string{
			"city": {"london", "paris", "tokyo"},
		}),
		feedcast.WithGridInterval(5*time.Second),
	)
	if err != nil {
		slog.Error("failed to create source grid", "error", err)
		os.Exit(1)
	}

	srv, err := feedcast.New(
		feedcast.WithDefaultInterval(2*time.Second),
		feedcast.WithHeartbeat(true),
		feedcast.WithStats(true),
		feedcast.WithTitle("feedcast demo"),
		feedcast.WithUpdateCallback(func(u feedcast.Update) {
			slog.Info("broadcast", "source", u.Source, "subscribers", u.Subscribers, "bytes", len(u.Payload))
		}),
	)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	if err := srv.Sources(append([]feedcast.Source{news, rss}, weather...)...); err != nil {
		slog.Error("failed to register sources", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  feedcast demo")
	fmt.Println()
	fmt.Println("  Dashboard:  http://localhost:8080")
	fmt.Println("  Websockets: ws://localhost:8080/json-example")
	fmt.Println("              ws://localhost:8080/news/rss")
	fmt.Println("              ws://localhost:8080/weather/{london,paris,tokyo}")
	fmt.Println("  Metrics:    http://localhost:8080/metrics")
	fmt.Println()
	fmt.Println("  Polling starts with the first client. Press Ctrl+C to stop.")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Broadcast(ctx, 8080); err != nil {
		slog.Error("feedcast error", "error", err)
		os.Exit(1)
	}
}
