// Standalone mock feed server for trying the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/feedcast serve -c example/config.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jpalmerr/feedcast/example/mockfeed"
)

func main() {
	fmt.Println("Mock feed server starting on :9999")
	fmt.Println("A new article is published every 15-40 seconds")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	if err := mockfeed.ListenAndServe(":9999"); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
