// Command hostcheck verifies that the browser, the relay and the engine
// binary are reachable before a game is started.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"

	"github.com/park285/chess-autopilot/internal/domhost"
	"github.com/park285/chess-autopilot/internal/relay"
)

type check struct {
	name string
	run  func(ctx context.Context) (string, error)
}

func main() {
	chromeWS := os.Getenv("CHROME_WS_URL")
	relayURL := os.Getenv("RELAY_BASE_URL")
	stockfish := os.Getenv("STOCKFISH_PATH")

	checks := []check{
		{"stockfish", func(context.Context) (string, error) {
			if stockfish == "" {
				return "", fmt.Errorf("STOCKFISH_PATH not set")
			}
			path, err := exec.LookPath(stockfish)
			return path, err
		}},
		{"browser", func(ctx context.Context) (string, error) {
			if chromeWS == "" {
				return "skipped (CHROME_WS_URL not set)", nil
			}
			host, err := domhost.NewLichess(ctx, domhost.WithRemoteAllocator(chromeWS))
			if err != nil {
				return "", err
			}
			defer host.Close()
			box, err := host.ReadBoardBoundingBox(ctx)
			if err != nil {
				return "reachable, no board on the current tab", nil
			}
			ledger, _ := host.ReadMoveLedger(ctx)
			return fmt.Sprintf("board %.0fx%.0f, %d half-moves", box.Width, box.Height, len(ledger)), nil
		}},
		{"relay", func(ctx context.Context) (string, error) {
			if relayURL == "" {
				return "skipped (RELAY_BASE_URL not set)", nil
			}
			c := relay.NewClient(relayURL, relay.WithTimeout(5*time.Second), relay.WithRetry(1))
			return "healthy", c.Health(ctx)
		}},
	}

	failed := false
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		detail, err := c.run(ctx)
		cancel()
		if err != nil {
			failed = true
			log.Printf("%-9s FAIL %v", c.name, err)
			continue
		}
		log.Printf("%-9s ok   %s", c.name, detail)
	}
	if failed {
		os.Exit(1)
	}
}
