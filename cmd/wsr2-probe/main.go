// ABOUTME: One-shot probe for a WSR2 server
// ABOUTME: Sends N correlated requests and reports round-trip times
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/Resonate-Protocol/wsr2-go/internal/config"
	"github.com/Resonate-Protocol/wsr2-go/pkg/wsr2"
)

var (
	serverURL  = flag.String("server", "ws://localhost:3000/", "Server WebSocket URL")
	configFile = flag.String("config", "", "TOML config file")
	count      = flag.Int("count", 10, "Number of requests to send")
	timeout    = flag.Duration("timeout", 30*time.Second, "Give up waiting for responses after this long")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	url := *serverURL
	if cfg.Client.URL != "" && !isFlagSet("server") {
		url = cfg.Client.URL
	}

	fmt.Println("=== WSR2 Probe ===")
	fmt.Printf("Sending %d requests to %s\n\n", *count, url)

	clientConfig := cfg.Client.WSR2()
	clientConfig.LoggerFactory = cfg.Log.LoggerFactory(os.Stderr)
	client := wsr2.New(url, clientConfig)
	defer client.Close()

	var (
		mu   sync.Mutex
		rtts []time.Duration
		done = make(chan struct{})
	)

	opened := make(chan struct{})
	var openOnce sync.Once
	client.OnOpen(func() { openOnce.Do(func() { close(opened) }) })
	client.OnMessage(func(m wsr2.Message) {
		log.Printf("Server message: %s", m.Data)
	})
	if err := client.Connect(); err != nil {
		log.Fatalf("Connect failed: %v", err)
	}

	deadline := time.After(*timeout)

	select {
	case <-opened:
	case <-deadline:
		log.Fatalf("Could not connect to %s within %s", url, *timeout)
	}

	start := time.Now()
	for i := 0; i < *count; i++ {
		sent := time.Now()
		err := client.Send(map[string]any{"action": "account", "probe": i}, func(resp wsr2.Response) {
			rtt := time.Since(sent)
			log.Printf("Response id = %d in %s: %s", resp.ID, rtt, resp.Data)

			mu.Lock()
			defer mu.Unlock()
			rtts = append(rtts, rtt)
			if len(rtts) == *count {
				close(done)
			}
		})
		if err != nil {
			log.Fatalf("Send failed: %v", err)
		}
	}

	select {
	case <-done:
	case <-deadline:
	}

	mu.Lock()
	results := slices.Clone(rtts)
	mu.Unlock()

	stats := client.Stats()
	fmt.Println()
	fmt.Printf("Answered: %d/%d in %s (pending %d, queued %d)\n",
		len(results), *count, time.Since(start).Round(time.Millisecond), stats.Pending, stats.Queued)

	if len(results) == 0 {
		os.Exit(1)
	}

	slices.Sort(results)
	var total time.Duration
	for _, rtt := range results {
		total += rtt
	}
	fmt.Printf("RTT min/avg/max: %s / %s / %s\n",
		results[0], total/time.Duration(len(results)), results[len(results)-1])

	if len(results) < *count {
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
