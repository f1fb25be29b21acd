// ABOUTME: Entry point for the WSR2 demo client
// ABOUTME: Parses CLI flags, discovers a server and runs the requester
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/wsr2-go/internal/app"
	"github.com/Resonate-Protocol/wsr2-go/internal/config"
	"github.com/Resonate-Protocol/wsr2-go/internal/discovery"
	"github.com/Resonate-Protocol/wsr2-go/internal/ui"
	"github.com/Resonate-Protocol/wsr2-go/internal/version"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	serverURL   = flag.String("server", "", "Server WebSocket URL, e.g. ws://localhost:3000/ (skip mDNS)")
	configFile  = flag.String("config", "", "TOML config file")
	interval    = flag.Duration("interval", 0, "Interval between requests (default from config: 2s)")
	logFile     = flag.String("log-file", "wsr2-client.log", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9100")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(cfg)

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var out io.Writer = f
	if !useTUI {
		// Streaming logs mode: log to both stdout and file
		out = io.MultiWriter(os.Stdout, f)
	}
	log.SetOutput(out)
	loggerFactory := cfg.Log.LoggerFactory(out)

	log.Printf("Starting %s client", version.String())

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	// TUI setup
	var tuiProg *tea.Program
	var controls *ui.Controls

	if useTUI {
		controls = ui.NewControls()
		tuiProg, err = ui.Run(controls)
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go tuiProg.Run()
	}

	// Handle server discovery if no server URL is configured
	url := cfg.Client.URL
	if url == "" {
		log.Printf("Starting server discovery...")
		disc := discovery.NewManager(discovery.Config{LoggerFactory: loggerFactory})
		disc.Browse()

		select {
		case server := <-disc.Servers():
			url = server.URL()
			log.Printf("Discovered server %s at %s", server.Name, url)
		case <-time.After(10 * time.Second):
			if tuiProg != nil {
				tuiProg.Quit()
			}
			log.Fatalf("No server found after 10 seconds")
		}
		disc.Stop()
	}

	clientConfig := cfg.Client.WSR2()
	clientConfig.Registerer = prometheus.DefaultRegisterer

	requester := app.New(app.Config{
		ServerURL:     url,
		Interval:      cfg.Client.SendInterval,
		Client:        clientConfig,
		LoggerFactory: loggerFactory,
		OnStatus: func(msg ui.StatusMsg) {
			if tuiProg != nil {
				tuiProg.Send(msg)
			}
		},
	})

	if err := requester.Start(); err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}

	if controls != nil {
		go handleControls(requester, controls)
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if controls != nil {
		select {
		case <-controls.Quit:
			log.Printf("Received quit signal from TUI")
		case <-sigChan:
			log.Printf("Shutdown signal received")
		}
	} else {
		<-sigChan
		log.Printf("Shutdown signal received")
	}

	requester.Stop()
	if tuiProg != nil {
		tuiProg.Quit()
	}

	stats := requester.Stats()
	log.Printf("Client stopped: sent %d, answered %d, pushes %d, reopens %d",
		stats.Sent, stats.Answered, stats.Pushes, stats.Reopens)
}

// applyFlags lets explicitly set flags override the loaded config
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.Client.URL = *serverURL
		case "interval":
			cfg.Client.SendInterval = *interval
		case "debug":
			if *debug {
				cfg.Log.Level = "debug"
			}
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		}
	})
}

// handleControls processes user actions from the TUI
func handleControls(requester *app.Requester, controls *ui.Controls) {
	for range controls.SendNow {
		requester.SendNow()
	}
}

// serveMetrics exposes the default Prometheus registry
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Printf("Serving metrics on %s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("Metrics server error: %v", err)
	}
}
