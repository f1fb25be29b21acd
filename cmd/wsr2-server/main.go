// ABOUTME: Entry point for the WSR2 sample server
// ABOUTME: Parses CLI flags and starts the server application
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

	"github.com/Resonate-Protocol/wsr2-go/internal/config"
	"github.com/Resonate-Protocol/wsr2-go/internal/server"
	"github.com/Resonate-Protocol/wsr2-go/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	port        = flag.Int("port", 3000, "WebSocket server port")
	path        = flag.String("path", "/", "WebSocket endpoint path")
	name        = flag.String("name", "", "Server friendly name (default: hostname-wsr2-server)")
	configFile  = flag.String("config", "", "TOML config file")
	logFile     = flag.String("log-file", "wsr2-server.log", "Log file path")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	useTUI      = flag.Bool("tui", false, "Show the status TUI instead of streaming logs")
	dropFirst   = flag.Int("drop-first", 0, "Leave the first N correlated requests unanswered")
	metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9101")
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

	// Set up logging (file, plus console unless the TUI owns the terminal)
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer f.Close()

	var out io.Writer = io.MultiWriter(os.Stdout, f)
	if *useTUI {
		out = f
	}
	log.SetOutput(out)

	// Determine server name
	serverName := cfg.Server.Name
	if serverName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		serverName = fmt.Sprintf("%s-wsr2-server", hostname)
	}

	log.Printf("Starting %s server: %s on port %d", version.String(), serverName, cfg.Server.Port)
	if cfg.Log.Level == "debug" {
		log.Printf("Debug logging enabled")
	}
	log.Printf("Logging to: %s", *logFile)
	if !*useTUI {
		log.Printf("Press Ctrl-C to stop")
	}

	srv := server.New(server.Config{
		Port:          cfg.Server.Port,
		Path:          cfg.Server.Path,
		Name:          serverName,
		EnableMDNS:    cfg.Server.MDNS,
		UseTUI:        *useTUI,
		AccountID:     cfg.Server.AccountID,
		DropFirst:     cfg.Server.DropFirst,
		LoggerFactory: cfg.Log.LoggerFactory(out),
	})

	if cfg.Metrics.Addr != "" {
		if err := srv.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		go serveMetrics(cfg.Metrics.Addr)
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Printf("Received %v signal, shutting down gracefully...", sig)
		srv.Stop()
	}()

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	stats := srv.Stats()
	log.Printf("Server stopped: %d requests, %d answered, %d dropped", stats.Requests, stats.Answered, stats.Dropped)
}

// applyFlags lets explicitly set flags override the loaded config
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "path":
			cfg.Server.Path = *path
		case "name":
			cfg.Server.Name = *name
		case "no-mdns":
			cfg.Server.MDNS = !*noMDNS
		case "drop-first":
			cfg.Server.DropFirst = *dropFirst
		case "debug":
			if *debug {
				cfg.Log.Level = "debug"
			}
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		}
	})
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
