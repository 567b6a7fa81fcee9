package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"tokenizerd/pkg/cache"
	"tokenizerd/pkg/config"
	"tokenizerd/pkg/encoder"
	"tokenizerd/pkg/mcp"
	"tokenizerd/pkg/metrics"
	"tokenizerd/pkg/registry"
	"tokenizerd/pkg/storage"
)

// runServe handles the serve subcommand
func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to config file (optional; defaults apply without one)")
	transport := fs.String("transport", "", "Transport type: stdio or sse (overrides config)")
	port := fs.Int("port", 0, "HTTP port for sse transport (overrides config)")
	logLevel := fs.String("loglevel", "", "Log level (debug, info, warn, error; overrides config)")
	metricsAddr := fs.String("metrics", "", "Prometheus listen address, e.g. localhost:9090 (disabled by default)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: tokenizerd serve [options]

Start an MCP (Model Context Protocol) tokenizer server.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # Start with stdio transport (for MCP clients)
  tokenizerd serve

  # Start with SSE transport on port 8080 and a persistent count cache
  tokenizerd serve -config config.yaml -transport sse -port 8080

Available MCP Tools:
  initialize_tokenizer  Install the tokenizer for a named scheme
  count_tokens          Count tokens with the active tokenizer
  reset_tokenizer       Clear the active tokenizer
  get_status            Report registry, cache and server state
  list_schemes          List supported encoding schemes
  chunk_text            Split text into token-budgeted chunks
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	exitCode := doServe(*configFile, *transport, *port, *logLevel, *metricsAddr, *pprofAddr, os.Stdout, os.Stderr)
	os.Exit(exitCode)
}

// doServe is the testable implementation of the serve subcommand.
// Returns exit code (0 = success, 1 = error).
func doServe(configPath, transport string, port int, logLevel, metricsAddr, pprofAddr string, stdout, stderr io.Writer) int {
	// Setup logger
	log := logrus.New()
	log.SetOutput(stderr) // MCP stdio transport owns stdout, logs go to stderr
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	// Load config; serving without a config file runs on built-in defaults
	appCfg := &config.AppConfig{}
	if configPath != "" {
		loaded, err := loadConfig(configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return 1
		}
		appCfg = loaded
	}

	warnings, err := appCfg.Validate()
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 1
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	// CLI flags override config
	if transport != "" {
		appCfg.Server.Transport = transport
	}
	if port != 0 {
		appCfg.Server.Port = port
	}
	levelStr := appCfg.LogLevel
	if logLevel != "" {
		levelStr = logLevel
	}
	if level, err := logrus.ParseLevel(levelStr); err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", levelStr, err)
	} else {
		log.SetLevel(level)
	}

	if pprofAddr != "" {
		runtime.SetBlockProfileRate(1000)
		runtime.SetMutexProfileFraction(1000)
	}
	startPprof(pprofAddr, log)

	// Metrics are opt-in: without a listen address no collector is registered
	// and the registry records nothing.
	var collector *metrics.Collector
	if metricsAddr != "" {
		promReg := prometheus.NewRegistry()
		collector = metrics.NewCollector(promReg, "tokenizerd")
		startMetrics(metricsAddr, promReg, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Count cache backend
	var countCache registry.CountCache
	closeCache := func() {}
	switch appCfg.Cache.Backend {
	case config.CacheBackendMemory:
		memCache, err := cache.NewMemoryCache(appCfg.Cache.MaxEntries)
		if err != nil {
			fmt.Fprintf(stderr, "Error creating memory cache: %v\n", err)
			return 1
		}
		countCache = memCache
		closeCache = memCache.Close
	case config.CacheBackendBadger:
		store, err := storage.NewBadgerCache(appCfg.Cache.StateDir, log.WithField("component", "count_cache"))
		if err != nil {
			fmt.Fprintf(stderr, "Error opening count cache: %v\n", err)
			return 1
		}
		go store.RunGC(ctx, appCfg.Cache.GCInterval)
		countCache = store
		closeCache = func() {
			if err := store.Close(); err != nil {
				log.Errorf("Error closing count cache: %v", err)
			}
		}
	case config.CacheBackendNone:
		log.Info("Count cache disabled, every count hits the encoder")
	}
	defer closeCache()

	reg := registry.NewRegistry(encoder.NewTiktokenResolver(), countCache, collector, log)

	// Boot initialization is best-effort: on failure the registry serves empty
	if appCfg.DefaultScheme != "" {
		schemeName := appCfg.DefaultScheme
		if err := reg.Initialize(&schemeName); err != nil {
			log.Warnf("Boot initialization of scheme %q failed (status %d): %v", schemeName, registry.StatusOf(err), err)
		}
	}

	// Create and run MCP server
	serverCfg := &mcp.ServerConfig{
		AppConfig:  appCfg,
		ConfigPath: configPath,
		Transport:  appCfg.Server.Transport,
		Port:       appCfg.Server.Port,
		Registry:   reg,
		Cache:      countCache,
		Logger:     log,
	}

	srv, err := mcp.NewServer(serverCfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error creating MCP server: %v\n", err)
		return 1
	}

	// Channel to listen for OS signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)

		shutCtx, cancelShut := context.WithTimeout(context.Background(), 10*time.Second)
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Errorf("Shutdown error: %v", err)
		}
		cancelShut()
		cancel()

		if appCfg.Server.Transport == config.TransportStdio {
			// ServeStdio returns only when stdin closes, so exit here.
			closeCache()
			os.Exit(0)
		}

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	log.Infof("Starting MCP server (transport: %s)", appCfg.Server.Transport)

	if err := srv.Run(); err != nil {
		if errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
			log.Info("MCP server stopped")
			return 0
		}
		fmt.Fprintf(stderr, "MCP server error: %v\n", err)
		return 1
	}

	log.Info("MCP server stopped")
	return 0
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// startMetrics starts the Prometheus metrics listener if addr is non-empty.
func startMetrics(addr string, promReg *prometheus.Registry, log *logrus.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	go func() {
		log.Infof("Starting metrics server at http://%s/metrics", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server error: %v", err)
		}
	}()
}
