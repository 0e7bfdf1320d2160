// handy expands keywords as they are typed.
//
//	handy run [-url URL]         Attach to a browser page and expand keywords
//	handy type [-field F] TEXT   Type TEXT into an offline document and print it
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"handy/internal/cdp"
	"handy/internal/config"
	"handy/internal/health"
	"handy/internal/host"
	"handy/internal/logging"
	"handy/internal/metrics"
	"handy/internal/session"
	"handy/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch cmd := os.Args[1]; cmd {
	case "run":
		cmdRun(os.Args[2:])
	case "type":
		cmdType(os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`handy - Inline keyword expansion

USAGE:
    handy <command> [options]

COMMANDS:
    run                 Open a browser page and expand keywords in it
    type <text>         Type text into an offline field and print the result
    help                Show this help message

RUN OPTIONS:
    -config <path>      Path to config file
    -url <url>          Page to open (default: browser.start_url)
    -metrics-addr <a>   Serve /metrics, /healthz, /livez and /readyz on this address

TYPE OPTIONS:
    -config <path>      Path to config file
    -field <kind>       textarea, input or contenteditable (default: textarea)
    -metrics            Print engine metrics after typing

Keywords are managed with handyctl.`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// setup loads the configuration and opens the logger and settings store.
func setup(configPath string) (string, *config.Config, *logging.Logger, *store.Store) {
	configPath = config.ResolvePath(configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("invalid config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fatal("%v", err)
	}

	lc, err := cfg.Logging.ToLogging()
	if err != nil {
		fatal("logging config: %v", err)
	}
	lc.Component = "handy"
	logger, err := logging.New(lc)
	if err != nil {
		fatal("opening log: %v", err)
	}
	logging.SetDefault(logger)

	st, err := store.Open(cfg.Storage.Path,
		store.WithLogger(logger.WithComponent("store")),
		store.WithBusyTimeout(time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond),
		store.WithWatchDebounce(time.Duration(cfg.Storage.WatchDebounceMs)*time.Millisecond),
	)
	if err != nil {
		fatal("opening database: %v", err)
	}
	return configPath, cfg, logger, st
}

// watchConfig applies log level changes from the config file while
// running. Other settings take effect on the next start.
func watchConfig(path string, logger *logging.Logger) (*config.Loader, error) {
	loader := config.NewLoader(path)
	if _, err := loader.Load(); err != nil {
		return nil, err
	}
	loader.OnChange(func(old, new *config.Config) {
		lc, err := new.Logging.ToLogging()
		if err != nil {
			return
		}
		if lc.Level != logger.GetLevel() {
			logger.SetLevel(lc.Level)
			logger.Info("log level changed", "level", logging.LevelString(lc.Level))
		}
		if old.Engine.FollowUpDelayMs != new.Engine.FollowUpDelayMs ||
			old.Frames != new.Frames || old.Storage != new.Storage {
			logger.Info("configuration changed; restart to apply engine settings", "path", path)
		}
	})
	if err := loader.Watch(); err != nil {
		return nil, err
	}
	go func() {
		for err := range loader.Errors() {
			logger.Warn("config reload failed", "error", err)
		}
	}()
	return loader, nil
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	pageURL := fs.String("url", "", "Page to open")
	metricsAddr := fs.String("metrics-addr", "", "Serve metrics and health endpoints on this address")
	fs.Parse(args)

	path, cfg, logger, st := setup(*configPath)
	defer logger.Close()
	defer st.Close()

	if loader, err := watchConfig(path, logger); err != nil {
		logger.Warn("config hot reload unavailable", "error", err)
	} else {
		defer loader.Close()
	}

	if *pageURL == "" {
		*pageURL = cfg.Browser.StartURL
	}
	if *metricsAddr == "" {
		*metricsAddr = cfg.Metrics.Addr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := st.Watch(ctx); err != nil {
		logger.Warn("watching database failed; changes from other processes are not picked up", "error", err)
	}

	checker := health.NewChecker()
	checker.RegisterFunc("store", true, health.StoreCheck(st))
	if *metricsAddr != "" {
		srv := serveHTTP(*metricsAddr, checker, logger.WithComponent("http"))
		defer srv.Close()
	}

	b, err := cdp.Launch(ctx, cdp.Config{
		RemoteURL: cfg.Browser.ControlURL,
		Headful:   !cfg.Browser.Headless,
		Logger:    logger.WithComponent("cdp"),
	})
	if err != nil {
		fatal("%v", err)
	}
	defer b.Close()

	doc, err := b.Open(ctx, *pageURL)
	if err != nil {
		fatal("%v", err)
	}

	h, err := host.Attach(ctx, doc, host.Options{
		Store:   st,
		Config:  cfg,
		Logger:  logger.WithComponent("host"),
		Metrics: metrics.GetMetrics(),
	})
	if err != nil {
		fatal("attaching to page: %v", err)
	}
	defer h.Close()

	checker.RegisterFunc("browser", false, health.PingCheck("browser", doc.Ping))
	checker.RegisterFunc("session", true, health.SessionCheck(func() session.State {
		state := session.StateClosed
		h.Do(func() { state = h.Session().State() })
		return state
	}))
	checker.SetReady(true)
	// Runs before the host closes, so no check reaches a closed session.
	defer func() {
		checker.SetReady(false)
		checker.Unregister("session")
		checker.Unregister("browser")
	}()

	fmt.Printf("Expanding keywords in %s (Ctrl-C to stop)\n", doc.URL())
	<-ctx.Done()
	fmt.Println("\nShutting down...")
}

// serveHTTP serves /metrics and the health endpoints.
func serveHTTP(addr string, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.GetMetrics().Registry().HTTPHandler())
	checker.Mount(mux)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)
	return srv
}

func cmdType(args []string) {
	fs := flag.NewFlagSet("type", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	field := fs.String("field", fieldTextarea, "textarea, input or contenteditable")
	showMetrics := fs.Bool("metrics", false, "Print engine metrics after typing")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: handy type [-field textarea|input|contenteditable] <text>")
		os.Exit(1)
	}

	_, cfg, logger, st := setup(*configPath)
	defer logger.Close()
	defer st.Close()

	m := metrics.NewHandyMetrics(metrics.NewRegistry("handy", "type"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := typeText(ctx, typeOptions{
		Store:   st,
		Config:  cfg,
		Field:   *field,
		Text:    fs.Arg(0),
		Logger:  logger.WithComponent("type"),
		Metrics: m,
	})
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(out)

	if *showMetrics {
		if err := m.Registry().WriteJSON(os.Stdout); err != nil {
			fatal("%v", err)
		}
	}
}
