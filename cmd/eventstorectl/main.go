// eventstorectl is the control CLI for the event store.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"eventstore/internal/config"
	"eventstore/internal/event"
	"eventstore/internal/health"
	"eventstore/internal/logging"
	"eventstore/internal/metrics"
	"eventstore/internal/segment"
	"eventstore/internal/sentinel"
	"eventstore/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	dataDir    = flag.String("data", "", "override data directory")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "append":
		cmdAppend(args)
	case "query":
		cmdQuery(args)
	case "get":
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr, "Usage: eventstorectl get <event-id>")
			os.Exit(1)
		}
		cmdGet(args[0])
	case "status":
		cmdStatus()
	case "verify":
		cmdVerify()
	case "cleanup":
		cmdCleanup()
	case "watch":
		cmdWatch()
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `eventstorectl - Control utility for the event store

Usage: eventstorectl [options] <command> [args]

Commands:
  append          Append an event to the chain
  query           Query events, most recent first
  get <id>        Fetch a single event by id
  status          Show store statistics
  verify          Verify the integrity of the full chain
  cleanup         Remove segments past the retention window
  watch           Watch the data directory for tampering
  help            Show this help message

Options:
  -config <path>  Path to config file (default: ~/.eventstore/config.toml)
  -data <dir>     Override the data directory`)
}

func openStore() (*store.Store, *config.Config) {
	cfg := loadConfig()

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(log)

	s, err := store.Open(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	return s, cfg
}

func loadConfig() *config.Config {
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	return cfg
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = format
	if cfg.Logging.Output != "" {
		logCfg.Output = cfg.Logging.Output
	}
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	return logging.New(logCfg)
}

func cmdAppend(args []string) {
	fs := flag.NewFlagSet("append", flag.ExitOnError)
	category := fs.String("category", "system", "event category")
	action := fs.String("action", "", "what happened (required)")
	actor := fs.String("actor", "", "who or what caused it (required)")
	target := fs.String("target", "", "what was affected")
	result := fs.String("result", "success", "success, failure, or pending")
	errMsg := fs.String("error", "", "error message if failed")
	data := fs.String("data", "", "JSON object with event payload")
	fs.Parse(args)

	e := &event.Event{
		Category: event.Category(*category),
		Action:   *action,
		Actor:    *actor,
		Target:   *target,
		Result:   event.Result(*result),
		Error:    *errMsg,
	}
	if *data != "" {
		if err := json.Unmarshal([]byte(*data), &e.Data); err != nil {
			fmt.Fprintf(os.Stderr, "Error: -data must be a JSON object: %v\n", err)
			os.Exit(2)
		}
	}

	s, _ := openStore()
	defer s.Close()

	persisted, err := s.Append(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error appending event: %v\n", err)
		os.Exit(1)
	}
	printJSON(persisted)
}

func cmdQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	category := fs.String("category", "", "filter by exact category")
	action := fs.String("action", "", "filter by action substring")
	actor := fs.String("actor", "", "filter by exact actor")
	target := fs.String("target", "", "filter by exact target")
	start := fs.String("start", "", "inclusive lower timestamp bound")
	end := fs.String("end", "", "inclusive upper timestamp bound")
	limit := fs.Int("limit", 100, "maximum events to return")
	offset := fs.Int("offset", 0, "events to skip")
	fs.Parse(args)

	s, _ := openStore()
	defer s.Close()

	events, err := s.Query(segment.Filter{
		Category:  event.Category(*category),
		Action:    *action,
		Actor:     *actor,
		Target:    *target,
		StartTime: *start,
		EndTime:   *end,
	}, *limit, *offset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error querying events: %v\n", err)
		os.Exit(1)
	}
	printJSON(events)
}

func cmdGet(id string) {
	s, _ := openStore()
	defer s.Close()

	e, err := s.GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Event not found: %s\n", id)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Error fetching event: %v\n", err)
		os.Exit(1)
	}
	printJSON(e)
}

func cmdStatus() {
	s, _ := openStore()
	defer s.Close()

	status, err := s.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error computing status: %v\n", err)
		os.Exit(1)
	}
	printJSON(status)
}

func cmdVerify() {
	s, _ := openStore()
	defer s.Close()

	result, err := s.Verify()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error verifying chain: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(result.String())
	if !result.Valid {
		os.Exit(1)
	}
}

func cmdCleanup() {
	s, cfg := openStore()
	defer s.Close()

	removed, err := s.Cleanup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error during cleanup: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed %d segment(s) past the %d-day retention window\n",
		removed, cfg.Storage.RetentionDays)
}

func cmdWatch() {
	cfg := loadConfig()

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}

	watch, err := sentinel.New(cfg.Storage.DataDir, cfg.Storage.FilePrefix, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating sentinel: %v\n", err)
		os.Exit(1)
	}
	if err := watch.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting sentinel: %v\n", err)
		os.Exit(1)
	}
	defer watch.Stop()

	if cfg.Metrics.Enabled {
		go serveObservability(cfg, log)
	}

	fmt.Printf("watching %s for segment tampering (Ctrl-C to stop)\n", cfg.Storage.DataDir)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case alert, ok := <-watch.Alerts():
			if !ok {
				return
			}
			printJSON(alert)
		case err := <-watch.Errors():
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case <-sigs:
			return
		}
	}
}

// serveObservability exposes metrics and health probes while a long-running
// command is active.
func serveObservability(cfg *config.Config, log *logging.Logger) {
	checker := health.NewChecker()
	checker.RegisterFunc("data_dir", true, health.DataDirCheck(cfg.Storage.DataDir))
	checker.SetReady(true)

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Default().HTTPHandler())
	mux.Handle("/healthz", checker.HealthHandler())
	mux.Handle("/livez", checker.LivenessHandler())
	mux.Handle("/readyz", checker.ReadinessHandler())

	log.Info("serving metrics and health probes", "addr", cfg.Metrics.ListenAddr)
	if err := http.ListenAndServe(cfg.Metrics.ListenAddr, mux); err != nil {
		log.Error("observability endpoint failed", "error", err)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
}
