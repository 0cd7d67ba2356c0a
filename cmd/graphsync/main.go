// Package main provides the graphsync operator CLI.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/syntrixbase/graphsync/internal/config"
	"github.com/syntrixbase/graphsync/internal/dispatcher"
	"github.com/syntrixbase/graphsync/internal/journal"
	"github.com/syntrixbase/graphsync/internal/logging"
	"github.com/syntrixbase/graphsync/internal/metrics"
	"github.com/syntrixbase/graphsync/internal/reindex"
	"github.com/syntrixbase/graphsync/internal/search/memory"
	"github.com/syntrixbase/graphsync/pkg/graph"
	"github.com/syntrixbase/graphsync/pkg/graph/memgraph"
	"github.com/syntrixbase/graphsync/pkg/graphsync"
)

// demoSpec is used by -demo when no index spec is configured.
const demoSpec = "people:Person(name,age,born),movies:Movie(title,released)"

// Version is the CLI version (can be overridden at build time).
var Version = "dev"

type options struct {
	configDir string
	validate  bool
	journal   bool
	purge     bool
	demo      bool
	dryRun    bool
	metrics   bool
	version   bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("graphsync", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configDir, "config", "config", "Configuration directory")
	fs.BoolVar(&o.validate, "validate", false, "Parse the configured index spec and print the mapping")
	fs.BoolVar(&o.journal, "journal", false, "List failed batches from the journal")
	fs.BoolVar(&o.purge, "purge", false, "Clear the journal")
	fs.BoolVar(&o.demo, "demo", false, "Run a sample transaction and re-index against an in-memory graph")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Use the in-memory search engine in demo mode")
	fs.BoolVar(&o.metrics, "metrics", false, "Serve Prometheus metrics while running demo mode")
	fs.BoolVar(&o.version, "version", false, "Print the version")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if !o.validate && !o.journal && !o.purge && !o.demo && !o.version {
		o.validate = true
	}
	return o, nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.version {
		fmt.Fprintf(stdout, "graphsync version %s\n", Version)
		return nil
	}

	cfg, err := config.LoadConfig(o.configDir)
	if err != nil {
		return err
	}
	if o.demo && cfg.Index.Spec == "" && cfg.Index.SpecFile == "" {
		cfg.Index.Spec = demoSpec
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Shutdown()

	if o.validate {
		if err := validate(cfg, stdout); err != nil {
			return err
		}
	}
	if o.journal || o.purge {
		if err := inspectJournal(cfg, o.purge, stdout); err != nil {
			return err
		}
	}
	if o.demo {
		return runDemo(ctx, cfg, o, stdout)
	}
	return nil
}

func validate(cfg *config.Config, stdout io.Writer) error {
	m, err := cfg.Index.Mapping()
	if err != nil {
		return err
	}
	if m.Len() == 0 {
		fmt.Fprintln(stdout, "No indices configured")
		return nil
	}
	fmt.Fprintf(stdout, "%d label(s) mapped to %d index(es)\n", m.Len(), len(m.Indices()))
	fmt.Fprintln(stdout, m.String())
	return nil
}

func inspectJournal(cfg *config.Config, purge bool, stdout io.Writer) error {
	if !cfg.Journal.Enabled {
		return fmt.Errorf("journal is disabled")
	}
	j, err := journal.Open(journal.Options{Path: cfg.Journal.Path, Logger: slog.Default()})
	if err != nil {
		return err
	}
	defer j.Close()

	if purge {
		n, err := j.Purge()
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Purged %d entries\n", n)
		return nil
	}

	entries, err := j.List(0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "Journal is empty")
		return nil
	}
	enc := json.NewEncoder(stdout)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

func runDemo(ctx context.Context, cfg *config.Config, o options, stdout io.Writer) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g := memgraph.New(cfg.Database)
	opts := []graphsync.Option{
		graphsync.WithScanner(g),
		graphsync.WithOnComplete(printResult(stdout)),
	}
	if o.dryRun {
		opts = append(opts, graphsync.WithClient(memory.New()))
	}

	var srv *http.Server
	if o.metrics || cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m, err := metrics.NewPrometheus(reg)
		if err != nil {
			return err
		}
		opts = append(opts, graphsync.WithMetrics(m))
		srv = serveMetrics(cfg.Metrics, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	ext, err := graphsync.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Dispatch.Timeout)
		defer cancel()
		if err := ext.Close(closeCtx); err != nil {
			slog.Error("Failed to close extension", "error", err)
		}
	}()
	g.RegisterListener(ext)

	fmt.Fprintln(stdout, "Running sample transaction")
	if err := seedDemo(ctx, g); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "Re-indexing all mapped labels")
	res, err := ext.ReindexAll(ctx, reindex.Options{})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Re-index done: %d batches, %d documents\n", res.Batches, res.Documents)
	fmt.Fprintf(stdout, "Listener: %s\n", ext.Stats())

	if srv != nil {
		fmt.Fprintf(stdout, "Serving metrics on %s%s, interrupt to exit\n", srv.Addr, cfg.Metrics.Path)
		<-ctx.Done()
	}
	return nil
}

func seedDemo(ctx context.Context, g *memgraph.Graph) error {
	return g.Update(ctx, func(tx *memgraph.Tx) error {
		keanu, err := tx.CreateNode("Person")
		if err != nil {
			return err
		}
		if err := keanu.SetProperty("name", graph.String("Keanu Reeves")); err != nil {
			return err
		}
		if err := keanu.SetProperty("born", graph.Date(time.Date(1964, 9, 2, 0, 0, 0, 0, time.UTC))); err != nil {
			return err
		}

		matrix, err := tx.CreateNode("Movie")
		if err != nil {
			return err
		}
		if err := matrix.SetProperty("title", graph.String("The Matrix")); err != nil {
			return err
		}
		return matrix.SetProperty("released", graph.Int(1999))
	})
}

func printResult(stdout io.Writer) func(dispatcher.Result) {
	return func(r dispatcher.Result) {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(stdout, "Batch %s (%s, %d actions, %s): %s\n", r.ID, r.Mode, len(r.Actions), r.Duration.Round(time.Microsecond), status)
		for _, a := range r.Actions {
			fmt.Fprintf(stdout, "  %s\n", a)
		}
	}
}

func serveMetrics(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}
