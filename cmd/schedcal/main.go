package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"schedcal/internal/calendar"
	"schedcal/internal/config"
	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
	"schedcal/internal/merge"
	"schedcal/internal/model"
	"schedcal/internal/schedule"
	"schedcal/internal/store"
	"schedcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	month      string
	importICS  string
	icsCache   string
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	level, _ := appLog.ParseLevel(conf.LogLevel)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)

	appLog.Info("schedcal starting",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"document", conf.DocumentPath,
		"refresh", conf.RefreshCron,
		"once", flags.once,
		"import_ics", flags.importICS != "",
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	docs := store.NewFileStore(conf.DocumentPath)

	switch {
	case flags.importICS != "":
		err = runImport(ctx, conf, docs, flags.importICS, flags.icsCache)
	case flags.once:
		err = runOnce(ctx, conf, docs, flags.month)
	default:
		err = serve(ctx, conf, docs)
	}
	if err != nil {
		appLog.Error("schedcal failed", err)
		os.Exit(1)
	}
	appLog.Info("schedcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/schedcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Materialize one month, print it as JSON and exit")
	flag.StringVar(&cfg.month, "month", "", "Month for -once as YYYY-MM (default: current month)")
	flag.StringVar(&cfg.importICS, "import-ics", "", "Import a holiday ICS file or URL into the exception category and exit")
	flag.StringVar(&cfg.icsCache, "ics-cache", "/var/lib/schedcal/ics-cache", "Cache directory for -import-ics URLs")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

// serve runs the HTTP API until ctx is canceled, reloading the document on
// the refresh schedule.
func serve(ctx context.Context, conf *config.Config, docs *store.FileStore) error {
	srv := web.NewServer(conf, docs)
	if err := srv.Reload(ctx); err != nil {
		return err
	}

	loc, err := calendar.LoadLocation(conf.Timezone)
	if err != nil {
		return err
	}
	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		if err := srv.Reload(ctx); err != nil {
			appLog.Error("scheduled reload failed", err, "document", conf.DocumentPath)
		}
	}); err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

type onceOutput struct {
	Month    string                  `json:"month"`
	Timezone string                  `json:"timezone"`
	Events   []schedule.DisplayEvent `json:"events"`
	Issues   []string                `json:"issues,omitempty"`
}

// runOnce materializes one month from the document and prints it.
func runOnce(ctx context.Context, conf *config.Config, docs *store.FileStore, month string) error {
	doc, err := docs.Load(ctx)
	if err != nil {
		return err
	}
	loc, err := calendar.LoadLocation(conf.Timezone)
	if err != nil {
		return err
	}

	anchor := calendar.DayOf(time.Now().In(loc)).FirstOfMonth()
	if month != "" {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return errors.New("-month must be YYYY-MM")
		}
		anchor = calendar.DayOf(t)
	}

	res, err := schedule.Materialize(doc, conf.Timezone, anchor, schedule.Options{
		HidePayload:    !conf.Panel.HasPayload,
		SkipEvents:     conf.Panel.DisableEvent,
		SkipWeekly:     conf.Panel.DisableWeekly,
		SkipExceptions: conf.Panel.DisableException,
	})
	if err != nil {
		return err
	}

	out := onceOutput{
		Month:    anchor.String()[:7],
		Timezone: loc.String(),
		Events:   schedule.ToDisplayAll(res.Events, loc),
	}
	for _, is := range res.Issues {
		out.Issues = append(out.Issues, is.Error())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runImport merges a holiday feed into the exception category. Recurring
// holidays are expanded from the start of this year through the next.
func runImport(ctx context.Context, conf *config.Config, docs *store.FileStore, src, cacheDir string) error {
	loc, err := calendar.LoadLocation(conf.Timezone)
	if err != nil {
		return err
	}
	feed, err := ics.NewFetcher(cacheDir).Fetch(ctx, src)
	if err != nil {
		return err
	}

	now := time.Now().In(loc)
	recs, err := ics.ImportExceptions(feed.Body, ics.ImportOptions{
		Location:   loc,
		RangeStart: time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, loc),
		RangeEnd:   time.Date(now.Year()+2, time.January, 1, 0, 0, 0, 0, loc),
	})
	if err != nil {
		return err
	}

	ls, err := merge.NewLeases().Acquire(conf.DocumentID)
	if err != nil {
		return err
	}
	defer ls.Release()

	doc, err := docs.Load(ctx)
	if err != nil {
		return err
	}
	for id, rec := range recs {
		rec.ID = id
		if doc, err = ls.Upsert(doc, model.CategoryException, id, rec); err != nil {
			return err
		}
	}
	if err := ls.Commit(ctx, docs, doc); err != nil {
		return err
	}
	appLog.Info("holiday feed imported", "document", ls.DocumentID(), "records", len(recs), "from_cache", feed.FromCache)
	return nil
}
