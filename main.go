package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"abceats/config"
	"abceats/handlers"
	"abceats/metrics"
	"abceats/models"
	"abceats/scheduler"
	"abceats/scraper/socrata"
	"abceats/services"
	"abceats/storage"
	"abceats/utils"
)

const usage = `Usage: abceats [flags]

Modes:
  sync             download the full dataset into the local store
  serve            run the HTTP API with background refreshes (default)
  summary          print dataset statistics
  export-snapshot  write the stored restaurants to a JSON snapshot
  clear            delete all stored data
  search           read searches from stdin, one per line

Flags:
`

type app struct {
	cfg      *config.Config
	logger   *utils.Logger
	metrics  *metrics.Metrics
	store    storage.RestaurantStore
	state    *services.AppState
	syncer   *services.Syncer
	query    *services.QueryService
	insights *services.InsightService
}

func main() {
	mode := flag.String("mode", "serve", "sync | serve | summary | export-snapshot | clear | search")
	out := flag.String("out", "", "snapshot path for export-snapshot (default: storage.snapshot_path)")
	borough := flag.String("borough", "", "borough filter for search mode")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	// ================== Bootstrap ====================
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("Startup failed: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			logger.Warn("Closing store: %v", err)
		}
	}()

	logger.Info("ABC Eats (%s), mode=%s, store=%s", cfg.App.Env, *mode, cfg.Storage.Driver)

	switch *mode {
	case "sync":
		err = a.runSync(ctx)
	case "serve":
		err = a.runServe(ctx)
	case "summary":
		err = a.runSummary(ctx)
	case "export-snapshot":
		err = a.runExport(ctx, *out)
	case "clear":
		err = a.runClear(ctx)
	case "search":
		err = a.runSearch(ctx, *borough)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("%s failed: %v", *mode, err)
		logger.Sync()
		os.Exit(1)
	}
}

func newApp(cfg *config.Config, logger *utils.Logger) (*app, error) {
	m := metrics.New()

	store, err := storage.Open(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}

	client := socrata.NewClient(cfg.Source, logger, m)
	state := services.NewAppState()
	syncer := services.NewSyncer(client, store, storage.OpenArchive(cfg.Storage, logger), state, cfg.Sync.StaleAfter, logger, m)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		store:    store,
		state:    state,
		syncer:   syncer,
		query:    services.NewQueryService(state, m),
		insights: services.NewInsightService(logger),
	}, nil
}

func (a *app) bootstrap(ctx context.Context) error {
	seeded, err := a.syncer.Bootstrap(ctx, a.cfg.Storage.SnapshotPath)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	snap := a.state.Snapshot()
	if seeded {
		a.logger.Info("First run: loaded %d restaurants from snapshot", snap.Restaurants)
	} else {
		a.logger.Info("Loaded %d restaurants from local store", snap.Restaurants)
	}
	return nil
}

// =================== sync ========================================
func (a *app) runSync(ctx context.Context) error {
	if err := a.bootstrap(ctx); err != nil {
		return err
	}
	result, err := a.syncer.Refresh(ctx)
	if err != nil {
		return err
	}
	fmt.Printf(" Done! %d restaurants from %d rows (%d pages, %d skipped without coordinates) in %v\n",
		result.Restaurants, result.Rows, result.Pages, result.Stats.InvalidCoordinates, result.Duration.Round(time.Millisecond))
	if a.cfg.Storage.RawCSVPath != "" {
		fmt.Println(" Raw rows →", a.cfg.Storage.RawCSVPath)
	}
	return nil
}

// =================== serve =======================================
func (a *app) runServe(ctx context.Context) error {
	if err := a.bootstrap(ctx); err != nil {
		return err
	}

	// refreshes are bounded by the process lifetime, not by single requests
	background, cancelBackground := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBackground()

	if a.syncer.TriggerIfStale(background) {
		a.logger.Info("Local data is stale, refreshing in the background")
	}

	var sched *scheduler.RefreshScheduler
	if a.cfg.Scheduler.Enabled {
		sched = scheduler.New(scheduler.ConfigFrom(a.cfg.Scheduler), a.scheduledRefresh, a.refreshCompleted, a.logger, a.metrics)
		if err := sched.Start(background); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	handler := handlers.NewRestaurantHandler(background, a.query, a.syncer, a.insights, a.state, a.logger)
	srv := &http.Server{
		Addr: ":" + a.cfg.HTTP.Port,
		Handler: handlers.NewRouter(handler, handlers.RouterConfig{
			AllowOrigins: a.cfg.HTTP.CORSAllowOrigins,
			Metrics:      a.metrics,
			Logger:       a.logger,
		}),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("HTTP shutdown: %v", err)
	}
	cancelBackground()
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			a.logger.Warn("Scheduler stop: %v", err)
		}
	}
	a.syncer.Wait()
	return nil
}

func (a *app) scheduledRefresh(ctx context.Context) error {
	_, err := a.syncer.Refresh(ctx)
	if errors.Is(err, services.ErrRefreshInProgress) {
		a.logger.Info("Refresh already running, skipping scheduled wake-up")
		return nil
	}
	return err
}

func (a *app) refreshCompleted(r scheduler.Result) {
	if r.Err != nil {
		a.logger.Warn("Background refresh %s did not complete: %v", r.RunID, r.Err)
		return
	}
	a.logger.Info("Background refresh %s completed in %v", r.RunID, r.Duration)
}

// =================== summary =====================================
func (a *app) runSummary(ctx context.Context) error {
	if err := a.bootstrap(ctx); err != nil {
		return err
	}
	last, _ := a.state.LastUpdated()
	services.PrintSummary(os.Stdout, a.insights.Generate(a.state.Restaurants(), last))
	return nil
}

// =================== export-snapshot =============================
func (a *app) runExport(ctx context.Context, path string) error {
	if path == "" {
		path = a.cfg.Storage.SnapshotPath
	}
	if err := a.syncer.Load(ctx); err != nil {
		return err
	}
	restaurants := a.state.Restaurants()
	if len(restaurants) == 0 {
		return errors.New("local store is empty, run -mode sync first")
	}
	if err := storage.ExportSnapshot(path, restaurants); err != nil {
		return err
	}
	fmt.Printf(" Exported %d restaurants → %s\n", len(restaurants), path)
	return nil
}

// =================== clear =======================================
func (a *app) runClear(ctx context.Context) error {
	if err := a.syncer.ClearAll(ctx); err != nil {
		return err
	}
	fmt.Println(" All stored restaurant data deleted")
	return nil
}

// =================== search ======================================
func (a *app) runSearch(ctx context.Context, borough string) error {
	if err := a.bootstrap(ctx); err != nil {
		return err
	}
	session := services.NewSearchSession(a.query)
	defer session.Wait()

	fmt.Fprintln(os.Stderr, "Type a search and press enter (empty line clears, Ctrl-D quits)")
	lines := bufio.NewScanner(os.Stdin)
	for lines.Scan() {
		if ctx.Err() != nil {
			break
		}
		text := strings.TrimSpace(lines.Text())
		if text == "" {
			session.Cancel()
			continue
		}
		filter := models.RestaurantFilter{Borough: borough, Search: text}
		session.Submit(ctx, filter, 0, 10, func(page models.Page, err error) {
			if err != nil {
				a.logger.Warn("Search %q failed: %v", text, err)
				return
			}
			printPage(text, page)
		})
	}
	return lines.Err()
}

func printPage(search string, page models.Page) {
	fmt.Printf("\n %d result(s) for %q\n", page.Total, search)
	for _, r := range page.Items {
		fmt.Printf("  [%s] %-35s %-10s %s\n", r.Grade, r.Name, r.Borough, r.DisplayAddress())
	}
	if page.HasMore {
		fmt.Printf("  ... %d more\n", page.Total-len(page.Items))
	}
}
