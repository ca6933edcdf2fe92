// Package app wires the relay components together.
package app

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"fcmrelay/internal/adapter/scheduler"
	"fcmrelay/internal/config"
	"fcmrelay/internal/fcm"
	"fcmrelay/internal/journal"
	"fcmrelay/internal/platform/httpclient"
	"fcmrelay/internal/platform/logger"
	"fcmrelay/internal/server"
)

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New loads configuration and creates the logger. Console output goes to
// console, or stdout when nil.
func New(console io.Writer) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "fcmrelay",
		Console:      console,
	})
	return NewWithConfig(cfg, log), nil
}

// NewWithConfig creates an App from an already loaded configuration.
func NewWithConfig(cfg config.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}
	return &App{cfg: cfg, log: log}
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the application logger.
func (a *App) Logger() *slog.Logger { return a.log }

// Close flushes the log file.
func (a *App) Close() error { return logger.Close(a.log) }

// OpenJournal opens the delivery journal from configuration.
func (a *App) OpenJournal(ctx context.Context) (*journal.Store, error) {
	return journal.Open(ctx, a.cfg.Journal.Path)
}

// NewClient builds the gateway client; j may be nil.
func (a *App) NewClient(j fcm.Journal) (*fcm.Client, error) {
	hc := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithTimeout(a.cfg.FCM.Timeout),
		httpclient.WithRateLimit(a.cfg.FCM.RateLimit, a.cfg.FCM.Parallel),
		httpclient.WithHeaders(map[string]string{"User-Agent": "fcmrelay"}),
		httpclient.WithURLRedactor(logURL),
	)
	strategy, err := fcm.NewStrategy(a.cfg.FCM.MaxAttempts, a.log)
	if err != nil {
		return nil, err
	}
	opts := []fcm.ClientOption{
		fcm.WithEndpoint(a.cfg.FCM.Endpoint),
		fcm.WithAPIKey(a.cfg.FCM.APIKey),
		fcm.WithClientLogger(a.log),
	}
	if j != nil {
		opts = append(opts, fcm.WithJournal(j))
	}
	return fcm.NewClient(hc, strategy, opts...)
}

// Serve runs the HTTP API and the journal pruning job until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	a.log.Info("starting", slog.String("addr", a.cfg.HTTP.Addr))

	store, err := a.OpenJournal(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := a.NewClient(store)
	if err != nil {
		return err
	}

	sched := scheduler.New(ctx, a.log)
	if _, err := sched.Add(scheduler.Job{
		Name:     "journal-prune",
		Schedule: a.cfg.Journal.PruneSchedule,
		Timeout:  time.Minute,
		Run:      pruneJournal(store, a.cfg.Journal.Retention, time.Now, a.log),
	}); err != nil {
		return err
	}
	sched.Start()

	if a.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(client, store, server.Options{
		Logger:     a.log,
		Tokens:     a.cfg.HTTP.Tokens,
		ClientRate: a.cfg.HTTP.ClientRate,
		Parallel:   a.cfg.FCM.Parallel,
		MaxBatch:   a.cfg.HTTP.MaxBatch,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(a.cfg.HTTP.Addr, router, a.log).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return sched.Stop(stopCtx)
	})
	err = g.Wait()
	a.log.Info("stopped", slog.Any("error", err))
	return err
}

// logURL drops the query and any user info from URLs written to logs.
func logURL(u *url.URL) string {
	r := *u
	r.User = nil
	r.RawQuery = ""
	r.Fragment = ""
	return r.String()
}

type pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// pruneJournal drops entries older than retention.
func pruneJournal(p pruner, retention time.Duration, now func() time.Time, log *slog.Logger) scheduler.JobFunc {
	return func(ctx context.Context) error {
		n, err := p.Prune(ctx, now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			log.Info("journal pruned", slog.Int64("removed", n), slog.Duration("retention", retention))
		}
		return nil
	}
}
