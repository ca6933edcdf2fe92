package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// OverlapPolicy определяет, что делать, если предыдущий запуск ещё идёт.
type OverlapPolicy int

const (
	// SkipIfRunning пропускает запуск (по умолчанию).
	SkipIfRunning OverlapPolicy = iota
	// DelayIfRunning ждёт завершения предыдущего запуска.
	DelayIfRunning
	// AllowOverlap разрешает параллельные запуски.
	AllowOverlap
)

// Job описывает задачу.
type Job struct {
	Name     string
	Schedule string
	// Timeout ограничивает один запуск (0 - без ограничения).
	Timeout time.Duration
	Overlap OverlapPolicy
	Run     JobFunc
}

// cronLogger адаптер cron.Logger поверх slog.
type cronLogger struct {
	logger *slog.Logger
}

func kvAttrs(kv []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		attrs = append(attrs, slog.Any(key, kv[i+1]))
	}
	return attrs
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, kvAttrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	attrs := append([]slog.Attr{slog.Any("error", err)}, kvAttrs(keysAndValues)...)
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// Scheduler управляет периодическими задачами.
type Scheduler struct {
	cron      *cron.Cron
	clog      cron.Logger
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

// New создаёт планировщик; задачи получают контекст, производный от parent.
func New(parent context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(parent)
	clog := cronLogger{logger: logger.With("component", "cron")}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLogger(clog), cron.WithChain(cron.Recover(clog))),
		clog:   clog,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Add регистрирует задачу. Расписание в формате cron с секундами
// ("0 */10 * * * *") или дескриптор ("@hourly", "@every 1m").
func (s *Scheduler) Add(job Job) (cron.EntryID, error) {
	if job.Run == nil {
		return 0, errors.New("scheduler: nil job func")
	}
	if job.Name == "" {
		job.Name = "unnamed"
	}

	var chain cron.Chain
	switch job.Overlap {
	case SkipIfRunning:
		chain = cron.NewChain(cron.SkipIfStillRunning(s.clog))
	case DelayIfRunning:
		chain = cron.NewChain(cron.DelayIfStillRunning(s.clog))
	default:
		chain = cron.NewChain()
	}

	id, err := s.cron.AddJob(job.Schedule, chain.Then(cron.FuncJob(func() { s.run(job) })))
	if err != nil {
		return 0, fmt.Errorf("scheduler: add %q: %w", job.Name, err)
	}
	s.logger.Info("cron job added", "name", job.Name, "schedule", job.Schedule, "id", id)
	return id, nil
}

// Next возвращает время следующего запуска задачи или нулевое время.
func (s *Scheduler) Next(id cron.EntryID) time.Time {
	return s.cron.Entry(id).Next
}

// Start запускает планировщик. Повторные вызовы ничего не делают.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.cron.Start()
	})
}

// Stop отменяет контекст задач и ждёт их завершения не дольше, чем живёт ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.cancel()
		go func() {
			<-s.cron.Stop().Done()
			close(s.done)
		}()
	})
	select {
	case <-s.done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded")
		return ctx.Err()
	}
}

// run выполняет один запуск задачи.
func (s *Scheduler) run(job Job) {
	ctx := s.ctx
	if ctx.Err() != nil {
		return
	}
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	dur := time.Since(start)
	if err != nil {
		s.logger.Error("job failed", "name", job.Name, "error", err, "duration", dur)
		return
	}
	s.logger.Debug("job completed", "name", job.Name, "duration", dur)
}
