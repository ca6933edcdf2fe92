// Package scheduler запускает фоновые задачи сервиса по cron-расписанию
// (github.com/robfig/cron/v3, с секундами).
//
// Каждая задача получает контекст планировщика, необязательный таймаут и
// политику перекрытий. Логи cron пишутся в slog.
//
//	s := scheduler.New(ctx, logger)
//	_, err := s.Add(scheduler.Job{
//		Name:     "journal-prune",
//		Schedule: "0 */10 * * * *",
//		Timeout:  time.Minute,
//		Run:      prune,
//	})
//	s.Start()
//	defer s.Stop(context.Background())
package scheduler
