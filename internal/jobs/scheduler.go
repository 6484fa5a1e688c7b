// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание сверки балансов.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
)

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron       *cron.Cron
	reconciler *Reconciler
	schedule   string
}

// NewScheduler создаёт планировщик в часовом поясе loc.
// Запуск, заставший предыдущий ещё идущим, пропускается.
func NewScheduler(reconciler *Reconciler, schedule string, loc *time.Location) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		schedule:   schedule,
	}
}

// Start запускает все фоновые задачи.
func (s *Scheduler) Start(ctx context.Context) error {
	// Сверка балансов (по умолчанию воскресенье 02:00)
	_, err := s.cron.AddFunc(s.schedule, func() {
		log.Info("[CRON] Сверка балансов")
		if _, err := s.reconciler.Run(ctx); err != nil {
			if errors.Is(err, common.ErrReconcileInProgress) {
				log.Info("[CRON] Сверка уже идёт в другом процессе")
				return
			}
			log.WithError(err).Error("[CRON] Ошибка сверки")
		}
	})
	if err != nil {
		return fmt.Errorf("некорректное расписание %q: %w", s.schedule, err)
	}

	s.cron.Start()
	log.WithField("schedule", s.schedule).Info("Планировщик задач запущен")
	return nil
}

// Stop останавливает планировщик и ждёт завершения идущих задач.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}
