// reconcile.go — сверка материализованных балансов с журналом.
//
// Состояния: Idle → Scanning → Idle. Один запуск за раз: внутри процесса
// это гарантирует состояние, между процессами — аренда (Lease).
// Ошибка по отдельному счёту не прерывает обход; прерывает только
// недоступность хранилища.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/features/ledger"
)

// Ledger — операции реестра, нужные сверке.
type Ledger interface {
	Ping(ctx context.Context) error
	Accounts(ctx context.Context, after string, limit int) ([]*ledger.Account, error)
	Recalculate(ctx context.Context, ownerID string) (int64, error)
	Reconcile(ctx context.Context, ownerID, jobID string) (*ledger.Correction, error)
}

// State — состояние задачи сверки.
type State int32

const (
	StateIdle State = iota
	StateScanning
)

func (s State) String() string {
	if s == StateScanning {
		return "scanning"
	}
	return "idle"
}

// Report — итог одного запуска.
type Report struct {
	JobID         string        `json:"job_id"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration_ns"`
	Scanned       int           `json:"scanned"`
	Discrepancies int           `json:"discrepancies"`
	Corrected     int           `json:"corrected"`
	Errors        int           `json:"errors"`
}

// Reconciler обходит все счета постранично и исправляет расхождения.
type Reconciler struct {
	ledger   Ledger
	lease    Lease
	pageSize int
	leaseTTL time.Duration

	state atomic.Int32
	last  atomic.Pointer[Report]
}

// NewReconciler создаёт задачу сверки.
func NewReconciler(l Ledger, lease Lease, pageSize int, leaseTTL time.Duration) *Reconciler {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Reconciler{ledger: l, lease: lease, pageSize: pageSize, leaseTTL: leaseTTL}
}

// State — текущее состояние.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// LastReport — отчёт последнего завершённого запуска (nil, если запусков не было).
func (r *Reconciler) LastReport() *Report {
	return r.last.Load()
}

// Run выполняет один полный обход.
// Уже идёт (здесь или в другом процессе) — ErrReconcileInProgress.
// При фатальной ошибке возвращается частичный отчёт и ошибка.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	if !r.state.CompareAndSwap(int32(StateIdle), int32(StateScanning)) {
		return nil, common.ErrReconcileInProgress
	}
	defer r.state.Store(int32(StateIdle))

	report := &Report{JobID: uuid.NewString(), StartedAt: time.Now().UTC()}
	logger := log.WithField("job_id", report.JobID)

	acquired, err := r.lease.Acquire(ctx, report.JobID, r.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("сверка не запущена: %w", err)
	}
	if !acquired {
		return nil, common.ErrReconcileInProgress
	}
	defer func() {
		// Освобождаем аренду даже после отмены ctx
		if err := r.lease.Release(context.WithoutCancel(ctx), report.JobID); err != nil {
			logger.WithError(err).Warn("Не удалось освободить аренду сверки")
		}
	}()

	logger.Info("Сверка балансов запущена")
	err = r.scan(ctx, report, logger)
	report.Duration = time.Since(report.StartedAt)
	r.last.Store(report)

	fields := log.Fields{
		"scanned":       report.Scanned,
		"discrepancies": report.Discrepancies,
		"corrected":     report.Corrected,
		"errors":        report.Errors,
		"duration":      report.Duration.String(),
	}
	if err != nil {
		logger.WithFields(fields).WithError(err).Error("Сверка балансов прервана")
		return report, err
	}
	logger.WithFields(fields).Info("Сверка балансов завершена")
	return report, nil
}

func (r *Reconciler) scan(ctx context.Context, report *Report, logger *log.Entry) error {
	if err := r.ledger.Ping(ctx); err != nil {
		return fmt.Errorf("хранилище недоступно: %w", err)
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("сверка отменена: %w", err)
		}

		page, err := r.ledger.Accounts(ctx, after, r.pageSize)
		if err != nil {
			return fmt.Errorf("ошибка чтения страницы счетов после %q: %w", after, err)
		}

		for _, acc := range page {
			if err := r.check(ctx, acc, report, logger); err != nil {
				return err
			}
		}

		if len(page) < r.pageSize {
			return nil
		}
		after = page[len(page)-1].OwnerID
	}
}

// check сверяет один счёт. Возвращает ошибку, только если обход надо прервать.
func (r *Reconciler) check(ctx context.Context, acc *ledger.Account, report *Report, logger *log.Entry) error {
	report.Scanned++
	accLog := logger.WithField("owner_id", acc.OwnerID)

	// Дешёвая проверка без блокировки: совпало — счёт не трогаем
	sum, err := r.ledger.Recalculate(ctx, acc.OwnerID)
	if err == nil && sum == acc.Balance {
		return nil
	}

	var correction *ledger.Correction
	if err == nil {
		// Расхождение по снимку: перепроверяем и исправляем под блокировкой
		correction, err = r.ledger.Reconcile(ctx, acc.OwnerID, report.JobID)
	}
	if err != nil {
		return r.accountFailed(ctx, err, report, accLog)
	}

	if correction != nil {
		report.Discrepancies++
		report.Corrected++
		accLog.WithFields(log.Fields{
			"old_balance": correction.OldBalance,
			"new_balance": correction.NewBalance,
			"delta":       correction.Delta,
		}).Warn("Баланс исправлен по журналу")
	}
	return nil
}

func (r *Reconciler) accountFailed(ctx context.Context, err error, report *Report, accLog *log.Entry) error {
	report.Errors++
	if errors.Is(err, common.ErrIntegrityViolation) {
		report.Discrepancies++
	}
	accLog.WithError(err).Error("Ошибка сверки счёта")

	if errors.Is(err, common.ErrStorageUnavailable) || ctx.Err() != nil {
		if pingErr := r.ledger.Ping(ctx); pingErr != nil {
			return fmt.Errorf("хранилище недоступно: %w", pingErr)
		}
	}
	return nil
}
