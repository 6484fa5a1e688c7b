// service.go содержит бизнес-логику реестра кредитов.
// Каждая операция, меняющая баланс, — одна транзакция: блокировка счёта,
// проверки, запись в журнал и новый баланс фиксируются вместе или не фиксируются вовсе.
package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
)

// Значения по умолчанию для истории операций.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Service управляет кредитными счетами.
type Service struct {
	store        Store
	observer     Observer
	now          func() time.Time
	historyLimit int
	historyMax   int
}

// Option настраивает Service.
type Option func(*Service)

// WithObserver подключает наблюдателя, которого зовут после фиксации.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithHistoryLimits задаёт лимит истории по умолчанию и потолок.
func WithHistoryLimits(def, max int) Option {
	return func(s *Service) {
		if def > 0 {
			s.historyLimit = def
		}
		if max >= s.historyLimit {
			s.historyMax = max
		}
	}
}

// NewService создаёт сервис реестра поверх хранилища.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		now:          time.Now,
		historyLimit: DefaultHistoryLimit,
		historyMax:   MaxHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBalance возвращает текущий баланс, создавая пустой счёт при первом обращении.
// Читает без блокировки: значение может слегка отставать, для показа этого достаточно.
func (s *Service) GetBalance(ctx context.Context, ownerID string) (int64, error) {
	if err := validateOwner(ownerID); err != nil {
		return 0, err
	}
	acc, err := s.store.GetOrCreateAccount(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return acc.Balance, nil
}

// Credit начисляет кредиты. Счёт создаётся, если его ещё нет.
//
// Параметры:
//   - ownerID: кому начислить
//   - amount: сколько (строго > 0)
//   - reason: описание для истории (обязательно)
//   - referenceID: ключ идемпотентности; пустой — сгенерируется
//   - meta: произвольный контекст вызывающей стороны
//
// Повторный referenceID для того же счёта — ErrDuplicateReference, баланс не меняется.
func (s *Service) Credit(ctx context.Context, ownerID string, amount int64, reason, referenceID string, meta Metadata) (*Entry, error) {
	if err := validateMutation(ownerID, amount, reason); err != nil {
		return nil, err
	}
	ref, err := resolveReference(referenceID)
	if err != nil {
		return nil, err
	}

	var (
		entry   *Entry
		balance int64
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		acc, err := tx.LockOrCreateAccount(ctx, ownerID)
		if err != nil {
			return err
		}
		if err := ensureFreshReference(ctx, tx, ownerID, ref); err != nil {
			return err
		}
		if acc.Balance > math.MaxInt64-amount {
			return fmt.Errorf("%w: переполнение баланса", common.ErrInvalidAmount)
		}

		entry = s.newEntry(ownerID, amount, KindCredit, reason, ref, nil, meta)
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		balance = acc.Balance + amount
		return tx.SetBalance(ctx, ownerID, balance)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка начисления: %w", err)
	}

	s.notify(ctx, Event{
		Operation: OpCredit,
		Entries:   []*Entry{entry},
		Balances:  map[string]int64{ownerID: balance},
	})
	return entry, nil
}

// Debit списывает кредиты.
// Счёта нет — ErrAccountNotFound; не хватает — ErrInsufficientBalance.
// Частичное списание невозможно.
func (s *Service) Debit(ctx context.Context, ownerID string, amount int64, reason, referenceID string, meta Metadata) (*Entry, error) {
	if err := validateMutation(ownerID, amount, reason); err != nil {
		return nil, err
	}
	ref, err := resolveReference(referenceID)
	if err != nil {
		return nil, err
	}

	var (
		entry   *Entry
		balance int64
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		acc, err := tx.LockAccount(ctx, ownerID)
		if err != nil {
			return err
		}
		if err := ensureFreshReference(ctx, tx, ownerID, ref); err != nil {
			return err
		}
		if acc.Balance < amount {
			return fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, amount, acc.Balance)
		}

		entry = s.newEntry(ownerID, -amount, KindDebit, reason, ref, nil, meta)
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		balance = acc.Balance - amount
		return tx.SetBalance(ctx, ownerID, balance)
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка списания: %w", err)
	}

	s.notify(ctx, Event{
		Operation: OpDebit,
		Entries:   []*Entry{entry},
		Balances:  map[string]int64{ownerID: balance},
	})
	return entry, nil
}

// Transfer переводит кредиты между счетами одной транзакцией.
//
// Блокировки берутся в порядке возрастания owner_id, независимо от того,
// кто отправитель: встречные переводы между одной парой не могут
// образовать цикл ожидания. Счёт получателя создаётся при отсутствии.
// Обе записи получают один reference_id и ссылаются друг на друга через counterparty_id.
func (s *Service) Transfer(ctx context.Context, fromID, toID string, amount int64, reason, referenceID string, meta Metadata) (*TransferResult, error) {
	if err := validateOwner(fromID); err != nil {
		return nil, err
	}
	if err := validateOwner(toID); err != nil {
		return nil, err
	}
	if fromID == toID {
		return nil, common.ErrSelfTransfer
	}
	if err := validateMutation(fromID, amount, reason); err != nil {
		return nil, err
	}
	ref, err := resolveReference(referenceID)
	if err != nil {
		return nil, err
	}

	var (
		result   TransferResult
		balances = make(map[string]int64, 2)
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		accounts := make(map[string]*Account, 2)
		for _, id := range lockOrder(fromID, toID) {
			var (
				acc *Account
				err error
			)
			if id == fromID {
				acc, err = tx.LockAccount(ctx, id)
			} else {
				acc, err = tx.LockOrCreateAccount(ctx, id)
			}
			if err != nil {
				return err
			}
			accounts[id] = acc
		}

		if err := ensureFreshReference(ctx, tx, fromID, ref); err != nil {
			return err
		}
		if err := ensureFreshReference(ctx, tx, toID, ref); err != nil {
			return err
		}

		from, to := accounts[fromID], accounts[toID]
		if from.Balance < amount {
			return fmt.Errorf("%w: нужно %d, есть %d", common.ErrInsufficientBalance, amount, from.Balance)
		}
		if to.Balance > math.MaxInt64-amount {
			return fmt.Errorf("%w: переполнение баланса получателя", common.ErrInvalidAmount)
		}

		result.Out = s.newEntry(fromID, -amount, KindTransferOut, reason, ref, &toID, meta)
		result.In = s.newEntry(toID, amount, KindTransferIn, reason, ref, &fromID, meta)
		// Обе записи — один момент времени
		result.In.CreatedAt = result.Out.CreatedAt
		result.In.IntegrityHash = ComputeHash(result.In)

		if err := tx.InsertEntry(ctx, result.Out); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, result.In); err != nil {
			return err
		}

		balances[fromID] = from.Balance - amount
		balances[toID] = to.Balance + amount
		if err := tx.SetBalance(ctx, fromID, balances[fromID]); err != nil {
			return err
		}
		return tx.SetBalance(ctx, toID, balances[toID])
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка перевода: %w", err)
	}

	s.notify(ctx, Event{
		Operation: OpTransfer,
		Entries:   []*Entry{result.Out, result.In},
		Balances:  balances,
	})
	return &result, nil
}

// History возвращает последние записи счёта, новые первыми.
// limit <= 0 — лимит по умолчанию; больше потолка — обрезается до потолка.
func (s *Service) History(ctx context.Context, ownerID string, limit int) ([]*Entry, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.ListEntries(ctx, ownerID, s.clampLimit(limit))
}

// Recalculate считает баланс заново по журналу, ничего не меняя.
// Корректировки сверки в сумму не входят: они фиксируют исправление
// материализованного баланса, а не движение кредитов.
func (s *Service) Recalculate(ctx context.Context, ownerID string) (int64, error) {
	if err := validateOwner(ownerID); err != nil {
		return 0, err
	}
	return s.store.SumEntries(ctx, ownerID)
}

// Reconcile сверяет баланс с журналом под блокировкой счёта и исправляет расхождение.
// Исправление идёт той же транзакцией, что и корректирующая запись.
// Расхождения нет — (nil, nil).
func (s *Service) Reconcile(ctx context.Context, ownerID, jobID string) (*Correction, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}

	var correction *Correction
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		acc, err := tx.LockAccount(ctx, ownerID)
		if err != nil {
			return err
		}
		sum, err := tx.SumEntries(ctx, ownerID)
		if err != nil {
			return err
		}
		if sum == acc.Balance {
			return nil
		}
		if sum < 0 {
			return fmt.Errorf("%w: сумма журнала %s = %d", common.ErrIntegrityViolation, ownerID, sum)
		}

		delta := sum - acc.Balance
		entry := s.newAdjustment(ownerID, delta, jobID, Metadata{
			"old_balance": acc.Balance,
			"new_balance": sum,
			"job_id":      jobID,
			"adjusted_by": "reconciliation",
		})
		if err := tx.InsertEntry(ctx, entry); err != nil {
			return err
		}
		if err := tx.SetBalance(ctx, ownerID, sum); err != nil {
			return err
		}

		correction = &Correction{
			OwnerID:    ownerID,
			OldBalance: acc.Balance,
			NewBalance: sum,
			Delta:      delta,
			Entry:      entry,
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка сверки счёта: %w", err)
	}

	if correction != nil {
		s.notify(ctx, Event{
			Operation: OpReconcile,
			Entries:   []*Entry{correction.Entry},
			Balances:  map[string]int64{ownerID: correction.NewBalance},
		})
	}
	return correction, nil
}

// Accounts возвращает страницу счетов после after, по возрастанию owner_id.
func (s *Service) Accounts(ctx context.Context, after string, limit int) ([]*Account, error) {
	return s.store.ListAccounts(ctx, after, limit)
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// AuditReport — состояние счёта для проверки администратором.
type AuditReport struct {
	OwnerID        string  `json:"owner_id"`
	Balance        int64   `json:"balance"`
	Recalculated   int64   `json:"recalculated"`
	Drift          int64   `json:"drift"`
	EntriesChecked int     `json:"entries_checked"`
	HashMismatches []int64 `json:"hash_mismatches"`
}

// Audit сравнивает баланс с журналом и проверяет хеши последних limit записей.
// Только читает: неизвестный владелец — ErrAccountNotFound.
func (s *Service) Audit(ctx context.Context, ownerID string, limit int) (*AuditReport, error) {
	if err := validateOwner(ownerID); err != nil {
		return nil, err
	}
	acc, err := s.store.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	balance := acc.Balance
	sum, err := s.store.SumEntries(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListEntries(ctx, ownerID, s.clampLimit(limit))
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		OwnerID:        ownerID,
		Balance:        balance,
		Recalculated:   sum,
		Drift:          balance - sum,
		EntriesChecked: len(entries),
		HashMismatches: []int64{},
	}
	for _, e := range entries {
		if !e.VerifyHash() {
			report.HashMismatches = append(report.HashMismatches, e.ID)
		}
	}
	return report, nil
}

// newEntry собирает запись и считает её хеш.
func (s *Service) newEntry(ownerID string, amount int64, kind Kind, reason, ref string, counterparty *string, meta Metadata) *Entry {
	e := &Entry{
		OwnerID:        ownerID,
		Amount:         amount,
		Kind:           kind,
		Reason:         reason,
		ReferenceID:    ref,
		CounterpartyID: counterparty,
		Metadata:       meta,
		CreatedAt:      entryTimestamp(s.now()),
	}
	e.IntegrityHash = ComputeHash(e)
	return e
}

func (s *Service) newAdjustment(ownerID string, delta int64, jobID string, meta Metadata) *Entry {
	e := s.newEntry(ownerID, delta, KindCredit, ReasonIntegrityCorrection, "reconcile-"+jobID, nil, meta)
	e.Adjustment = true
	return e
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.historyLimit
	}
	if limit > s.historyMax {
		return s.historyMax
	}
	return limit
}

// notify зовёт наблюдателя после фиксации.
// Паника или сбой наблюдателя не влияют на результат операции.
func (s *Service) notify(ctx context.Context, ev Event) {
	if s.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"operation": ev.Operation,
				"panic":     r,
			}).Error("Паника в наблюдателе реестра")
		}
	}()
	s.observer.Observe(ctx, ev)
}

// ensureFreshReference проверяет, что reference_id ещё не использован этим счётом.
// Вызывается под блокировкой счёта.
func ensureFreshReference(ctx context.Context, tx Tx, ownerID, ref string) error {
	existing, err := tx.FindEntry(ctx, ownerID, ref)
	if err != nil {
		return err
	}
	if existing != nil {
		return &DuplicateReferenceError{OwnerID: ownerID, ReferenceID: ref, Existing: existing}
	}
	return nil
}

// lockOrder — порядок блокировки пары счетов.
func lockOrder(a, b string) []string {
	if b < a {
		return []string{b, a}
	}
	return []string{a, b}
}

func resolveReference(ref string) (string, error) {
	if ref == "" {
		return uuid.NewString(), nil
	}
	if !validText(ref, maxReferenceLen) {
		return "", fmt.Errorf("%w: не UTF-8 или длиннее %d символов", common.ErrInvalidReference, maxReferenceLen)
	}
	return ref, nil
}

func validateOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" || !validText(ownerID, maxOwnerLen) {
		return common.ErrInvalidOwner
	}
	return nil
}

func validateMutation(ownerID string, amount int64, reason string) error {
	if err := validateOwner(ownerID); err != nil {
		return err
	}
	if amount <= 0 {
		return common.ErrInvalidAmount
	}
	if strings.TrimSpace(reason) == "" || !validText(reason, maxReasonLen) {
		return common.ErrInvalidReason
	}
	return nil
}

// validText: корректный UTF-8 и не длиннее limit символов (как VARCHAR(n) и тег validate max=n).
func validText(s string, limit int) bool {
	return utf8.ValidString(s) && utf8.RuneCountInString(s) <= limit
}
