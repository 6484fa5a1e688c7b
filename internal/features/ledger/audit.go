package ledger

import (
	"context"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
)

// Operation — вид зафиксированного изменения.
type Operation string

const (
	OpCredit    Operation = "credit"
	OpDebit     Operation = "debit"
	OpTransfer  Operation = "transfer"
	OpReconcile Operation = "reconcile"
)

// Event описывает уже зафиксированное изменение.
type Event struct {
	Operation Operation
	Entries   []*Entry
	Balances  map[string]int64 // Балансы после операции
}

// Observer получает события после фиксации транзакции.
// Ошибки наблюдателя не видны вызывающей стороне и ничего не откатывают.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc позволяет использовать функцию как Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

// AuditLogger пишет по строке аудита на каждую запись журнала.
type AuditLogger struct {
	logger log.FieldLogger
}

// NewAuditLogger создаёт аудит-логгер. nil — стандартный логгер logrus.
func NewAuditLogger(logger log.FieldLogger) *AuditLogger {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &AuditLogger{logger: logger}
}

// Observe реализует Observer.
func (a *AuditLogger) Observe(ctx context.Context, ev Event) {
	for _, e := range ev.Entries {
		fields := log.Fields{
			"audit":          true,
			"operation":      ev.Operation,
			"entry_id":       e.ID,
			"owner_id":       e.OwnerID,
			"amount":         e.Amount,
			"formatted":      common.FormatAmount(e.Amount),
			"kind":           e.Kind,
			"reference_id":   e.ReferenceID,
			"integrity_hash": e.IntegrityHash,
		}
		if e.CounterpartyID != nil {
			fields["counterparty_id"] = *e.CounterpartyID
		}
		if balance, ok := ev.Balances[e.OwnerID]; ok {
			fields["balance_after"] = balance
		}
		if e.Adjustment {
			fields["is_adjustment"] = true
		}
		a.logger.WithFields(fields).Info("Операция реестра")
	}
}
