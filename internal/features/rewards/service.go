// service.go — выдача наград по событиям через реестр кредитов.
package rewards

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/features/ledger"
)

// Ledger — операции реестра, которыми пользуется выдача наград.
type Ledger interface {
	Credit(ctx context.Context, ownerID string, amount int64, reason, referenceID string, meta ledger.Metadata) (*ledger.Entry, error)
	Debit(ctx context.Context, ownerID string, amount int64, reason, referenceID string, meta ledger.Metadata) (*ledger.Entry, error)
}

// Service выдаёт награды и штрафы по правилам.
type Service struct {
	ledger Ledger
	rules  *RuleTable
}

// NewService создаёт сервис наград.
func NewService(l Ledger, rules *RuleTable) *Service {
	return &Service{ledger: l, rules: rules}
}

// Rules — включённые правила.
func (s *Service) Rules() []Rule {
	return s.rules.Active()
}

// Dispatch применяет правило события к счёту владельца.
//
// Положительная сумма — начисление "Reward: <описание>",
// отрицательная — списание |сумма| "Penalty: <описание>".
// В metadata добавляются event и rule_amount.
// Для разовых событий без referenceID ключ берётся "reward-<event>",
// поэтому повторная выдача отклоняется как дубликат.
func (s *Service) Dispatch(ctx context.Context, ownerID string, event Event, referenceID string, meta ledger.Metadata) (*ledger.Entry, error) {
	rule, err := s.rules.Lookup(event)
	if err != nil {
		return nil, err
	}

	if referenceID == "" && event.OneTime() {
		referenceID = "reward-" + string(event)
	}

	merged := make(ledger.Metadata, len(meta)+2)
	for k, v := range meta {
		merged[k] = v
	}
	merged["event"] = string(event)
	merged["rule_amount"] = rule.Amount

	var entry *ledger.Entry
	if rule.Amount > 0 {
		entry, err = s.ledger.Credit(ctx, ownerID, rule.Amount, "Reward: "+rule.Description, referenceID, merged)
	} else {
		entry, err = s.ledger.Debit(ctx, ownerID, -rule.Amount, "Penalty: "+rule.Description, referenceID, merged)
	}
	if err != nil {
		log.WithFields(log.Fields{
			"owner_id": ownerID,
			"event":    event,
		}).WithError(err).Warn("Награда не выдана")
		return nil, fmt.Errorf("ошибка выдачи награды %s: %w", event, err)
	}

	log.WithFields(log.Fields{
		"owner_id": ownerID,
		"event":    event,
		"amount":   rule.Amount,
		"entry_id": entry.ID,
	}).Info("Награда выдана")
	return entry, nil
}
