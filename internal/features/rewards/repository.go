// repository.go — таблица credit_rules.
package rewards

import (
	"context"
	"fmt"

	"serotonyl.ru/credit-ledger/internal/db/postgres"
)

// Repository читает и заполняет правила наград.
type Repository struct {
	db postgres.DB
}

// NewRepository создаёт новый репозиторий правил.
func NewRepository(db postgres.DB) *Repository {
	return &Repository{db: db}
}

// LoadRules читает все правила (включённые и выключенные).
func (r *Repository) LoadRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT event, amount, description, is_active
		FROM credit_rules
		ORDER BY event
	`)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки правил наград: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule  Rule
			event string
		)
		if err := rows.Scan(&event, &rule.Amount, &rule.Description, &rule.Active); err != nil {
			return nil, fmt.Errorf("ошибка чтения правила: %w", err)
		}
		rule.Event = Event(event)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения правил: %w", err)
	}
	return rules, nil
}

// SeedDefaults добавляет отсутствующие правила, не трогая существующие:
// правки администратора переживают перезапуск.
// Возвращает число добавленных строк.
func (r *Repository) SeedDefaults(ctx context.Context, rules []Rule) (int, error) {
	inserted := 0
	for _, rule := range rules {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO credit_rules (event, amount, description, is_active)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (event) DO NOTHING
		`, string(rule.Event), rule.Amount, rule.Description, rule.Active)
		if err != nil {
			return inserted, fmt.Errorf("ошибка добавления правила %s: %w", rule.Event, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}
