package rewards

import (
	"fmt"
	"sort"
	"strings"

	"serotonyl.ru/credit-ledger/internal/common"
)

// RuleTable — проверенная таблица правил. После создания не меняется.
type RuleTable struct {
	rules map[Event]Rule
}

// NewRuleTable проверяет правила и строит таблицу.
// Неизвестное событие, нулевая сумма, пустое описание или дубликат — ошибка.
func NewRuleTable(rules []Rule) (*RuleTable, error) {
	table := &RuleTable{rules: make(map[Event]Rule, len(rules))}
	for _, r := range rules {
		switch {
		case !r.Event.Known():
			return nil, fmt.Errorf("%w: неизвестное событие %q", common.ErrInvalidRewardRule, r.Event)
		case r.Amount == 0:
			return nil, fmt.Errorf("%w: нулевая сумма у %q", common.ErrInvalidRewardRule, r.Event)
		case strings.TrimSpace(r.Description) == "":
			return nil, fmt.Errorf("%w: пустое описание у %q", common.ErrInvalidRewardRule, r.Event)
		}
		if _, dup := table.rules[r.Event]; dup {
			return nil, fmt.Errorf("%w: повтор правила %q", common.ErrInvalidRewardRule, r.Event)
		}
		table.rules[r.Event] = r
	}
	return table, nil
}

// Lookup возвращает правило события.
func (t *RuleTable) Lookup(event Event) (Rule, error) {
	r, ok := t.rules[event]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", common.ErrUnknownRewardEvent, event)
	}
	if !r.Active {
		return Rule{}, fmt.Errorf("%w: %q", common.ErrRewardRuleInactive, event)
	}
	return r, nil
}

// Active — включённые правила, по имени события.
func (t *RuleTable) Active() []Rule {
	out := make([]Rule, 0, len(t.rules))
	for _, r := range t.rules {
		if r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event < out[j].Event })
	return out
}
