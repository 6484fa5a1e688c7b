// Package rewards начисляет и списывает кредиты по доменным событиям.
// Каждое событие — элемент закрытого перечня; сумма и описание берутся
// из таблицы правил, проверенной при загрузке.
package rewards

// Event — известное событие, за которое положена награда или штраф.
type Event string

const (
	EventPositiveReview   Event = "positive_review"   // Положительный отзыв
	EventServiceCompleted Event = "service_completed" // Услуга оказана
	EventQuickResponse    Event = "quick_response"    // Быстрый ответ клиенту
	EventAccountVerified  Event = "account_verified"  // Аккаунт подтверждён
	EventProfileCompleted Event = "profile_completed" // Профиль заполнен
	EventFirstService     Event = "first_service"     // Первая услуга
	EventReferral         Event = "referral"          // Приглашённый пользователь
)

// KnownEvents — полный перечень событий.
var KnownEvents = []Event{
	EventPositiveReview,
	EventServiceCompleted,
	EventQuickResponse,
	EventAccountVerified,
	EventProfileCompleted,
	EventFirstService,
	EventReferral,
}

// Known сообщает, что событие входит в перечень.
func (e Event) Known() bool {
	for _, k := range KnownEvents {
		if e == k {
			return true
		}
	}
	return false
}

// OneTime сообщает, что награда за событие выдаётся владельцу один раз.
func (e Event) OneTime() bool {
	switch e {
	case EventAccountVerified, EventProfileCompleted, EventFirstService:
		return true
	}
	return false
}

// Rule — правило: событие → знаковая сумма и описание.
// Положительная сумма — начисление, отрицательная — списание.
type Rule struct {
	Event       Event  `json:"event"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	Active      bool   `json:"is_active"`
}

// DefaultRules — стартовый набор правил.
func DefaultRules() []Rule {
	return []Rule{
		{Event: EventPositiveReview, Amount: 50, Description: "Reward for receiving a positive review (4-5 stars)", Active: true},
		{Event: EventServiceCompleted, Amount: 100, Description: "Reward for successfully completing a service", Active: true},
		{Event: EventQuickResponse, Amount: 25, Description: "Reward for responding to messages within 1 hour", Active: true},
		{Event: EventAccountVerified, Amount: 200, Description: "One-time reward for verifying account (email, phone, documents)", Active: true},
		{Event: EventProfileCompleted, Amount: 150, Description: "One-time reward for completing 100% of profile information", Active: true},
		{Event: EventFirstService, Amount: 300, Description: "One-time reward for completing first service on the platform", Active: true},
		{Event: EventReferral, Amount: 500, Description: "Reward for successfully referring a new user who completes their first service", Active: true},
	}
}
