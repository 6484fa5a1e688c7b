// Package common содержит общие утилиты, используемые во всём проекте.
// format.go — русская плюрализация и форматирование сумм для логов и ответов.
package common

import (
	"fmt"
	"strconv"
	"strings"
)

// PluralizeCredits возвращает правильную форму слова «кредит» для числа n.
//
// Правила русского языка:
//   - n%10==1 И n%100!=11 → "кредит" (1, 21, 31, 101, ...)
//   - n%10 в [2,3,4] И n%100 НЕ в [12,13,14] → "кредита" (2, 3, 4, 22, ...)
//   - Остальные случаи → "кредитов" (0, 5-20, 25-30, 100, ...)
//
// Примеры:
//
//	PluralizeCredits(1)  → "кредит"
//	PluralizeCredits(3)  → "кредита"
//	PluralizeCredits(11) → "кредитов"
func PluralizeCredits(n int64) string {
	absN := n
	if absN < 0 {
		absN = -absN
	}
	lastDigit := absN % 10
	lastTwoDigits := absN % 100

	if lastDigit == 1 && lastTwoDigits != 11 {
		return "кредит"
	}
	if lastDigit >= 2 && lastDigit <= 4 && (lastTwoDigits < 12 || lastTwoDigits > 14) {
		return "кредита"
	}
	return "кредитов"
}

// FormatBalance форматирует баланс в читабельную строку.
// Пример: FormatBalance(2350) → "2 350 кредитов"
func FormatBalance(balance int64) string {
	return fmt.Sprintf("%s %s", FormatNumber(balance), PluralizeCredits(balance))
}

// FormatAmount создаёт строку вида "+100 кредитов" или "-50 кредитов".
// Знак добавляется автоматически.
func FormatAmount(amount int64) string {
	if amount >= 0 {
		return fmt.Sprintf("+%s %s", FormatNumber(amount), PluralizeCredits(amount))
	}
	return fmt.Sprintf("%s %s", FormatNumber(amount), PluralizeCredits(amount))
}

// FormatNumber форматирует число с разделителями тысяч (пробелами).
// Пример: FormatNumber(2350) → "2 350"
func FormatNumber(n int64) string {
	// Цифры берём у strconv: -n для math.MinInt64 переполняется
	digits := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(d)
	}
	return b.String()
}
