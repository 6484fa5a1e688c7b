// Package common — errors.go определяет ошибки, которые используются во всех
// модулях сервиса. Эти ошибки позволяют обработчикам различать типы проблем
// и отдавать клиенту понятные ответы. Сравнивать через errors.Is.
package common

import "errors"

// Ошибки реестра кредитов
var (
	// ErrInvalidAmount — некорректная сумма (ноль или отрицательная)
	ErrInvalidAmount = errors.New("сумма должна быть положительной")
	// ErrInvalidReason — не указана причина операции
	ErrInvalidReason = errors.New("причина операции обязательна")
	// ErrInvalidReference — reference_id длиннее допустимого
	ErrInvalidReference = errors.New("некорректный reference_id")
	// ErrInvalidOwner — пустой или слишком длинный идентификатор владельца
	ErrInvalidOwner = errors.New("некорректный идентификатор владельца счёта")
	// ErrAccountNotFound — у владельца нет кредитного счёта
	ErrAccountNotFound = errors.New("кредитный счёт не найден")
	// ErrInsufficientBalance — недостаточно кредитов на счёте
	ErrInsufficientBalance = errors.New("недостаточно кредитов на счёте")
	// ErrSelfTransfer — попытка перевести кредиты самому себе
	ErrSelfTransfer = errors.New("нельзя переводить кредиты самому себе")
	// ErrDuplicateReference — reference_id уже использован для этого счёта
	ErrDuplicateReference = errors.New("операция с таким reference_id уже проведена")
	// ErrStorageUnavailable — хранилище недоступно или транзакция не прошла
	ErrStorageUnavailable = errors.New("хранилище недоступно")
	// ErrIntegrityViolation — история счёта даёт недопустимый баланс
	ErrIntegrityViolation = errors.New("нарушена целостность истории счёта")
)

// Ошибки наград
var (
	// ErrUnknownRewardEvent — событие не входит в перечень известных
	ErrUnknownRewardEvent = errors.New("неизвестное событие награды")
	// ErrRewardRuleInactive — правило для события выключено
	ErrRewardRuleInactive = errors.New("правило награды отключено")
	// ErrInvalidRewardRule — правило не прошло проверку при загрузке
	ErrInvalidRewardRule = errors.New("некорректное правило награды")
)

// Ошибки фоновых задач
var (
	// ErrReconcileInProgress — сверка уже идёт (в этом или другом процессе)
	ErrReconcileInProgress = errors.New("сверка балансов уже выполняется")
)

// Ошибки доступа
var (
	// ErrUnauthorized — нет или неверный токен
	ErrUnauthorized = errors.New("требуется авторизация")
	// ErrForbidden — неверный ключ администратора
	ErrForbidden = errors.New("у вас нет прав администратора")
)
