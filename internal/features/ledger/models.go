// Package ledger ведёт внутреннюю валюту — кредиты.
// models.go описывает счета, записи журнала и результаты операций.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"serotonyl.ru/credit-ledger/internal/common"
)

// Kind — тип записи журнала.
type Kind string

const (
	KindCredit      Kind = "credit"       // Начисление
	KindDebit       Kind = "debit"        // Списание
	KindTransferOut Kind = "transfer_out" // Исходящий перевод
	KindTransferIn  Kind = "transfer_in"  // Входящий перевод
)

// Valid сообщает, что тип входит в перечень допустимых.
func (k Kind) Valid() bool {
	switch k {
	case KindCredit, KindDebit, KindTransferOut, KindTransferIn:
		return true
	}
	return false
}

// Ограничения на входные строки (совпадают с размерами колонок).
const (
	maxOwnerLen     = 255
	maxReasonLen    = 255
	maxReferenceLen = 255
)

// Причина корректирующей записи сверки.
const ReasonIntegrityCorrection = "integrity correction"

// Metadata — произвольный контекст вызывающей стороны (JSONB).
type Metadata map[string]any

// Account — кредитный счёт владельца.
// У каждого владельца ровно одна запись; счёт никогда не удаляется.
type Account struct {
	OwnerID   string    `json:"owner_id"`
	Balance   int64     `json:"balance"` // Материализованный баланс, всегда >= 0
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Entry — неизменяемая запись журнала: одно знаковое движение баланса.
// Записи не обновляются и не удаляются; исправления — только новой записью.
type Entry struct {
	ID             int64     `json:"id"`              // Монотонный, задаёт полный порядок
	OwnerID        string    `json:"owner_id"`        // Чей счёт
	Amount         int64     `json:"amount"`          // > 0 начисление, < 0 списание, 0 запрещён
	Kind           Kind      `json:"kind"`            // credit / debit / transfer_out / transfer_in
	Reason         string    `json:"reason"`          // Описание для истории
	ReferenceID    string    `json:"reference_id"`    // Уникален в паре с OwnerID
	CounterpartyID *string   `json:"counterparty_id"` // Только для переводов
	IntegrityHash  string    `json:"integrity_hash"`  // sha256 по полям записи
	Adjustment     bool      `json:"is_adjustment"`   // Корректировка сверки, не входит в пересчёт
	Metadata       Metadata  `json:"metadata,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransferResult — две записи одного перевода.
type TransferResult struct {
	Out *Entry `json:"transaction_out"`
	In  *Entry `json:"transaction_in"`
}

// Correction — итог исправления расхождения одним вызовом Reconcile.
type Correction struct {
	OwnerID    string `json:"owner_id"`
	OldBalance int64  `json:"old_balance"`
	NewBalance int64  `json:"new_balance"`
	Delta      int64  `json:"delta"`
	Entry      *Entry `json:"entry"`
}

// DuplicateReferenceError возвращается, когда reference_id уже занят.
// errors.Is(err, common.ErrDuplicateReference) == true; Existing — исходная запись.
type DuplicateReferenceError struct {
	OwnerID     string
	ReferenceID string
	Existing    *Entry
}

func (e *DuplicateReferenceError) Error() string {
	return fmt.Sprintf("%s: owner=%s reference=%s", common.ErrDuplicateReference, e.OwnerID, e.ReferenceID)
}

func (e *DuplicateReferenceError) Is(target error) bool {
	return target == common.ErrDuplicateReference
}

// ExistingEntry достаёт исходную запись из ошибки дубликата, если она есть.
func ExistingEntry(err error) (*Entry, bool) {
	var dup *DuplicateReferenceError
	if errors.As(err, &dup) && dup.Existing != nil {
		return dup.Existing, true
	}
	return nil, false
}
