package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// hashPayload фиксирует порядок полей: encoding/json сериализует
// поля структуры в порядке объявления, поэтому дайджест детерминирован.
type hashPayload struct {
	OwnerID        string  `json:"owner_id"`
	Amount         int64   `json:"amount"`
	Kind           Kind    `json:"kind"`
	Reason         string  `json:"reason"`
	ReferenceID    string  `json:"reference_id"`
	CounterpartyID *string `json:"counterparty_id"`
	Timestamp      string  `json:"timestamp"`
}

// ComputeHash считает дайджест целостности записи.
// Время берётся то же, что пишется в created_at, поэтому хеш
// воспроизводится по сохранённым колонкам.
func ComputeHash(e *Entry) string {
	payload := hashPayload{
		OwnerID:        e.OwnerID,
		Amount:         e.Amount,
		Kind:           e.Kind,
		Reason:         e.Reason,
		ReferenceID:    e.ReferenceID,
		CounterpartyID: e.CounterpartyID,
		Timestamp:      e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	// Marshal структуры из строк и чисел не падает.
	data, _ := json.Marshal(payload)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyHash сверяет сохранённый хеш с пересчитанным.
func (e *Entry) VerifyHash() bool {
	return e.IntegrityHash != "" && e.IntegrityHash == ComputeHash(e)
}

// entryTimestamp — время записи с точностью TIMESTAMPTZ (микросекунды).
func entryTimestamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}
