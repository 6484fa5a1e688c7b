package ledger

import "serotonyl.ru/credit-ledger/internal/common"

// DeductRequest — тело POST /credits/deduct.
type DeductRequest struct {
	Amount      int64    `json:"amount" validate:"required,gt=0"`
	Reason      string   `json:"reason" validate:"required,max=255"`
	ReferenceID string   `json:"reference_id" validate:"omitempty,max=255"`
	Metadata    Metadata `json:"metadata"`
}

// TransferRequest — тело POST /credits/transfer.
type TransferRequest struct {
	ToOwnerID   string   `json:"to_owner_id" validate:"required,max=255"`
	Amount      int64    `json:"amount" validate:"required,gt=0"`
	Reason      string   `json:"reason" validate:"required,max=255"`
	ReferenceID string   `json:"reference_id" validate:"omitempty,max=255"`
	Metadata    Metadata `json:"metadata"`
}

// AddRequest — тело POST /admin/credits/add.
type AddRequest struct {
	OwnerID     string   `json:"owner_id" validate:"required,max=255"`
	Amount      int64    `json:"amount" validate:"required,gt=0"`
	Reason      string   `json:"reason" validate:"required,max=255"`
	ReferenceID string   `json:"reference_id" validate:"omitempty,max=255"`
	Metadata    Metadata `json:"metadata"`
}

// BalanceResponse — баланс для показа.
type BalanceResponse struct {
	OwnerID   string `json:"owner_id"`
	Balance   int64  `json:"balance"`
	Formatted string `json:"formatted"`
}

// EntryResponse — запись журнала с подписью суммы.
type EntryResponse struct {
	*Entry
	Formatted string `json:"formatted_amount"`
}

func toEntryResponse(e *Entry) EntryResponse {
	return EntryResponse{Entry: e, Formatted: common.FormatAmount(e.Amount)}
}

func toEntryResponses(entries []*Entry) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toEntryResponse(e))
	}
	return out
}
