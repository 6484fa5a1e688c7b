// handlers.go — HTTP-обработчики реестра.
// Владелец счёта берётся из токена и передаётся в сервис явным аргументом.
package ledger

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/credit-ledger/internal/common"
	"serotonyl.ru/credit-ledger/internal/server/middleware"
	"serotonyl.ru/credit-ledger/internal/server/respond"
)

// Handler обрабатывает запросы к реестру.
type Handler struct {
	service   *Service
	maxAmount int64 // Потолок суммы одного запроса
}

// NewHandler создаёт обработчик реестра.
func NewHandler(service *Service, maxAmount int64) *Handler {
	return &Handler{service: service, maxAmount: maxAmount}
}

// Routes — маршруты владельца счёта (под Auth).
// mutate оборачивает изменяющие маршруты (rate limit).
func (h *Handler) Routes(r chi.Router, mutate func(http.Handler) http.Handler) {
	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.Transactions)
	r.With(mutate).Post("/deduct", h.Deduct)
	r.With(mutate).Post("/transfer", h.Transfer)
}

// AdminRoutes — маршруты администратора (под AdminKey).
func (h *Handler) AdminRoutes(r chi.Router) {
	r.Post("/add", h.Add)
	r.Get("/{ownerID}/audit", h.Audit)
}

// Balance — GET /credits/balance.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	balance, err := h.service.GetBalance(r.Context(), owner)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, http.StatusOK, "", BalanceResponse{
		OwnerID:   owner,
		Balance:   balance,
		Formatted: common.FormatBalance(balance),
	})
}

// Transactions — GET /credits/transactions?limit=N.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	entries, err := h.service.History(r.Context(), owner, limit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, http.StatusOK, "", toEntryResponses(entries))
}

// Deduct — POST /credits/deduct.
func (h *Handler) Deduct(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req DeductRequest
	if !respond.Bind(w, r, &req) || !h.checkAmount(w, req.Amount) {
		return
	}

	entry, err := h.service.Debit(r.Context(), owner, req.Amount, req.Reason, req.ReferenceID, req.Metadata)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, http.StatusOK, "Кредиты списаны", toEntryResponse(entry))
}

// Transfer — POST /credits/transfer.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.owner(w, r)
	if !ok {
		return
	}
	var req TransferRequest
	if !respond.Bind(w, r, &req) || !h.checkAmount(w, req.Amount) {
		return
	}

	res, err := h.service.Transfer(r.Context(), owner, req.ToOwnerID, req.Amount, req.Reason, req.ReferenceID, req.Metadata)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, http.StatusOK, "Перевод выполнен", res)
}

// Add — POST /admin/credits/add.
func (h *Handler) Add(w http.ResponseWriter, r *http.Request) {
	var req AddRequest
	if !respond.Bind(w, r, &req) || !h.checkAmount(w, req.Amount) {
		return
	}

	entry, err := h.service.Credit(r.Context(), req.OwnerID, req.Amount, req.Reason, req.ReferenceID, req.Metadata)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, http.StatusCreated, "Кредиты начислены", toEntryResponse(entry))
}

// Audit — GET /admin/credits/{ownerID}/audit?limit=N.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	report, err := h.service.Audit(r.Context(), chi.URLParam(r, "ownerID"), limit)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, http.StatusOK, "", report)
}

func (h *Handler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := middleware.OwnerID(r.Context())
	if !ok {
		respond.Error(w, r, common.ErrUnauthorized)
	}
	return owner, ok
}

func (h *Handler) checkAmount(w http.ResponseWriter, amount int64) bool {
	if h.maxAmount > 0 && amount > h.maxAmount {
		respond.Fail(w, http.StatusUnprocessableEntity, "ошибка валидации", map[string]string{
			"amount": fmt.Sprintf("не больше %d", h.maxAmount),
		})
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		respond.Fail(w, http.StatusBadRequest, "limit должен быть неотрицательным числом", nil)
		return 0, false
	}
	return limit, true
}
