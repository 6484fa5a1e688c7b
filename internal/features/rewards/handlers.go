package rewards

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"serotonyl.ru/credit-ledger/internal/features/ledger"
	"serotonyl.ru/credit-ledger/internal/server/respond"
)

// DispatchRequest — тело POST /admin/rewards/{event}.
type DispatchRequest struct {
	OwnerID     string          `json:"owner_id" validate:"required,max=255"`
	ReferenceID string          `json:"reference_id" validate:"omitempty,max=255"`
	Metadata    ledger.Metadata `json:"metadata"`
}

// Handler обрабатывает запросы к наградам.
type Handler struct {
	service *Service
}

// NewHandler создаёт обработчик наград.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// ListRules — GET /rewards/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, http.StatusOK, "", h.service.Rules())
}

// Dispatch — POST /admin/rewards/{event}.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if !respond.Bind(w, r, &req) {
		return
	}

	event := Event(chi.URLParam(r, "event"))
	entry, err := h.service.Dispatch(r.Context(), req.OwnerID, event, req.ReferenceID, req.Metadata)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, http.StatusCreated, "Награда выдана", entry)
}
