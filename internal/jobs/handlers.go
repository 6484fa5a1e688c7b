package jobs

import (
	"net/http"

	"serotonyl.ru/credit-ledger/internal/server/respond"
)

// Handler — ручной запуск сверки администратором.
type Handler struct {
	reconciler *Reconciler
}

func NewHandler(reconciler *Reconciler) *Handler {
	return &Handler{reconciler: reconciler}
}

// StatusResponse — состояние задачи и последний отчёт.
type StatusResponse struct {
	State      string  `json:"state"`
	LastReport *Report `json:"last_report"`
}

// RunReconcile — POST /admin/reconcile. Та же аренда, что у расписания.
func (h *Handler) RunReconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context())
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.OK(w, http.StatusOK, "Сверка завершена", report)
}

// Status — GET /admin/reconcile.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	respond.OK(w, http.StatusOK, "", StatusResponse{
		State:      h.reconciler.State().String(),
		LastReport: h.reconciler.LastReport(),
	})
}
