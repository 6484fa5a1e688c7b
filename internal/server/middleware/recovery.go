package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/server/respond"
)

// Recover перехватывает панику обработчика и отвечает 500.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithFields(log.Fields{
					"component": "panic_recovery",
					"panic":     fmt.Sprintf("%v", rec),
					"stack":     string(debug.Stack()),
					"path":      r.URL.Path,
				}).Error("ПАНИКА в обработчике — восстановлено")
				respond.Fail(w, http.StatusInternalServerError, "внутренняя ошибка сервера", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
