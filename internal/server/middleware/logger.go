// Package middleware содержит промежуточные обработчики HTTP: логирование,
// восстановление после паники, rate-limiting и проверку доступа.
package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// Logger логирует каждый запрос после ответа.
// Записывает: метод, путь, статус, размер ответа, длительность, request_id.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		fields := log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  chimw.GetReqID(r.Context()),
			"remote":      clientIP(r),
		}
		if owner, ok := OwnerID(r.Context()); ok {
			fields["owner_id"] = owner
		}

		entry := log.WithFields(fields)
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			entry.Warn("HTTP-запрос")
		case r.URL.Path == "/health":
			entry.Debug("HTTP-запрос")
		default:
			entry.Info("HTTP-запрос")
		}
	})
}
