// Package respond — единый формат ответов HTTP API и разбор тел запросов.
//
// Любой ответ — конверт:
//
//	{"success": bool, "message": "...", "data": ..., "error": "...", "details": {"поле": "..."}}
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/credit-ledger/internal/common"
)

// Envelope — тело любого ответа.
type Envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    any               `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Максимальный размер тела запроса.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// В details отдаём имена полей как в JSON
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// JSON пишет конверт с нужным статусом.
func JSON(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Не удалось записать ответ")
	}
}

// OK — успешный ответ с данными.
func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Fail — ответ с ошибкой без обращения к таксономии.
func Fail(w http.ResponseWriter, status int, message string, details map[string]string) {
	JSON(w, status, Envelope{Success: false, Error: message, Details: details})
}

// Error переводит ошибку сервиса в HTTP-ответ.
// Текст 5xx наружу не отдаётся, только в лог.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": status,
		}).WithError(err).Error("Ошибка обработки запроса")
	}

	message := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		message = common.ErrStorageUnavailable.Error()
	case http.StatusInternalServerError:
		message = "внутренняя ошибка сервера"
	}
	Fail(w, status, message, nil)
}

// StatusFor — HTTP-статус для ошибки из common.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrInvalidAmount),
		errors.Is(err, common.ErrInvalidReason),
		errors.Is(err, common.ErrInvalidReference),
		errors.Is(err, common.ErrInvalidOwner),
		errors.Is(err, common.ErrSelfTransfer),
		errors.Is(err, common.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrAccountNotFound),
		errors.Is(err, common.ErrUnknownRewardEvent):
		return http.StatusNotFound
	case errors.Is(err, common.ErrDuplicateReference),
		errors.Is(err, common.ErrReconcileInProgress),
		errors.Is(err, common.ErrRewardRuleInactive):
		return http.StatusConflict
	case errors.Is(err, common.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Bind читает JSON-тело в dst и проверяет теги validate.
// При ошибке сам пишет ответ 400/422 и возвращает false.
func Bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		Fail(w, http.StatusBadRequest, fmt.Sprintf("некорректное тело запроса: %v", err), nil)
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			Fail(w, http.StatusBadRequest, err.Error(), nil)
			return false
		}
		details := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			details[fe.Field()] = fmt.Sprintf("не прошло проверку '%s'", fe.Tag())
		}
		Fail(w, http.StatusUnprocessableEntity, "ошибка валидации", details)
		return false
	}
	return true
}
