package handlers

import (
	"errors"
	"net/http"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/logger"
)

// writeServiceError переводит вид ошибки в HTTP статус.
// Ошибки провайдера и Telegram отдаются с исходным сообщением, ошибки хранилища скрываются.
func writeServiceError(w http.ResponseWriter, log *logger.Logger, err error, internalMessage string) {
	switch {
	case apperror.Is(err, apperror.KindNotFound):
		writeErrorResponse(w, http.StatusNotFound, publicMessage(err))
	case apperror.Is(err, apperror.KindValidation), apperror.Is(err, apperror.KindState):
		writeErrorResponse(w, http.StatusBadRequest, publicMessage(err))
	case apperror.Is(err, apperror.KindConflict):
		writeErrorResponse(w, http.StatusConflict, publicMessage(err))
	case apperror.Is(err, apperror.KindUpstream):
		if log != nil {
			log.WithError(err).Warn(internalMessage)
		}
		writeErrorResponse(w, http.StatusInternalServerError, publicMessage(err))
	default:
		if log != nil {
			log.WithError(err).Error(internalMessage)
		}
		writeErrorResponse(w, http.StatusInternalServerError, internalMessage)
	}
}

// publicMessage возвращает сообщение верхнего apperror без обёрнутой причины
func publicMessage(err error) string {
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Msg != "" {
		return appErr.Msg
	}
	return err.Error()
}
