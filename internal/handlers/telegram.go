package handlers

import (
	"crypto/subtle"
	"net/http"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/telegram"
)

const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// TelegramHandler выставляет счета и принимает вебхук Bot API
type TelegramHandler struct {
	invoices      InvoiceService
	updates       UpdateProcessor
	webhookSecret string
	log           *logger.Logger
}

// NewTelegramHandler создаёт обработчик Telegram. Пустой webhookSecret отключает проверку заголовка.
func NewTelegramHandler(invoices InvoiceService, updates UpdateProcessor, webhookSecret string, log *logger.Logger) *TelegramHandler {
	return &TelegramHandler{
		invoices:      invoices,
		updates:       updates,
		webhookSecret: webhookSecret,
		log:           log,
	}
}

// CreateInvoice создаёт заказ и ссылку на оплату звёздами
func (h *TelegramHandler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.CreateInvoiceRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	invoice, err := h.invoices.CreateInvoice(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create invoice")
		return
	}

	fields := map[string]interface{}{
		"invoice_link":    invoice.InvoiceLink,
		"order_reference": invoice.OrderReference,
		"stars_amount":    invoice.StarsAmount,
		"price":           invoice.Price,
	}
	if invoice.DiscountAmount > 0 {
		fields["discount_amount"] = invoice.DiscountAmount
	}
	writeSuccessResponse(w, http.StatusOK, fields)
}

// Webhook принимает обновление Bot API.
// Ошибки разбора и отклонённые обновления подтверждаются 200, сбои обработки возвращают 500.
func (h *TelegramHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if h.webhookSecret != "" {
		got := r.Header.Get(webhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	var update telegram.Update
	if err := decodeJSONBody(r, &update); err != nil {
		h.log.WithError(err).Warn("Failed to decode Telegram update")
		writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	entry := h.log.WithField("update_id", update.UpdateID)
	if err := h.updates.HandleUpdate(r.Context(), &update); err != nil {
		if apperror.Is(err, apperror.KindValidation) || apperror.Is(err, apperror.KindNotFound) || apperror.Is(err, apperror.KindState) {
			entry.WithError(err).Warn("Telegram update rejected")
			writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
			return
		}
		entry.WithError(err).Error("Failed to process Telegram update")
		writeErrorResponse(w, http.StatusInternalServerError, "Failed to process update")
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]bool{"ok": true})
}
