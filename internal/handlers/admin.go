package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
)

const adminTokenHeader = "X-Admin-Token"

// AdminHandler обслуживает административные эндпоинты
type AdminHandler struct {
	promo    PromoAdminService
	orders   OrderService
	migrator OrderMigrator
	plans    PlanProvider
	log      *logger.Logger
}

// NewAdminHandler создаёт обработчик админки
func NewAdminHandler(promo PromoAdminService, orders OrderService, migrator OrderMigrator, plans PlanProvider, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		promo:    promo,
		orders:   orders,
		migrator: migrator,
		plans:    plans,
		log:      log,
	}
}

// AdminAuthMiddleware пропускает запрос только с верным X-Admin-Token.
// Без настроенного токена админка выключена.
func AdminAuthMiddleware(token string, log *logger.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			writeErrorResponse(w, http.StatusForbidden, "Admin API is disabled")
			return
		}
		got := r.Header.Get(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			if log != nil {
				log.WithField("path", r.URL.Path).Warn("Rejected admin request")
			}
			writeErrorResponse(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r)
	}
}

// ListPromoCodes возвращает все промокоды
func (h *AdminHandler) ListPromoCodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	promos, err := h.promo.ListPromoCodes(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list promocodes")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"promocodes": promos,
		"count":      len(promos),
	})
}

// CreatePromoCode создаёт промокод
func (h *AdminHandler) CreatePromoCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.PromoCodeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	promo, err := h.promo.CreatePromoCode(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create promocode")
		return
	}

	writeSuccessResponse(w, http.StatusCreated, map[string]interface{}{"promocode": promo})
}

// GetPromoCode возвращает промокод по коду
func (h *AdminHandler) GetPromoCode(w http.ResponseWriter, r *http.Request) {
	code, ok := h.promoCodeFromPath(w, r)
	if !ok {
		return
	}

	promo, err := h.promo.GetPromoCode(r.Context(), code)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get promocode")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"promocode": promo})
}

// UpdatePromoCode изменяет промокод
func (h *AdminHandler) UpdatePromoCode(w http.ResponseWriter, r *http.Request) {
	code, ok := h.promoCodeFromPath(w, r)
	if !ok {
		return
	}

	var req models.PromoCodeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	promo, err := h.promo.UpdatePromoCode(r.Context(), code, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update promocode")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"promocode": promo})
}

// DeletePromoCode удаляет промокод
func (h *AdminHandler) DeletePromoCode(w http.ResponseWriter, r *http.Request) {
	code, ok := h.promoCodeFromPath(w, r)
	if !ok {
		return
	}

	if err := h.promo.DeletePromoCode(r.Context(), code); err != nil {
		writeServiceError(w, h.log, err, "Failed to delete promocode")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"deleted": code})
}

func (h *AdminHandler) promoCodeFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	code, err := extractPathParam(r.URL.Path, "/api/admin/promocodes/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return code, true
}

// UpdateOrderStatus меняет статус заказа: PUT /api/admin/orders/{ref}/status
func (h *AdminHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	reference, err := extractPathParam(r.URL.Path, "/api/admin/orders/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	var req models.UpdateOrderStatusRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Status = models.OrderStatus(strings.ToLower(strings.TrimSpace(string(req.Status))))

	order, err := h.orders.UpdateOrderStatus(r.Context(), reference, &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to update order status")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"order": order})
}

// IssueEsim повторяет выпуск eSIM: POST /api/admin/orders/{ref}/issue
func (h *AdminHandler) IssueEsim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	reference, err := extractPathParam(r.URL.Path, "/api/admin/orders/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orders.IssueEsim(r.Context(), reference)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to issue eSIM")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"order": order})
}

// MigrateOrders запускает миграцию статусов
func (h *AdminHandler) MigrateOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	report, err := h.migrator.Migrate(r.Context())
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to migrate orders")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"report": report})
}

// ClearPlanCache сбрасывает кеш тарифов
func (h *AdminHandler) ClearPlanCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if err := h.plans.Clear(r.Context()); err != nil {
		writeServiceError(w, h.log, err, "Failed to clear plan cache")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"cleared": true})
}
