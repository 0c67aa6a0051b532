package handlers

import (
	"net/http"
	"strings"

	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
)

// PromoHandler проверяет промокоды для витрины
type PromoHandler struct {
	promo PromoValidator
	log   *logger.Logger
}

// NewPromoHandler создаёт новый обработчик промокодов
func NewPromoHandler(promo PromoValidator, log *logger.Logger) *PromoHandler {
	return &PromoHandler{promo: promo, log: log}
}

// Validate проверяет промокод и считает скидку
func (h *PromoHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.ValidatePromoRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.promo.Validate(r.Context(), req.Code, req.Amount)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to validate promocode")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"promocode": result.Promocode,
		"discount":  result.Discount,
	})
}

// ESIMGoHandler отдаёт каталог провайдера и принимает прямые заказы
type ESIMGoHandler struct {
	catalog CatalogService
	orders  ProviderOrderService
	log     *logger.Logger
}

// NewESIMGoHandler создаёт обработчик провайдера
func NewESIMGoHandler(catalog CatalogService, orders ProviderOrderService, log *logger.Logger) *ESIMGoHandler {
	return &ESIMGoHandler{catalog: catalog, orders: orders, log: log}
}

// Bundles возвращает нормализованные пакеты страны
func (h *ESIMGoHandler) Bundles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	country := strings.TrimSpace(r.URL.Query().Get("country"))
	bundles, err := h.catalog.ListBundles(r.Context(), country)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load bundles")
		return
	}
	if bundles == nil {
		bundles = []models.Bundle{}
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"bundles": bundles,
		"count":   len(bundles),
	})
}

// Catalogue отдаёт каталог провайдера как есть
func (h *ESIMGoHandler) Catalogue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	raw, err := h.catalog.Catalogue(r.Context(), r.URL.Query().Get("country"))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to load catalogue")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		h.log.WithError(err).Warn("Failed to write catalogue response")
	}
}

// CreateOrder заказывает пакет у провайдера
func (h *ESIMGoHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req models.CreateProviderOrderRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.orders.CreateProviderOrder(r.Context(), &req)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to create eSIM order")
		return
	}

	writeSuccessResponse(w, http.StatusOK, resp)
}

// PlansHandler отдаёт тарифы витрины из кеша
type PlansHandler struct {
	plans PlanProvider
}

// NewPlansHandler создаёт обработчик тарифов
func NewPlansHandler(plans PlanProvider) *PlansHandler {
	return &PlansHandler{plans: plans}
}

// List возвращает обычные и безлимитные тарифы. При недоступности провайдера fallback=true.
func (h *PlansHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	plans, fallback := h.plans.LoadPlans(r.Context(), query.Get("country"), query.Get("region"))

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"standard":  plans.Standard,
		"unlimited": plans.Unlimited,
		"fallback":  fallback,
	})
}

// OrdersHandler отдаёт покупателю его заказы
type OrdersHandler struct {
	orders OrderService
	log    *logger.Logger
}

// NewOrdersHandler создаёт обработчик заказов
func NewOrdersHandler(orders OrderService, log *logger.Logger) *OrdersHandler {
	return &OrdersHandler{orders: orders, log: log}
}

// List возвращает заказы покупателя
func (h *OrdersHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	orders, err := h.orders.ListCustomerOrders(r.Context(), r.URL.Query().Get("telegram_user_id"))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list orders")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// Get возвращает заказ по номеру. Если передан telegram_user_id, чужой заказ не отдаётся.
func (h *OrdersHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	reference, err := extractPathParam(r.URL.Path, "/api/orders/")
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := h.orders.GetOrder(r.Context(), reference)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get order")
		return
	}

	if customer := strings.TrimSpace(r.URL.Query().Get("telegram_user_id")); customer != "" && customer != order.Customer {
		writeErrorResponse(w, http.StatusNotFound, "order not found")
		return
	}

	writeSuccessResponse(w, http.StatusOK, map[string]interface{}{"order": order})
}
