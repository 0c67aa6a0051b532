package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/storage"
)

// OrderService представляет сервис для работы с заказами
type OrderService struct {
	store    storage.OrderStore
	provider ProviderGateway
	events   EventPublisher
	log      *logger.Logger
	now      func() time.Time
}

// NewOrderService создает новый экземпляр сервиса заказов
func NewOrderService(store storage.OrderStore, provider ProviderGateway, events EventPublisher, log *logger.Logger) *OrderService {
	if events == nil {
		events = noopPublisher{}
	}
	return &OrderService{
		store:    store,
		provider: provider,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// CreateOrder сохраняет новый заказ покупателя и присваивает ему номер ESIM-YYYY-MM-NNN
func (s *OrderService) CreateOrder(ctx context.Context, order models.Order) (*models.Order, error) {
	order.Customer = strings.TrimSpace(order.Customer)
	if order.Customer == "" {
		return nil, apperror.Validation("telegram_user_id is required", nil)
	}

	now := s.now().UTC()
	var created models.Order
	err := s.store.Update(ctx, func(book models.OrderBook) error {
		created = order
		created.OrderReference = nextOrderReference(book, now)
		if created.Status == "" {
			created.Status = models.OrderStatusOnHold
		}
		if created.PaymentStatus == "" {
			created.PaymentStatus = models.PaymentStatusPending
		}
		if created.Source == "" {
			created.Source = models.DefaultOrderSource
		}
		if created.ProviderProductID == "" {
			created.ProviderProductID = providerProductFor(&created)
		}
		created.CreatedAt = now
		created.UpdatedAt = now

		book[created.Customer] = append(book[created.Customer], created)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"order_reference": created.OrderReference,
		"customer":        created.Customer,
		"plan_id":         created.PlanID,
		"price":           created.Price,
	}).Info("Order created successfully")

	s.publish(ctx, models.EventTypeOrderCreated, &created, "")
	return &created, nil
}

// GetOrder получает заказ по номеру
func (s *OrderService) GetOrder(ctx context.Context, reference string) (*models.Order, error) {
	book, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	customer, idx, ok := book.Find(reference)
	if !ok {
		return nil, apperror.NotFound("order not found", nil)
	}
	order := book[customer][idx]
	return &order, nil
}

// ListCustomerOrders возвращает заказы покупателя в порядке создания
func (s *OrderService) ListCustomerOrders(ctx context.Context, customer string) ([]models.Order, error) {
	customer = strings.TrimSpace(customer)
	if customer == "" {
		return nil, apperror.Validation("telegram_user_id is required", nil)
	}
	book, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	orders := book[customer]
	if orders == nil {
		return []models.Order{}, nil
	}
	return orders, nil
}

// UpdateOrderStatus обновляет статус заказа
func (s *OrderService) UpdateOrderStatus(ctx context.Context, reference string, req *models.UpdateOrderStatusRequest) (*models.Order, error) {
	if req == nil || req.Status == "" {
		return nil, apperror.Validation("status is required", nil)
	}
	if !isKnownOrderStatus(req.Status) {
		return nil, apperror.Validation(fmt.Sprintf("unsupported status %q", req.Status), nil)
	}

	now := s.now().UTC()
	var (
		updated  models.Order
		previous models.OrderStatus
		changed  bool
	)
	err := s.store.Update(ctx, func(book models.OrderBook) error {
		customer, idx, ok := book.Find(reference)
		if !ok {
			return apperror.NotFound("order not found", nil)
		}
		order := &book[customer][idx]
		previous = order.Status

		if order.Status == req.Status {
			updated = *order
			return nil
		}
		if !isValidOrderStatusTransition(order.Status, req.Status) {
			return apperror.Conflict("invalid order status transition", nil)
		}

		order.Status = req.Status
		if req.Status == models.OrderStatusCanceled {
			order.CanceledReason = strings.TrimSpace(req.CanceledReason)
			if order.CanceledReason == "" {
				order.CanceledReason = models.AdminCanceledReason
			}
		}
		order.UpdatedAt = now
		updated = *order
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.WithFields(map[string]interface{}{
			"order_reference": reference,
			"old_status":      previous,
			"new_status":      updated.Status,
		}).Info("Order status updated")
		s.publish(ctx, models.EventTypeOrderStatusChanged, &updated, previous)
	}
	return &updated, nil
}

// ConfirmPayment отмечает заказ оплаченным. Повторное подтверждение ничего не меняет.
func (s *OrderService) ConfirmPayment(ctx context.Context, reference, chargeID string) (*models.Order, error) {
	now := s.now().UTC()
	var (
		updated models.Order
		changed bool
	)
	err := s.store.Update(ctx, func(book models.OrderBook) error {
		customer, idx, ok := book.Find(reference)
		if !ok {
			return apperror.NotFound("order not found", nil)
		}
		order := &book[customer][idx]
		if order.PaymentConfirmed {
			updated = *order
			return nil
		}
		if order.Status == models.OrderStatusCanceled {
			return apperror.State("order is canceled", nil)
		}

		order.PaymentConfirmed = true
		order.PaymentStatus = models.PaymentStatusSucceeded
		if chargeID != "" {
			order.TelegramPaymentChargeID = chargeID
		}
		order.UpdatedAt = now
		updated = *order
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.WithField("order_reference", reference).Info("Order payment confirmed")
		s.publish(ctx, models.EventTypeOrderPaid, &updated, updated.Status)
	}
	return &updated, nil
}

// issueClaimTTL ограничивает срок захвата выпуска. Захват старше считается брошенным.
const issueClaimTTL = 5 * time.Minute

// IssueEsim заказывает eSIM у провайдера для оплаченного заказа и сохраняет данные профиля.
// Перед вызовом провайдера заказ захватывается в хранилище, параллельный вызов получает Conflict.
func (s *OrderService) IssueEsim(ctx context.Context, reference string) (*models.Order, error) {
	order, issued, err := s.claimIssue(ctx, reference)
	if err != nil {
		return nil, err
	}
	if issued {
		return order, nil
	}

	updated, previous, err := s.provisionClaimed(ctx, order)
	if err != nil {
		s.releaseIssue(ctx, reference)
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"order_reference":          reference,
		"provider_order_reference": updated.ProviderOrderReference,
		"iccid":                    updated.ICCID,
	}).Info("eSIM issued")

	s.publish(ctx, models.EventTypeOrderEsimIssued, updated, previous)
	return updated, nil
}

// RecordOrphanedPayment сохраняет платёж, пришедший для отменённого заказа.
// Заказ остаётся отменённым, payment_status становится refund_required.
func (s *OrderService) RecordOrphanedPayment(ctx context.Context, reference, chargeID string) (*models.Order, error) {
	now := s.now().UTC()
	var (
		updated models.Order
		changed bool
	)
	err := s.store.Update(ctx, func(book models.OrderBook) error {
		customer, idx, ok := book.Find(reference)
		if !ok {
			return apperror.NotFound("order not found", nil)
		}
		order := &book[customer][idx]
		if order.Status != models.OrderStatusCanceled {
			return apperror.State("order is not canceled", nil)
		}
		if order.PaymentStatus == models.PaymentStatusRefundRequired && order.TelegramPaymentChargeID == chargeID {
			updated = *order
			return nil
		}

		order.PaymentStatus = models.PaymentStatusRefundRequired
		if chargeID != "" {
			order.TelegramPaymentChargeID = chargeID
		}
		order.UpdatedAt = now
		updated = *order
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.log.WithFields(map[string]interface{}{
			"order_reference": reference,
			"charge_id":       chargeID,
		}).Error("Payment received for canceled order, refund required")
		s.publish(ctx, models.EventTypeOrderPaymentOrphaned, &updated, updated.Status)
	}
	return &updated, nil
}

// claimIssue проверяет заказ и ставит отметку выпуска. Второе значение true, если eSIM уже выпущена.
func (s *OrderService) claimIssue(ctx context.Context, reference string) (*models.Order, bool, error) {
	now := s.now().UTC()
	var (
		claimed models.Order
		issued  bool
	)
	err := s.store.Update(ctx, func(book models.OrderBook) error {
		customer, idx, ok := book.Find(reference)
		if !ok {
			return apperror.NotFound("order not found", nil)
		}
		o := &book[customer][idx]
		if o.EsimIssued {
			claimed, issued = *o, true
			return nil
		}
		if !o.PaymentConfirmed {
			return apperror.State("payment is not confirmed", nil)
		}
		if o.Status == models.OrderStatusCanceled {
			return apperror.State("order is canceled", nil)
		}
		if o.IssuingSince != nil && now.Sub(*o.IssuingSince) < issueClaimTTL {
			return apperror.Conflict("eSIM issuance is already in progress", nil)
		}
		if o.ProviderProductID == "" {
			o.ProviderProductID = providerProductFor(o)
		}
		if o.ProviderProductID == "" {
			return apperror.Validation("order has no provider product", nil)
		}

		since := now
		o.IssuingSince = &since
		claimed = *o
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &claimed, issued, nil
}

// provisionClaimed вызывает провайдера и записывает профиль в захваченный заказ.
func (s *OrderService) provisionClaimed(ctx context.Context, order *models.Order) (*models.Order, models.OrderStatus, error) {
	reference := order.OrderReference
	result, err := s.provider.CreateOrder(ctx, order.ProviderProductID, order.ICCID)
	if err != nil {
		s.log.WithError(err).WithField("order_reference", reference).Error("Failed to create provider order")
		return nil, "", err
	}

	esim, ok := result.FirstAssignment()
	if !ok && result.OrderReference != "" {
		assignments, err := s.provider.GetAssignments(ctx, result.OrderReference)
		if err != nil {
			s.log.WithError(err).WithField("order_reference", reference).Error("Failed to get eSIM assignment")
			return nil, "", err
		}
		if len(assignments) > 0 {
			esim, ok = assignments[0], true
		}
	}
	if !ok {
		return nil, "", apperror.Upstream("eSIM Go returned no eSIM assignment", nil)
	}

	now := s.now().UTC()
	var (
		updated  models.Order
		previous models.OrderStatus
	)
	err = s.store.Update(ctx, func(book models.OrderBook) error {
		customer, idx, found := book.Find(reference)
		if !found {
			return apperror.NotFound("order not found", nil)
		}
		o := &book[customer][idx]
		previous = o.Status

		o.ProviderOrderReference = result.OrderReference
		o.ICCID = esim.ICCID
		o.MatchingID = esim.MatchingID
		o.SMDPAddress = esim.SMDPAddress
		o.QRCode = buildActivationCode(esim.SMDPAddress, esim.MatchingID)
		o.EsimIssued = true
		o.IssuingSince = nil
		o.Status = models.OrderStatusCompleted
		o.UpdatedAt = now
		updated = *o
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{
			"order_reference":          reference,
			"provider_order_reference": result.OrderReference,
		}).Error("Provider order created but eSIM not recorded")
		return nil, "", err
	}
	return &updated, previous, nil
}

// releaseIssue снимает отметку выпуска после неудачи, чтобы выпуск можно было повторить.
func (s *OrderService) releaseIssue(ctx context.Context, reference string) {
	err := s.store.Update(ctx, func(book models.OrderBook) error {
		customer, idx, ok := book.Find(reference)
		if !ok {
			return nil
		}
		book[customer][idx].IssuingSince = nil
		return nil
	})
	if err != nil {
		s.log.WithError(err).WithField("order_reference", reference).Warn("Failed to release eSIM issue claim")
	}
}

// CreateProviderOrder заказывает пакет напрямую у провайдера и записывает заказ.
// Ответ провайдера дополняется данными запроса.
func (s *OrderService) CreateProviderOrder(ctx context.Context, req *models.CreateProviderOrderRequest) (map[string]interface{}, error) {
	if req == nil || strings.TrimSpace(req.BundleID) == "" {
		return nil, apperror.Validation("bundle_id is required", nil)
	}
	if strings.TrimSpace(req.TelegramUserID.String()) == "" {
		return nil, apperror.Validation("telegram_user_id is required", nil)
	}

	result, err := s.provider.CreateOrder(ctx, req.BundleID, req.ICCID)
	if err != nil {
		return nil, err
	}

	esim, issued := result.FirstAssignment()
	order := models.Order{
		Status:                 models.OrderStatusCompleted,
		PaymentStatus:          models.PaymentStatusSucceeded,
		PaymentConfirmed:       true,
		EsimIssued:             issued,
		Customer:               req.TelegramUserID.String(),
		ProviderProductID:      req.BundleID,
		ProviderOrderReference: result.OrderReference,
		ICCID:                  esim.ICCID,
		MatchingID:             esim.MatchingID,
		SMDPAddress:            esim.SMDPAddress,
		PlanID:                 req.PlanID,
		PlanType:               req.PlanType,
		BundleName:             req.BundleID,
		CountryCode:            req.CountryCode,
		CountryName:            req.CountryName,
		Price:                  result.Total,
		Currency:               result.Currency,
	}
	if issued {
		order.QRCode = buildActivationCode(esim.SMDPAddress, esim.MatchingID)
	}

	response := make(map[string]interface{}, len(result.Raw)+7)
	for k, v := range result.Raw {
		response[k] = v
	}
	response["bundle_id"] = req.BundleID
	response["telegram_user_id"] = req.TelegramUserID.String()
	response["country_code"] = req.CountryCode
	response["country_name"] = req.CountryName
	response["plan_id"] = req.PlanID
	response["plan_type"] = req.PlanType

	recorded, err := s.CreateOrder(ctx, order)
	if err != nil {
		s.log.WithError(err).WithField("provider_order_reference", result.OrderReference).
			Error("Provider order created but not recorded")
		return response, nil
	}
	response["order_reference"] = recorded.OrderReference
	if recorded.EsimIssued {
		s.publish(ctx, models.EventTypeOrderEsimIssued, recorded, recorded.Status)
	}
	return response, nil
}

func (s *OrderService) publish(ctx context.Context, eventType models.EventType, order *models.Order, previous models.OrderStatus) {
	event, err := models.NewOrderEvent(eventType, order, previous)
	if err != nil {
		s.log.WithError(err).WithField("event_type", eventType).Warn("Failed to build order event")
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.WithError(err).WithFields(map[string]interface{}{
			"event_type":      eventType,
			"order_reference": order.OrderReference,
		}).Warn("Failed to publish order event")
	}
}

// nextOrderReference возвращает номер ESIM-YYYY-MM-NNN, где NNN означает порядковый номер заказа в месяце
func nextOrderReference(book models.OrderBook, now time.Time) string {
	prefix := fmt.Sprintf("ESIM-%04d-%02d-", now.Year(), int(now.Month()))
	taken := make(map[string]struct{})
	for _, orders := range book {
		for i := range orders {
			if strings.HasPrefix(orders[i].OrderReference, prefix) {
				taken[orders[i].OrderReference] = struct{}{}
			}
		}
	}
	for n := len(taken) + 1; ; n++ {
		ref := fmt.Sprintf("%s%03d", prefix, n)
		if _, exists := taken[ref]; !exists {
			return ref
		}
	}
}

func buildActivationCode(smdpAddress, matchingID string) string {
	if smdpAddress == "" || matchingID == "" {
		return ""
	}
	return "LPA:1$" + smdpAddress + "$" + matchingID
}

func providerProductFor(order *models.Order) string {
	if order.BundleName != "" {
		return order.BundleName
	}
	return order.PlanID
}

func isKnownOrderStatus(status models.OrderStatus) bool {
	switch status {
	case models.OrderStatusOnHold, models.OrderStatusCompleted, models.OrderStatusActive, models.OrderStatusCanceled:
		return true
	default:
		return false
	}
}

func normalizeOrderStatus(status models.OrderStatus) models.OrderStatus {
	switch status {
	case models.OrderStatusLegacyPending, models.OrderStatusLegacyProcessing:
		return models.OrderStatusOnHold
	case models.OrderStatusLegacyCancelled:
		return models.OrderStatusCanceled
	default:
		return status
	}
}

func isValidOrderStatusTransition(from, to models.OrderStatus) bool {
	from = normalizeOrderStatus(from)
	if from == to {
		return true
	}
	switch from {
	case models.OrderStatusOnHold:
		return to == models.OrderStatusCompleted || to == models.OrderStatusCanceled
	case models.OrderStatusCompleted, models.OrderStatusActive:
		return to == models.OrderStatusCanceled
	case models.OrderStatusCanceled:
		return false
	default:
		return false
	}
}
