package services

import (
	"context"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/telegram"
)

// PaymentService обрабатывает платёжные обновления вебхука Telegram
type PaymentService struct {
	orders   *OrderService
	promo    *PromoService
	checkout CheckoutGateway
	log      *logger.Logger
}

// NewPaymentService создает сервис оплаты
func NewPaymentService(orders *OrderService, promo *PromoService, checkout CheckoutGateway, log *logger.Logger) *PaymentService {
	return &PaymentService{orders: orders, promo: promo, checkout: checkout, log: log}
}

// HandleUpdate разбирает обновление. Обновления без платёжных данных игнорируются.
func (s *PaymentService) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	switch {
	case update.PreCheckoutQuery != nil:
		return s.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		return s.handleSuccessfulPayment(ctx, update.Message.SuccessfulPayment)
	default:
		return nil
	}
}

func (s *PaymentService) handlePreCheckout(ctx context.Context, query *telegram.PreCheckoutQuery) error {
	ok, reason := s.checkoutAllowed(ctx, query)
	if !ok {
		s.log.WithFields(map[string]interface{}{
			"query_id": query.ID,
			"reason":   reason,
		}).Warn("Pre-checkout rejected")
	}
	return s.checkout.AnswerPreCheckoutQuery(ctx, query.ID, ok, reason)
}

func (s *PaymentService) checkoutAllowed(ctx context.Context, query *telegram.PreCheckoutQuery) (bool, string) {
	payload, err := parseInvoicePayload(query.InvoicePayload)
	if err != nil {
		return false, "Invalid order"
	}
	order, err := s.orders.GetOrder(ctx, payload.OrderReference)
	if err != nil {
		if apperror.Is(err, apperror.KindNotFound) {
			return false, "Order not found"
		}
		return false, "Order is temporarily unavailable, please try again"
	}
	if order.Status != models.OrderStatusOnHold || order.PaymentConfirmed {
		return false, "Order is no longer available"
	}
	if order.StarsAmount > 0 && query.TotalAmount != order.StarsAmount {
		return false, "Order amount has changed"
	}
	return true, ""
}

// handleSuccessfulPayment подтверждает оплату, списывает промокод и выпускает eSIM.
// Ошибка выпуска не откатывает оплату: заказ остаётся оплаченным, выпуск можно повторить.
// Оплата отменённого заказа сохраняется с payment_status refund_required.
func (s *PaymentService) handleSuccessfulPayment(ctx context.Context, payment *telegram.SuccessfulPayment) error {
	payload, err := parseInvoicePayload(payment.InvoicePayload)
	if err != nil {
		return err
	}

	entry := s.log.WithFields(map[string]interface{}{
		"order_reference": payload.OrderReference,
		"charge_id":       payment.TelegramPaymentChargeID,
		"stars":           payment.TotalAmount,
	})

	if payment.Currency != telegram.CurrencyStars {
		entry.WithField("currency", payment.Currency).Warn("Unexpected payment currency")
	}

	existing, err := s.orders.GetOrder(ctx, payload.OrderReference)
	if err != nil {
		entry.WithError(err).Error("Failed to load paid order")
		return err
	}
	redelivered := existing.PaymentConfirmed

	order, err := s.orders.ConfirmPayment(ctx, payload.OrderReference, payment.TelegramPaymentChargeID)
	if apperror.Is(err, apperror.KindState) {
		// заказ отменили между pre_checkout и оплатой
		if _, err := s.orders.RecordOrphanedPayment(ctx, payload.OrderReference, payment.TelegramPaymentChargeID); err != nil {
			entry.WithError(err).Error("Failed to record payment for canceled order")
			return err
		}
		return nil
	}
	if err != nil {
		entry.WithError(err).Error("Failed to confirm payment")
		return err
	}
	entry.WithField("redelivered", redelivered).Info("Payment received")

	// промокод списывается только при первом подтверждении
	if order.PromoCode != "" && !redelivered {
		if err := s.promo.Redeem(ctx, order.PromoCode); err != nil {
			entry.WithError(err).WithField("promocode", order.PromoCode).Warn("Failed to redeem promocode")
		}
	}

	if _, err := s.orders.IssueEsim(ctx, order.OrderReference); err != nil {
		entry.WithError(err).Error("eSIM provisioning failed, order left paid and not issued")
	}
	return nil
}
