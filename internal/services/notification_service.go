package services

import (
	"context"
	"fmt"
	"html"

	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
)

// NotificationService сообщает покупателю о ходе заказа
type NotificationService struct {
	sender MessageSender
	log    *logger.Logger
}

// NewNotificationService создает сервис уведомлений
func NewNotificationService(sender MessageSender, log *logger.Logger) *NotificationService {
	return &NotificationService{sender: sender, log: log}
}

// HandleOrderEvent отправляет сообщение по событию заказа
func (s *NotificationService) HandleOrderEvent(ctx context.Context, event *models.Event) error {
	data, err := event.OrderData()
	if err != nil {
		return fmt.Errorf("failed to decode order event: %w", err)
	}
	order := &data.Order
	if order.Customer == "" {
		return nil
	}

	text := orderMessage(event.Type, order)
	if text == "" {
		return nil
	}

	if err := s.sender.SendMessage(ctx, order.Customer, text); err != nil {
		return fmt.Errorf("failed to notify customer %s: %w", order.Customer, err)
	}

	s.log.WithFields(map[string]interface{}{
		"order_reference": order.OrderReference,
		"event_type":      event.Type,
	}).Debug("Customer notified")
	return nil
}

func orderMessage(eventType models.EventType, order *models.Order) string {
	ref := html.EscapeString(order.OrderReference)
	switch eventType {
	case models.EventTypeOrderPaid:
		return fmt.Sprintf("Payment for order <b>%s</b> received. Your eSIM is being prepared.", ref)
	case models.EventTypeOrderEsimIssued:
		msg := fmt.Sprintf("Your eSIM for order <b>%s</b> is ready.", ref)
		if order.ICCID != "" {
			msg += fmt.Sprintf("\nICCID: <code>%s</code>", html.EscapeString(order.ICCID))
		}
		if order.QRCode != "" {
			msg += fmt.Sprintf("\nActivation code: <code>%s</code>", html.EscapeString(order.QRCode))
		}
		return msg
	case models.EventTypeOrderPaymentOrphaned:
		return fmt.Sprintf("Payment for order <b>%s</b> arrived after the order was canceled. The Stars will be refunded.", ref)
	case models.EventTypeOrderStatusChanged:
		if order.Status == models.OrderStatusCanceled {
			return fmt.Sprintf("Order <b>%s</b> was canceled.", ref)
		}
		return ""
	default:
		return ""
	}
}
