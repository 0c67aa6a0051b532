package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/telegram"
)

const (
	maxInvoicePayloadLen     = 120
	maxInvoiceTitleLen       = 32
	maxInvoiceDescriptionLen = 255

	invoiceFailedReason = "invoice_failed"
)

// InvoiceService выставляет счета в звёздах Telegram
type InvoiceService struct {
	orders   *OrderService
	promo    *PromoService
	pricing  *PricingService
	telegram InvoiceGateway
	log      *logger.Logger
	currency string
}

// NewInvoiceService создает сервис счетов
func NewInvoiceService(orders *OrderService, promo *PromoService, pricing *PricingService, gateway InvoiceGateway, log *logger.Logger, currency string) *InvoiceService {
	if currency == "" {
		currency = "USD"
	}
	return &InvoiceService{
		orders:   orders,
		promo:    promo,
		pricing:  pricing,
		telegram: gateway,
		log:      log,
		currency: strings.ToUpper(currency),
	}
}

// CreateInvoice создает заказ on_hold и ссылку на его оплату.
// Если счёт выставить не удалось, заказ отменяется.
func (s *InvoiceService) CreateInvoice(ctx context.Context, req *models.CreateInvoiceRequest) (*models.Invoice, error) {
	if err := validateInvoiceRequest(req); err != nil {
		return nil, err
	}

	price := req.Price
	var discount float64
	promoCode := strings.TrimSpace(req.PromoCode)
	if promoCode != "" {
		validation, err := s.promo.Validate(ctx, promoCode, req.Price)
		if err != nil {
			return nil, err
		}
		discount = validation.Discount.Amount
		price = validation.Discount.FinalAmount
		promoCode = validation.Promocode.Code
	}

	stars := s.pricing.ToStars(price)
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.currency
	}

	order, err := s.orders.CreateOrder(ctx, models.Order{
		Customer:       req.TelegramUserID.String(),
		PlanID:         req.PlanID,
		PlanType:       req.PlanType,
		BundleName:     req.BundleName,
		CountryCode:    strings.ToUpper(req.CountryCode),
		CountryName:    req.CountryName,
		Price:          price,
		Currency:       currency,
		StarsAmount:    stars,
		PromoCode:      promoCode,
		DiscountAmount: discount,
	})
	if err != nil {
		return nil, err
	}

	payload, err := buildInvoicePayload(models.InvoicePayload{
		OrderReference: order.OrderReference,
		PlanID:         req.PlanID,
		PlanType:       req.PlanType,
		CountryCode:    strings.ToUpper(req.CountryCode),
		CountryName:    req.CountryName,
		TelegramUserID: req.TelegramUserID.String(),
	})
	if err != nil {
		s.cancelOrder(ctx, order.OrderReference)
		return nil, err
	}

	title, description := invoiceTexts(req)
	link, err := s.telegram.CreateInvoiceLink(ctx, telegram.InvoiceLinkParams{
		Title:       title,
		Description: description,
		Payload:     payload,
		Currency:    telegram.CurrencyStars,
		Prices:      []telegram.LabeledPrice{{Label: title, Amount: stars}},
	})
	if err != nil {
		s.log.WithError(err).WithField("order_reference", order.OrderReference).Error("Failed to create invoice link")
		s.cancelOrder(ctx, order.OrderReference)
		return nil, err
	}

	s.log.WithFields(map[string]interface{}{
		"order_reference": order.OrderReference,
		"stars":           stars,
		"price":           price,
	}).Info("Invoice created")

	return &models.Invoice{
		InvoiceLink:    link,
		OrderReference: order.OrderReference,
		StarsAmount:    stars,
		Price:          price,
		DiscountAmount: discount,
	}, nil
}

func (s *InvoiceService) cancelOrder(ctx context.Context, reference string) {
	_, err := s.orders.UpdateOrderStatus(ctx, reference, &models.UpdateOrderStatusRequest{
		Status:         models.OrderStatusCanceled,
		CanceledReason: invoiceFailedReason,
	})
	if err != nil {
		s.log.WithError(err).WithField("order_reference", reference).Warn("Failed to cancel order after invoice failure")
	}
}

func validateInvoiceRequest(req *models.CreateInvoiceRequest) error {
	if req == nil {
		return apperror.Validation("request body is required", nil)
	}
	if strings.TrimSpace(req.PlanID) == "" {
		return apperror.Validation("plan_id is required", nil)
	}
	if strings.TrimSpace(req.TelegramUserID.String()) == "" {
		return apperror.Validation("telegram_user_id is required", nil)
	}
	if req.Price <= 0 {
		return apperror.Validation("price must be greater than 0", nil)
	}
	return nil
}

// buildInvoicePayload сериализует полезную нагрузку не длиннее 120 символов.
// При превышении отбрасывается название страны.
func buildInvoicePayload(payload models.InvoicePayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode invoice payload: %w", err)
	}
	if len(data) <= maxInvoicePayloadLen {
		return string(data), nil
	}

	payload.CountryName = ""
	data, err = json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode invoice payload: %w", err)
	}
	if len(data) > maxInvoicePayloadLen {
		return "", apperror.Validation("invoice payload is too long", nil)
	}
	return string(data), nil
}

// parseInvoicePayload разбирает полезную нагрузку из платежа
func parseInvoicePayload(raw string) (*models.InvoicePayload, error) {
	var payload models.InvoicePayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, apperror.Validation("invalid invoice payload", err)
	}
	if payload.OrderReference == "" {
		return nil, apperror.Validation("invoice payload has no order reference", nil)
	}
	return &payload, nil
}

func invoiceTexts(req *models.CreateInvoiceRequest) (string, string) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "eSIM"
		if req.CountryName != "" {
			title += " " + req.CountryName
		}
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "eSIM data plan " + req.PlanID
		if req.CountryName != "" {
			description += " for " + req.CountryName
		}
	}
	return truncateRunes(title, maxInvoiceTitleLen), truncateRunes(description, maxInvoiceDescriptionLen)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
