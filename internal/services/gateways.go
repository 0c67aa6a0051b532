package services

import (
	"context"
	"encoding/json"

	"esim-storefront/internal/esimgo"
	"esim-storefront/internal/telegram"
)

// ProviderGateway описывает API провайдера eSIM
type ProviderGateway interface {
	GetCatalogue(ctx context.Context, filter esimgo.CatalogueFilter) (json.RawMessage, error)
	ListBundles(ctx context.Context, filter esimgo.CatalogueFilter) ([]esimgo.Bundle, error)
	CreateOrder(ctx context.Context, bundleName, iccid string) (*esimgo.OrderResult, error)
	GetAssignments(ctx context.Context, orderReference string) ([]esimgo.Assignment, error)
}

// InvoiceGateway создает ссылки на оплату звёздами
type InvoiceGateway interface {
	CreateInvoiceLink(ctx context.Context, params telegram.InvoiceLinkParams) (string, error)
}

// CheckoutGateway отвечает на pre_checkout_query
type CheckoutGateway interface {
	AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error
}

// MessageSender отправляет сообщения покупателю
type MessageSender interface {
	SendMessage(ctx context.Context, chatID, text string) error
}
