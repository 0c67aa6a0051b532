package handlers

import (
	"context"
	"encoding/json"

	"esim-storefront/internal/models"
	"esim-storefront/internal/telegram"
)

// ----- Promocodes -----

type PromoValidator interface {
	Validate(ctx context.Context, code string, amount float64) (*models.PromoValidation, error)
}

type PromoAdminService interface {
	ListPromoCodes(ctx context.Context) ([]models.PromoCode, error)
	GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error)
	CreatePromoCode(ctx context.Context, req *models.PromoCodeRequest) (*models.PromoCode, error)
	UpdatePromoCode(ctx context.Context, code string, req *models.PromoCodeRequest) (*models.PromoCode, error)
	DeletePromoCode(ctx context.Context, code string) error
}

// ----- Catalogue and plans -----

type CatalogService interface {
	Catalogue(ctx context.Context, countryCode string) (json.RawMessage, error)
	ListBundles(ctx context.Context, countryCode string) ([]models.Bundle, error)
}

type PlanProvider interface {
	LoadPlans(ctx context.Context, countryCode, region string) (models.PlanSet, bool)
	Clear(ctx context.Context) error
}

// ----- Orders -----

type ProviderOrderService interface {
	CreateProviderOrder(ctx context.Context, req *models.CreateProviderOrderRequest) (map[string]interface{}, error)
}

type OrderService interface {
	GetOrder(ctx context.Context, reference string) (*models.Order, error)
	ListCustomerOrders(ctx context.Context, customer string) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, reference string, req *models.UpdateOrderStatusRequest) (*models.Order, error)
	IssueEsim(ctx context.Context, reference string) (*models.Order, error)
}

type OrderMigrator interface {
	Migrate(ctx context.Context) (*models.MigrationReport, error)
}

// ----- Telegram -----

type InvoiceService interface {
	CreateInvoice(ctx context.Context, req *models.CreateInvoiceRequest) (*models.Invoice, error)
}

type UpdateProcessor interface {
	HandleUpdate(ctx context.Context, update *telegram.Update) error
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}

type StoreHealth interface {
	Health(ctx context.Context) error
}
