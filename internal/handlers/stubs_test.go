package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"esim-storefront/internal/config"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/telegram"
)

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}

type stubPromoService struct {
	validation *models.PromoValidation
	promo      *models.PromoCode
	promos     []models.PromoCode
	err        error
	lastCode   string
	lastAmount float64
	lastReq    *models.PromoCodeRequest
	deleted    string
}

func (s *stubPromoService) Validate(ctx context.Context, code string, amount float64) (*models.PromoValidation, error) {
	s.lastCode, s.lastAmount = code, amount
	return s.validation, s.err
}
func (s *stubPromoService) ListPromoCodes(ctx context.Context) ([]models.PromoCode, error) {
	return s.promos, s.err
}
func (s *stubPromoService) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	s.lastCode = code
	return s.promo, s.err
}
func (s *stubPromoService) CreatePromoCode(ctx context.Context, req *models.PromoCodeRequest) (*models.PromoCode, error) {
	s.lastReq = req
	return s.promo, s.err
}
func (s *stubPromoService) UpdatePromoCode(ctx context.Context, code string, req *models.PromoCodeRequest) (*models.PromoCode, error) {
	s.lastCode, s.lastReq = code, req
	return s.promo, s.err
}
func (s *stubPromoService) DeletePromoCode(ctx context.Context, code string) error {
	s.deleted = code
	return s.err
}

type stubCatalog struct {
	bundles     []models.Bundle
	raw         json.RawMessage
	err         error
	lastCountry string
}

func (s *stubCatalog) Catalogue(ctx context.Context, countryCode string) (json.RawMessage, error) {
	s.lastCountry = countryCode
	return s.raw, s.err
}
func (s *stubCatalog) ListBundles(ctx context.Context, countryCode string) ([]models.Bundle, error) {
	s.lastCountry = countryCode
	return s.bundles, s.err
}

type stubPlans struct {
	plans    models.PlanSet
	fallback bool
	clearErr error
	cleared  bool
	lastKey  [2]string
}

func (s *stubPlans) LoadPlans(ctx context.Context, countryCode, region string) (models.PlanSet, bool) {
	s.lastKey = [2]string{countryCode, region}
	return s.plans, s.fallback
}
func (s *stubPlans) Clear(ctx context.Context) error {
	s.cleared = true
	return s.clearErr
}

type stubOrders struct {
	order        *models.Order
	orders       []models.Order
	providerResp map[string]interface{}
	providerReq  *models.CreateProviderOrderRequest
	err          error
	lastRef      string
	lastCustomer string
	lastStatus   *models.UpdateOrderStatusRequest
	issued       bool
}

func (s *stubOrders) GetOrder(ctx context.Context, reference string) (*models.Order, error) {
	s.lastRef = reference
	return s.order, s.err
}
func (s *stubOrders) ListCustomerOrders(ctx context.Context, customer string) ([]models.Order, error) {
	s.lastCustomer = customer
	return s.orders, s.err
}
func (s *stubOrders) UpdateOrderStatus(ctx context.Context, reference string, req *models.UpdateOrderStatusRequest) (*models.Order, error) {
	s.lastRef, s.lastStatus = reference, req
	return s.order, s.err
}
func (s *stubOrders) IssueEsim(ctx context.Context, reference string) (*models.Order, error) {
	s.lastRef, s.issued = reference, true
	return s.order, s.err
}
func (s *stubOrders) CreateProviderOrder(ctx context.Context, req *models.CreateProviderOrderRequest) (map[string]interface{}, error) {
	s.providerReq = req
	return s.providerResp, s.err
}

type stubMigrator struct {
	report *models.MigrationReport
	err    error
}

func (s *stubMigrator) Migrate(ctx context.Context) (*models.MigrationReport, error) {
	return s.report, s.err
}

type stubInvoices struct {
	invoice *models.Invoice
	err     error
	lastReq *models.CreateInvoiceRequest
}

func (s *stubInvoices) CreateInvoice(ctx context.Context, req *models.CreateInvoiceRequest) (*models.Invoice, error) {
	s.lastReq = req
	return s.invoice, s.err
}

type stubUpdates struct {
	err     error
	updates []*telegram.Update
}

func (s *stubUpdates) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	s.updates = append(s.updates, update)
	return s.err
}
