package services

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"esim-storefront/internal/config"
	"esim-storefront/internal/esimgo"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/storage"
	"esim-storefront/internal/telegram"
)

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "error", Format: "json"})
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newTestOrderStore(t *testing.T) *storage.FileOrderStore {
	t.Helper()
	return storage.NewFileOrderStore(filepath.Join(t.TempDir(), "orders.json"), newTestLogger())
}

func newTestSettingsStore(t *testing.T, promos ...models.PromoCode) *storage.SettingsStore {
	t.Helper()
	store := storage.NewSettingsStore(filepath.Join(t.TempDir(), "settings.json"), newTestLogger())
	if len(promos) > 0 {
		err := store.Update(context.Background(), func(s *models.Settings) error {
			s.Promocodes = append(s.Promocodes, promos...)
			return nil
		})
		if err != nil {
			t.Fatalf("failed to seed settings: %v", err)
		}
	}
	return store
}

func intPtr(v int) *int { return &v }

type stubProvider struct {
	mu          sync.Mutex
	bundles     []esimgo.Bundle
	catalogue   json.RawMessage
	order       *esimgo.OrderResult
	assignments []esimgo.Assignment
	err         error
	delay       time.Duration

	orderCalls []string
	listCalls  int
}

func (s *stubProvider) GetCatalogue(ctx context.Context, filter esimgo.CatalogueFilter) (json.RawMessage, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.catalogue, nil
}

func (s *stubProvider) ListBundles(ctx context.Context, filter esimgo.CatalogueFilter) ([]esimgo.Bundle, error) {
	s.mu.Lock()
	s.listCalls++
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.bundles, nil
}

func (s *stubProvider) CreateOrder(ctx context.Context, bundleName, iccid string) (*esimgo.OrderResult, error) {
	s.mu.Lock()
	s.orderCalls = append(s.orderCalls, bundleName)
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.order, nil
}

func (s *stubProvider) GetAssignments(ctx context.Context, orderReference string) ([]esimgo.Assignment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.assignments, nil
}

func providerOrderWithEsim() *esimgo.OrderResult {
	return &esimgo.OrderResult{
		OrderReference: "prov-1",
		Status:         "completed",
		Total:          4.5,
		Currency:       "USD",
		Order: []esimgo.OrderLine{{
			Type:     "bundle",
			Item:     "esim_1GB_7D_GB_V2",
			Quantity: 1,
			ESIMs:    []esimgo.Assignment{{ICCID: "8944", MatchingID: "M-1", SMDPAddress: "smdp.io"}},
		}},
		Raw: map[string]interface{}{"orderReference": "prov-1", "status": "completed"},
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event *models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.EventType, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type stubInvoiceGateway struct {
	params []telegram.InvoiceLinkParams
	link   string
	err    error
}

func (s *stubInvoiceGateway) CreateInvoiceLink(ctx context.Context, params telegram.InvoiceLinkParams) (string, error) {
	s.params = append(s.params, params)
	if s.err != nil {
		return "", s.err
	}
	return s.link, nil
}

type checkoutAnswer struct {
	id     string
	ok     bool
	reason string
}

type stubCheckout struct {
	answers []checkoutAnswer
}

func (s *stubCheckout) AnswerPreCheckoutQuery(ctx context.Context, queryID string, ok bool, errorMessage string) error {
	s.answers = append(s.answers, checkoutAnswer{id: queryID, ok: ok, reason: errorMessage})
	return nil
}

type sentMessage struct {
	chatID string
	text   string
}

type recordingSender struct {
	messages []sentMessage
	err      error
}

func (s *recordingSender) SendMessage(ctx context.Context, chatID, text string) error {
	if s.err != nil {
		return s.err
	}
	s.messages = append(s.messages, sentMessage{chatID: chatID, text: text})
	return nil
}
