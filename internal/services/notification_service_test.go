package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"esim-storefront/internal/models"
)

func orderEvent(t *testing.T, eventType models.EventType, order *models.Order) *models.Event {
	t.Helper()
	event, err := models.NewOrderEvent(eventType, order, models.OrderStatusOnHold)
	if err != nil {
		t.Fatalf("new event failed: %v", err)
	}
	return event
}

func TestNotificationService_HandleOrderEvent(t *testing.T) {
	issued := &models.Order{
		OrderReference: "ESIM-2026-10-001",
		Customer:       "100",
		Status:         models.OrderStatusCompleted,
		ICCID:          "8944",
		QRCode:         "LPA:1$smdp.io$M-1",
	}
	canceled := &models.Order{OrderReference: "ESIM-2026-10-002", Customer: "100", Status: models.OrderStatusCanceled}
	completed := &models.Order{OrderReference: "ESIM-2026-10-003", Customer: "100", Status: models.OrderStatusCompleted}

	tests := []struct {
		name     string
		event    *models.Event
		contains []string
	}{
		{"paid", orderEvent(t, models.EventTypeOrderPaid, issued), []string{"<b>ESIM-2026-10-001</b>", "received"}},
		{"issued", orderEvent(t, models.EventTypeOrderEsimIssued, issued), []string{"ready", "<code>8944</code>", "LPA:1$smdp.io$M-1"}},
		{"canceled", orderEvent(t, models.EventTypeOrderStatusChanged, canceled), []string{"canceled"}},
		{"paid after cancel", orderEvent(t, models.EventTypeOrderPaymentOrphaned, canceled), []string{"<b>ESIM-2026-10-002</b>", "refunded"}},
		{"created", orderEvent(t, models.EventTypeOrderCreated, issued), nil},
		{"completed status change", orderEvent(t, models.EventTypeOrderStatusChanged, completed), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &recordingSender{}
			svc := NewNotificationService(sender, newTestLogger())

			if err := svc.HandleOrderEvent(context.Background(), tt.event); err != nil {
				t.Fatalf("handle event failed: %v", err)
			}
			if tt.contains == nil {
				if len(sender.messages) != 0 {
					t.Fatalf("expected no message, got %+v", sender.messages)
				}
				return
			}
			if len(sender.messages) != 1 || sender.messages[0].chatID != "100" {
				t.Fatalf("expected one message to customer, got %+v", sender.messages)
			}
			for _, part := range tt.contains {
				if !strings.Contains(sender.messages[0].text, part) {
					t.Fatalf("expected %q in %q", part, sender.messages[0].text)
				}
			}
		})
	}
}

func TestNotificationService_SkipsOrdersWithoutCustomer(t *testing.T) {
	sender := &recordingSender{}
	svc := NewNotificationService(sender, newTestLogger())

	event := orderEvent(t, models.EventTypeOrderPaid, &models.Order{OrderReference: "ESIM-2026-10-001"})
	if err := svc.HandleOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event failed: %v", err)
	}
	if len(sender.messages) != 0 {
		t.Fatalf("expected no message")
	}
}

func TestNotificationService_ReturnsSendError(t *testing.T) {
	sender := &recordingSender{err: errors.New("chat not found")}
	svc := NewNotificationService(sender, newTestLogger())

	event := orderEvent(t, models.EventTypeOrderPaid, &models.Order{OrderReference: "R", Customer: "1"})
	if err := svc.HandleOrderEvent(context.Background(), event); err == nil {
		t.Fatalf("expected send error")
	}

	bad := &models.Event{Type: models.EventTypeOrderPaid, Data: []byte("{")}
	if err := svc.HandleOrderEvent(context.Background(), bad); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestInlinePublisher(t *testing.T) {
	pub := NewInlinePublisher(newTestLogger())
	var got []string

	pub.Subscribe(models.EventTypeOrderPaid, func(ctx context.Context, event *models.Event) error {
		got = append(got, "first")
		return errors.New("handler failed")
	})
	pub.Subscribe(models.EventTypeOrderPaid, func(ctx context.Context, event *models.Event) error {
		got = append(got, "second")
		return nil
	})

	event := orderEvent(t, models.EventTypeOrderPaid, &models.Order{OrderReference: "R"})
	if err := pub.Publish(context.Background(), event); err != nil {
		t.Fatalf("publish must not fail on handler errors, got %v", err)
	}
	if strings.Join(got, ",") != "first,second" {
		t.Fatalf("expected both handlers called in order, got %v", got)
	}

	other := orderEvent(t, models.EventTypeOrderCreated, &models.Order{OrderReference: "R"})
	if err := pub.Publish(context.Background(), other); err != nil {
		t.Fatalf("publish without subscribers failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("unexpected handler call for other event type")
	}
}

func TestPricingService_ToStars(t *testing.T) {
	tests := []struct {
		rate  float64
		price float64
		want  int64
	}{
		{50, 4.99, 250},
		{50, 1, 50},
		{50, 0.01, 1},
		{50, 0, 1},
		{1.5, 3.33, 5},
		{0, 10, 1},
	}
	for _, tt := range tests {
		if got := NewPricingService(tt.rate).ToStars(tt.price); got != tt.want {
			t.Errorf("ToStars(%v) at rate %v = %d, want %d", tt.price, tt.rate, got, tt.want)
		}
	}
}

func TestFormatPriceAndDiscount(t *testing.T) {
	if got := FormatPrice(4.5, "usd"); got != "4.50 USD" {
		t.Fatalf("unexpected formatted price %q", got)
	}
	if got := FormatPrice(12, ""); got != "12.00" {
		t.Fatalf("unexpected formatted price %q", got)
	}
	if got := ApplyDiscount(9.99, 2.5); got != 7.49 {
		t.Fatalf("unexpected discounted price %v", got)
	}
	if got := ApplyDiscount(3, 5); got != 0 {
		t.Fatalf("expected discount clamped to zero, got %v", got)
	}
}
