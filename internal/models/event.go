package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType представляет тип события жизненного цикла заказа
type EventType string

const (
	EventTypeOrderCreated         EventType = "order.created"
	EventTypeOrderStatusChanged   EventType = "order.status_changed"
	EventTypeOrderPaid            EventType = "order.paid"
	EventTypeOrderEsimIssued      EventType = "order.esim_issued"
	EventTypeOrderPaymentOrphaned EventType = "order.payment_orphaned"
)

// Event представляет событие, публикуемое в Kafka
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// OrderEventData представляет полезную нагрузку событий заказа
type OrderEventData struct {
	Order          Order       `json:"order"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
}

// NewOrderEvent собирает событие с данными заказа.
func NewOrderEvent(eventType EventType, order *Order, previous OrderStatus) (*Event, error) {
	data, err := json.Marshal(OrderEventData{Order: *order, PreviousStatus: previous})
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// OrderData разбирает полезную нагрузку события заказа.
func (e *Event) OrderData() (*OrderEventData, error) {
	var data OrderEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
