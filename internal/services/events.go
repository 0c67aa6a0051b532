package services

import (
	"context"
	"sync"

	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
)

// EventPublisher публикует события жизненного цикла заказа
type EventPublisher interface {
	Publish(ctx context.Context, event *models.Event) error
}

// EventHandler обрабатывает событие
type EventHandler func(ctx context.Context, event *models.Event) error

// InlinePublisher вызывает обработчики синхронно в том же процессе.
// Используется, когда Kafka выключена.
type InlinePublisher struct {
	mu       sync.RWMutex
	handlers map[models.EventType][]EventHandler
	log      *logger.Logger
}

// NewInlinePublisher создает локальную шину событий
func NewInlinePublisher(log *logger.Logger) *InlinePublisher {
	return &InlinePublisher{
		handlers: make(map[models.EventType][]EventHandler),
		log:      log,
	}
}

// Subscribe добавляет обработчик для типа события
func (p *InlinePublisher) Subscribe(eventType models.EventType, handler EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[eventType] = append(p.handlers[eventType], handler)
}

// Publish передает событие всем подписчикам. Ошибки обработчиков логируются.
func (p *InlinePublisher) Publish(ctx context.Context, event *models.Event) error {
	p.mu.RLock()
	handlers := p.handlers[event.Type]
	p.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			p.log.WithError(err).WithFields(map[string]interface{}{
				"event_type": event.Type,
				"event_id":   event.ID,
			}).Warn("Event handler failed")
		}
	}
	return nil
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, *models.Event) error { return nil }
