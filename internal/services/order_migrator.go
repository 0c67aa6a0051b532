package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
	"esim-storefront/internal/storage"
)

var errNothingToMigrate = errors.New("nothing to migrate")

// OrderMigrator переводит старые записи заказов на текущий словарь статусов
type OrderMigrator struct {
	store storage.OrderStore
	log   *logger.Logger
	now   func() time.Time
}

// NewOrderMigrator создает мигратор
func NewOrderMigrator(store storage.OrderStore, log *logger.Logger) *OrderMigrator {
	return &OrderMigrator{store: store, log: log, now: time.Now}
}

// Migrate читает хранилище один раз, исправляет записи и сохраняет результат одной записью.
// Если менять нечего, хранилище не перезаписывается.
func (m *OrderMigrator) Migrate(ctx context.Context) (*models.MigrationReport, error) {
	now := m.now().UTC()
	report := &models.MigrationReport{}

	err := m.store.Update(ctx, func(book models.OrderBook) error {
		*report = models.MigrationReport{}

		customers := make([]string, 0, len(book))
		for customer := range book {
			customers = append(customers, customer)
		}
		sort.Strings(customers)

		for _, customer := range customers {
			orders := book[customer]
			report.Customers++
			for i := range orders {
				report.Orders++
				if migrateOrder(&orders[i], customer, now) {
					report.Migrated++
				}
			}
		}

		if report.Migrated == 0 {
			return errNothingToMigrate
		}
		return nil
	})
	if err != nil && !errors.Is(err, errNothingToMigrate) {
		m.log.WithError(err).Error("Order migration failed")
		return nil, err
	}

	m.log.WithFields(map[string]interface{}{
		"customers": report.Customers,
		"orders":    report.Orders,
		"migrated":  report.Migrated,
	}).Info("Order migration finished")

	return report, nil
}

// migrateOrder приводит запись к новому виду и сообщает, изменилась ли она.
// updatedAt обновляется только у изменённых записей.
func migrateOrder(order *models.Order, customer string, now time.Time) bool {
	before := *order

	switch {
	case order.IsCompleted():
		order.PaymentConfirmed = true
		order.PaymentStatus = models.PaymentStatusSucceeded
		order.EsimIssued = order.ICCID != "" || order.MatchingID != ""
	case order.Status == models.OrderStatusLegacyPending, order.Status == models.OrderStatusLegacyProcessing:
		order.Status = models.OrderStatusOnHold
		if order.PaymentStatus == "" {
			order.PaymentStatus = models.PaymentStatusPending
		}
		order.PaymentConfirmed = false
		order.EsimIssued = false
	case order.Status == models.OrderStatusLegacyCancelled:
		order.Status = models.OrderStatusCanceled
		if order.CanceledReason == "" {
			order.CanceledReason = models.MigratedCanceledReason
		}
	}

	if order.Source == "" {
		order.Source = models.DefaultOrderSource
	}
	if order.Customer == "" {
		order.Customer = customer
	}
	if order.ProviderProductID == "" {
		order.ProviderProductID = providerProductFor(order)
	}

	if *order == before {
		return false
	}
	order.UpdatedAt = now
	return true
}
