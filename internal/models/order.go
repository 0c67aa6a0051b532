package models

import "time"

// OrderStatus представляет статус заказа
type OrderStatus string

const (
	OrderStatusOnHold    OrderStatus = "on_hold"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusActive    OrderStatus = "active"
	OrderStatusCanceled  OrderStatus = "canceled"

	// Устаревшие статусы, которые встречаются в старых записях.
	OrderStatusLegacyPending    OrderStatus = "pending"
	OrderStatusLegacyProcessing OrderStatus = "processing"
	OrderStatusLegacyCancelled  OrderStatus = "cancelled"
)

// PaymentStatus представляет статус оплаты
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"

	// Оплата пришла после отмены заказа, звёзды нужно вернуть вручную.
	PaymentStatusRefundRequired PaymentStatus = "refund_required"
)

// Значения по умолчанию, которые мигратор проставляет старым записям.
const (
	DefaultOrderSource     = "telegram_mini_app"
	MigratedCanceledReason = "migrated_from_old_status"
	AdminCanceledReason    = "canceled_by_admin"
)

// Order представляет заказ eSIM
type Order struct {
	OrderReference          string        `json:"orderReference"`
	Status                  OrderStatus   `json:"status"`
	PaymentStatus           PaymentStatus `json:"payment_status,omitempty"`
	PaymentConfirmed        bool          `json:"payment_confirmed"`
	EsimIssued              bool          `json:"esim_issued"`
	Source                  string        `json:"source,omitempty"`
	Customer                string        `json:"customer,omitempty"`
	ProviderProductID       string        `json:"provider_product_id,omitempty"`
	ProviderOrderReference  string        `json:"provider_order_reference,omitempty"`
	ICCID                   string        `json:"iccid,omitempty"`
	MatchingID              string        `json:"matchingId,omitempty"`
	SMDPAddress             string        `json:"smdpAddress,omitempty"`
	QRCode                  string        `json:"qrCode,omitempty"`
	CanceledReason          string        `json:"canceled_reason,omitempty"`
	PlanID                  string        `json:"plan_id,omitempty"`
	PlanType                string        `json:"plan_type,omitempty"`
	BundleName              string        `json:"bundle_name,omitempty"`
	CountryCode             string        `json:"country_code,omitempty"`
	CountryName             string        `json:"country_name,omitempty"`
	Price                   float64       `json:"price,omitempty"`
	Currency                string        `json:"currency,omitempty"`
	StarsAmount             int64         `json:"stars_amount,omitempty"`
	PromoCode               string        `json:"promocode,omitempty"`
	DiscountAmount          float64       `json:"discount_amount,omitempty"`
	TelegramPaymentChargeID string        `json:"telegram_payment_charge_id,omitempty"`
	IssuingSince            *time.Time    `json:"issuing_since,omitempty"`
	CreatedAt               time.Time     `json:"createdAt,omitempty"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}

// IsCompleted сообщает, относится ли статус к завершённым (completed и его синоним active).
func (o *Order) IsCompleted() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusActive
}

// OrderBook хранит все заказы, сгруппированные по идентификатору покупателя (telegram user id).
// Внутри покупателя порядок совпадает с порядком создания.
type OrderBook map[string][]Order

// Find возвращает покупателя и индекс заказа с данной ссылкой.
func (b OrderBook) Find(reference string) (string, int, bool) {
	for customer, orders := range b {
		for i := range orders {
			if orders[i].OrderReference == reference {
				return customer, i, true
			}
		}
	}
	return "", 0, false
}

// Count возвращает общее количество заказов.
func (b OrderBook) Count() int {
	n := 0
	for _, orders := range b {
		n += len(orders)
	}
	return n
}

// UpdateOrderStatusRequest представляет запрос на обновление статуса заказа
type UpdateOrderStatusRequest struct {
	Status         OrderStatus `json:"status"`
	CanceledReason string      `json:"canceled_reason,omitempty"`
}

// CreateProviderOrderRequest описывает тело POST /api/esimgo/order
type CreateProviderOrderRequest struct {
	BundleID       string `json:"bundle_id"`
	ICCID          string `json:"iccid,omitempty"`
	TelegramUserID UserID `json:"telegram_user_id"`
	CountryCode    string `json:"country_code"`
	CountryName    string `json:"country_name"`
	PlanID         string `json:"plan_id"`
	PlanType       string `json:"plan_type"`
}

// MigrationReport описывает результат миграции статусов.
type MigrationReport struct {
	Customers int `json:"customers"`
	Orders    int `json:"orders"`
	Migrated  int `json:"migrated"`
}
