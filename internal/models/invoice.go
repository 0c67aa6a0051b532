package models

// CreateInvoiceRequest описывает тело POST /api/telegram/stars/create-invoice
type CreateInvoiceRequest struct {
	PlanID         string  `json:"plan_id"`
	PlanType       string  `json:"plan_type"`
	BundleName     string  `json:"bundle_name"`
	CountryCode    string  `json:"country_code"`
	CountryName    string  `json:"country_name"`
	Price          float64 `json:"price"`
	Currency       string  `json:"currency,omitempty"`
	TelegramUserID UserID  `json:"telegram_user_id"`
	PromoCode      string  `json:"promocode,omitempty"`
	Title          string  `json:"title,omitempty"`
	Description    string  `json:"description,omitempty"`
}

// Invoice описывает результат создания счёта в звёздах.
type Invoice struct {
	InvoiceLink    string  `json:"invoice_link"`
	OrderReference string  `json:"order_reference"`
	StarsAmount    int64   `json:"stars_amount"`
	Price          float64 `json:"price"`
	DiscountAmount float64 `json:"discount_amount,omitempty"`
}

// InvoicePayload описывает компактную полезную нагрузку счёта, которую Telegram вернёт в платеже.
type InvoicePayload struct {
	OrderReference string `json:"o"`
	PlanID         string `json:"p"`
	PlanType       string `json:"t,omitempty"`
	CountryCode    string `json:"c,omitempty"`
	CountryName    string `json:"n,omitempty"`
	TelegramUserID string `json:"u"`
}
