package models

// DiscountType описывает тип промокода.
type DiscountType string

const (
	DiscountTypePercent DiscountType = "percent"
	DiscountTypeFixed   DiscountType = "fixed"
)

// PromoStatus описывает состояние промокода.
type PromoStatus string

const (
	PromoStatusActive   PromoStatus = "active"
	PromoStatusInactive PromoStatus = "inactive"
)

// PromoCode представляет промокод из документа настроек.
// Даты хранятся строками в том виде, в каком их пишет админ-панель: YYYY-MM-DD или RFC 3339.
type PromoCode struct {
	Code        string       `json:"code"`
	Type        DiscountType `json:"type"`
	Discount    float64      `json:"discount"`
	Status      PromoStatus  `json:"status"`
	StartDate   string       `json:"startDate,omitempty"`
	ValidUntil  string       `json:"validUntil,omitempty"`
	MaxUses     *int         `json:"maxUses,omitempty"`
	UsedCount   int          `json:"usedCount,omitempty"`
	Description string       `json:"description,omitempty"`
}

// PromoSummary отдаётся клиенту после успешной проверки.
type PromoSummary struct {
	Code     string       `json:"code"`
	Type     DiscountType `json:"type"`
	Discount float64      `json:"discount"`
}

// DiscountBreakdown описывает результат применения промокода к сумме.
type DiscountBreakdown struct {
	Amount         float64 `json:"amount"`
	OriginalAmount float64 `json:"originalAmount"`
	FinalAmount    float64 `json:"finalAmount"`
}

// PromoValidation описывает результат проверки промокода.
type PromoValidation struct {
	Promocode PromoSummary      `json:"promocode"`
	Discount  DiscountBreakdown `json:"discount"`
}

// ValidatePromoRequest описывает запрос на проверку промокода.
type ValidatePromoRequest struct {
	Code   string  `json:"code"`
	Amount float64 `json:"amount"`
}

// PromoCodeRequest описывает создание или изменение промокода в админке.
type PromoCodeRequest struct {
	Code        string       `json:"code"`
	Type        DiscountType `json:"type"`
	Discount    float64      `json:"discount"`
	Status      PromoStatus  `json:"status"`
	StartDate   string       `json:"startDate,omitempty"`
	ValidUntil  string       `json:"validUntil,omitempty"`
	MaxUses     *int         `json:"maxUses,omitempty"`
	Description string       `json:"description,omitempty"`
}
