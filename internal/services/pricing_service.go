package services

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PricingService переводит цены витрины в звёзды Telegram.
type PricingService struct {
	StarsRate float64
}

// NewPricingService создаёт сервис с курсом звёзд за единицу валюты.
func NewPricingService(starsRate float64) *PricingService {
	return &PricingService{StarsRate: starsRate}
}

// ToStars возвращает ceil(price * rate), но не меньше одной звезды.
func (s *PricingService) ToStars(price float64) int64 {
	if price <= 0 || s.StarsRate <= 0 {
		return 1
	}

	stars := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(s.StarsRate)).Ceil().IntPart()
	if stars < 1 {
		return 1
	}
	return stars
}

// ApplyDiscount вычитает скидку из цены без ухода в минус.
func ApplyDiscount(price, discount float64) float64 {
	final := decimal.NewFromFloat(price).Sub(decimal.NewFromFloat(discount))
	if final.IsNegative() {
		return 0
	}
	return final.Round(2).InexactFloat64()
}

// FormatPrice форматирует сумму с двумя знаками и кодом валюты, например "4.50 USD".
func FormatPrice(amount float64, currency string) string {
	formatted := decimal.NewFromFloat(amount).StringFixed(2)
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return formatted
	}
	return formatted + " " + currency
}
