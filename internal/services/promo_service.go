package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"

	"github.com/shopspring/decimal"
)

// Причины отказа в применении промокода.
var (
	ErrPromoNotFound     = errors.New("promocode not found")
	ErrPromoInactive     = errors.New("promocode is inactive")
	ErrPromoNotYetActive = errors.New("promocode is not active yet")
	ErrPromoExpired      = errors.New("promocode has expired")
	ErrPromoUsageLimit   = errors.New("promocode usage limit reached")
)

var promoDateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// SettingsRepository хранит документ настроек с промокодами.
type SettingsRepository interface {
	Load(ctx context.Context) (*models.Settings, error)
	Update(ctx context.Context, fn func(*models.Settings) error) error
}

// PromoService управляет промокодами и расчётом скидок.
type PromoService struct {
	store SettingsRepository
	log   *logger.Logger
	loc   *time.Location
	now   func() time.Time
}

// NewPromoService создаёт сервис промокодов. Даты промокодов трактуются в часовом поясе loc.
func NewPromoService(store SettingsRepository, log *logger.Logger, loc *time.Location) *PromoService {
	if loc == nil {
		loc = time.UTC
	}
	return &PromoService{
		store: store,
		log:   log,
		loc:   loc,
		now:   time.Now,
	}
}

// Validate проверяет промокод и считает скидку для суммы. Счётчик использований не меняется.
func (s *PromoService) Validate(ctx context.Context, code string, amount float64) (*models.PromoValidation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, apperror.Validation("promocode is required", nil)
	}
	if amount <= 0 {
		return nil, apperror.Validation("amount must be greater than 0", nil)
	}

	settings, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	idx := findPromo(settings.Promocodes, code)
	if idx < 0 {
		return nil, apperror.NotFound("Promocode not found", ErrPromoNotFound)
	}

	result, err := evaluatePromo(&settings.Promocodes[idx], amount, s.now(), s.loc)
	if err != nil {
		s.log.WithFields(map[string]interface{}{
			"promocode": code,
			"reason":    err.Error(),
		}).Info("Promocode rejected")
		return nil, err
	}
	return result, nil
}

// Redeem увеличивает счётчик использований промокода после оплаты.
// Лимит перепроверяется под блокировкой документа.
func (s *PromoService) Redeem(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil
	}
	now := s.now()

	err := s.store.Update(ctx, func(settings *models.Settings) error {
		idx := findPromo(settings.Promocodes, code)
		if idx < 0 {
			return apperror.NotFound("Promocode not found", ErrPromoNotFound)
		}
		promo := &settings.Promocodes[idx]
		if err := checkPromoUsable(promo, now, s.loc); err != nil {
			return err
		}
		promo.UsedCount++
		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithField("promocode", code).Info("Promocode redeemed")
	return nil
}

// ListPromoCodes возвращает все промокоды.
func (s *PromoService) ListPromoCodes(ctx context.Context) ([]models.PromoCode, error) {
	settings, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if settings.Promocodes == nil {
		return []models.PromoCode{}, nil
	}
	return settings.Promocodes, nil
}

// GetPromoCode возвращает промокод по коду.
func (s *PromoService) GetPromoCode(ctx context.Context, code string) (*models.PromoCode, error) {
	settings, err := s.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	idx := findPromo(settings.Promocodes, code)
	if idx < 0 {
		return nil, apperror.NotFound("Promocode not found", ErrPromoNotFound)
	}
	promo := settings.Promocodes[idx]
	return &promo, nil
}

// CreatePromoCode создаёт новый промокод.
func (s *PromoService) CreatePromoCode(ctx context.Context, req *models.PromoCodeRequest) (*models.PromoCode, error) {
	if err := validatePromoCodePayload(req); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	promo := promoFromRequest(req)
	err := s.store.Update(ctx, func(settings *models.Settings) error {
		if findPromo(settings.Promocodes, promo.Code) >= 0 {
			return apperror.Conflict("promocode already exists", nil)
		}
		settings.Promocodes = append(settings.Promocodes, promo)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("promocode", promo.Code).Info("Promocode created")
	return &promo, nil
}

// UpdatePromoCode заменяет параметры промокода. Код и счётчик использований сохраняются.
func (s *PromoService) UpdatePromoCode(ctx context.Context, code string, req *models.PromoCodeRequest) (*models.PromoCode, error) {
	payload := *req
	payload.Code = code
	if err := validatePromoCodePayload(&payload); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	var updated models.PromoCode
	err := s.store.Update(ctx, func(settings *models.Settings) error {
		idx := findPromo(settings.Promocodes, code)
		if idx < 0 {
			return apperror.NotFound("Promocode not found", ErrPromoNotFound)
		}
		existing := settings.Promocodes[idx]
		updated = promoFromRequest(&payload)
		updated.Code = existing.Code
		updated.UsedCount = existing.UsedCount
		settings.Promocodes[idx] = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithField("promocode", updated.Code).Info("Promocode updated")
	return &updated, nil
}

// DeletePromoCode удаляет промокод.
func (s *PromoService) DeletePromoCode(ctx context.Context, code string) error {
	err := s.store.Update(ctx, func(settings *models.Settings) error {
		idx := findPromo(settings.Promocodes, code)
		if idx < 0 {
			return apperror.NotFound("Promocode not found", ErrPromoNotFound)
		}
		settings.Promocodes = append(settings.Promocodes[:idx], settings.Promocodes[idx+1:]...)
		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithField("promocode", code).Info("Promocode deleted")
	return nil
}

// evaluatePromo проверяет применимость промокода в момент now и считает скидку.
func evaluatePromo(promo *models.PromoCode, amount float64, now time.Time, loc *time.Location) (*models.PromoValidation, error) {
	if err := checkPromoUsable(promo, now, loc); err != nil {
		return nil, err
	}

	discount, final, err := calculateDiscount(promo.Type, promo.Discount, amount)
	if err != nil {
		return nil, err
	}

	return &models.PromoValidation{
		Promocode: models.PromoSummary{
			Code:     promo.Code,
			Type:     promo.Type,
			Discount: promo.Discount,
		},
		Discount: models.DiscountBreakdown{
			Amount:         discount,
			OriginalAmount: amount,
			FinalAmount:    final,
		},
	}, nil
}

func checkPromoUsable(promo *models.PromoCode, now time.Time, loc *time.Location) error {
	if promo.Status != models.PromoStatusActive {
		return apperror.State("Promocode is not active", ErrPromoInactive)
	}

	if start, ok := parsePromoStart(promo.StartDate, loc); ok && now.Before(start) {
		return apperror.State("Promocode is not active yet", ErrPromoNotYetActive)
	}

	// validUntil включает весь день окончания
	if until, ok := parsePromoDate(promo.ValidUntil, loc); ok && !now.Before(until.AddDate(0, 0, 1)) {
		return apperror.State("Promocode has expired", ErrPromoExpired)
	}

	if promo.MaxUses != nil && promo.UsedCount >= *promo.MaxUses {
		return apperror.State("Promocode usage limit reached", ErrPromoUsageLimit)
	}
	return nil
}

// calculateDiscount возвращает сумму скидки и итоговую цену, округлённые до копеек.
func calculateDiscount(discountType models.DiscountType, value, amount float64) (float64, float64, error) {
	total := decimal.NewFromFloat(amount)
	rate := decimal.NewFromFloat(value)

	var discount decimal.Decimal
	switch discountType {
	case models.DiscountTypePercent:
		discount = total.Mul(rate).Div(decimal.NewFromInt(100))
	case models.DiscountTypeFixed:
		discount = decimal.Min(rate, total)
	default:
		return 0, 0, apperror.State(fmt.Sprintf("unsupported promocode type %q", discountType), nil)
	}

	discount = decimal.Min(discount.Round(2), total)
	return discount.InexactFloat64(), ApplyDiscount(amount, discount.InexactFloat64()), nil
}

// parsePromoStart возвращает момент начала действия промокода.
// Дата без времени означает начало дня в loc, время без зоны читается в loc.
func parsePromoStart(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range promoDateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parsePromoDate возвращает начало календарного дня даты в часовом поясе loc.
// Пустая или нераспознанная дата считается отсутствующей.
func parsePromoDate(value string, loc *time.Location) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range promoDateLayouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), true
	}
	return time.Time{}, false
}

func findPromo(promos []models.PromoCode, code string) int {
	code = strings.TrimSpace(code)
	for i := range promos {
		if strings.EqualFold(strings.TrimSpace(promos[i].Code), code) {
			return i
		}
	}
	return -1
}

func promoFromRequest(req *models.PromoCodeRequest) models.PromoCode {
	status := req.Status
	if status == "" {
		status = models.PromoStatusActive
	}
	return models.PromoCode{
		Code:        strings.TrimSpace(req.Code),
		Type:        req.Type,
		Discount:    req.Discount,
		Status:      status,
		StartDate:   strings.TrimSpace(req.StartDate),
		ValidUntil:  strings.TrimSpace(req.ValidUntil),
		MaxUses:     req.MaxUses,
		Description: req.Description,
	}
}

func validatePromoCodePayload(req *models.PromoCodeRequest) error {
	if strings.TrimSpace(req.Code) == "" {
		return fmt.Errorf("code is required")
	}
	switch req.Type {
	case models.DiscountTypeFixed:
		if req.Discount < 0 {
			return fmt.Errorf("discount must be non-negative for fixed promocode")
		}
	case models.DiscountTypePercent:
		if req.Discount < 0 || req.Discount > 100 {
			return fmt.Errorf("percent discount must be between 0 and 100")
		}
	default:
		return fmt.Errorf("invalid promocode type")
	}
	switch req.Status {
	case "", models.PromoStatusActive, models.PromoStatusInactive:
	default:
		return fmt.Errorf("invalid promocode status")
	}
	if req.MaxUses != nil && *req.MaxUses < 0 {
		return fmt.Errorf("maxUses must be non-negative")
	}
	for _, date := range []string{req.StartDate, req.ValidUntil} {
		if strings.TrimSpace(date) == "" {
			continue
		}
		if _, ok := parsePromoDate(date, time.UTC); !ok {
			return fmt.Errorf("invalid date %q", date)
		}
	}
	return nil
}
