package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"esim-storefront/internal/apperror"
	"esim-storefront/internal/models"
)

var promoNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestPromoService(t *testing.T, promos ...models.PromoCode) *PromoService {
	t.Helper()
	svc := NewPromoService(newTestSettingsStore(t, promos...), newTestLogger(), time.UTC)
	svc.now = fixedClock(promoNow)
	return svc
}

func activePromo(code string, typ models.DiscountType, discount float64) models.PromoCode {
	return models.PromoCode{Code: code, Type: typ, Discount: discount, Status: models.PromoStatusActive}
}

func TestEvaluatePromo_Discounts(t *testing.T) {
	tests := []struct {
		name         string
		promo        models.PromoCode
		amount       float64
		wantDiscount float64
		wantFinal    float64
	}{
		{"percent", activePromo("SAVE10", models.DiscountTypePercent, 10), 100, 10, 90},
		{"percent rounds to cents", activePromo("P15", models.DiscountTypePercent, 15), 9.99, 1.5, 8.49},
		{"fixed below amount", activePromo("FIX2", models.DiscountTypeFixed, 2), 9.99, 2, 7.99},
		{"fixed above amount is capped", activePromo("FIX50", models.DiscountTypeFixed, 50), 30, 30, 0},
		{"percent over 100 clamps to zero", activePromo("P150", models.DiscountTypePercent, 150), 20, 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evaluatePromo(&tt.promo, tt.amount, promoNow, time.UTC)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Discount.Amount != tt.wantDiscount || got.Discount.FinalAmount != tt.wantFinal {
				t.Fatalf("expected discount %.2f final %.2f, got %.2f %.2f",
					tt.wantDiscount, tt.wantFinal, got.Discount.Amount, got.Discount.FinalAmount)
			}
			if got.Discount.OriginalAmount != tt.amount {
				t.Fatalf("expected original amount %.2f, got %.2f", tt.amount, got.Discount.OriginalAmount)
			}
		})
	}
}

func TestEvaluatePromo_Rejections(t *testing.T) {
	inactive := activePromo("OFF", models.DiscountTypePercent, 10)
	inactive.Status = models.PromoStatusInactive

	future := activePromo("SOON", models.DiscountTypePercent, 10)
	future.StartDate = "2026-10-15"

	expired := activePromo("OLD", models.DiscountTypePercent, 10)
	expired.ValidUntil = "2026-10-13"

	used := activePromo("USED", models.DiscountTypePercent, 10)
	used.MaxUses = intPtr(3)
	used.UsedCount = 3

	tests := []struct {
		name  string
		promo models.PromoCode
		want  error
	}{
		{"inactive", inactive, ErrPromoInactive},
		{"not yet active", future, ErrPromoNotYetActive},
		{"expired", expired, ErrPromoExpired},
		{"usage limit", used, ErrPromoUsageLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evaluatePromo(&tt.promo, 10, promoNow, time.UTC)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if !apperror.Is(err, apperror.KindState) {
				t.Fatalf("expected state error kind, got %v", err)
			}
		})
	}
}

func TestEvaluatePromo_DateBoundaries(t *testing.T) {
	promo := activePromo("DAY", models.DiscountTypeFixed, 1)
	promo.StartDate = "2026-10-14"
	promo.ValidUntil = "2026-10-14T08:00:00Z"

	startOfDay := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	lastMinute := time.Date(2026, 10, 14, 23, 59, 59, 0, time.UTC)
	nextDay := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	if _, err := evaluatePromo(&promo, 10, startOfDay, time.UTC); err != nil {
		t.Fatalf("expected valid at start of day, got %v", err)
	}
	if _, err := evaluatePromo(&promo, 10, lastMinute, time.UTC); err != nil {
		t.Fatalf("expected whole expiry day valid, got %v", err)
	}
	if _, err := evaluatePromo(&promo, 10, nextDay, time.UTC); !errors.Is(err, ErrPromoExpired) {
		t.Fatalf("expected expired on next day, got %v", err)
	}
	if _, err := evaluatePromo(&promo, 10, startOfDay.Add(-time.Second), time.UTC); !errors.Is(err, ErrPromoNotYetActive) {
		t.Fatalf("expected not yet active before start, got %v", err)
	}
}

func TestEvaluatePromo_StartKeepsTimeOfDay(t *testing.T) {
	promo := activePromo("EVENING", models.DiscountTypeFixed, 1)
	promo.StartDate = "2026-10-14T18:00:00Z"
	promo.ValidUntil = "2026-10-14T08:00:00Z"

	if _, err := evaluatePromo(&promo, 10, time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC), time.UTC); !errors.Is(err, ErrPromoNotYetActive) {
		t.Fatalf("expected not yet active before 18:00, got %v", err)
	}
	if _, err := evaluatePromo(&promo, 10, time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC), time.UTC); err != nil {
		t.Fatalf("expected active from 18:00, got %v", err)
	}
	// validUntil по-прежнему включает весь день
	if _, err := evaluatePromo(&promo, 10, time.Date(2026, 10, 14, 23, 0, 0, 0, time.UTC), time.UTC); err != nil {
		t.Fatalf("expected active until end of expiry day, got %v", err)
	}
}

func TestParsePromoStart(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	tests := []struct {
		value string
		want  time.Time
		ok    bool
	}{
		{"2026-10-14", time.Date(2026, 10, 14, 0, 0, 0, 0, loc), true},
		{"2026-10-14T18:00:00Z", time.Date(2026, 10, 14, 18, 0, 0, 0, time.UTC), true},
		{"2026-10-14T18:00:00", time.Date(2026, 10, 14, 18, 0, 0, 0, loc), true},
		{"2026-10-14 07:30:00", time.Date(2026, 10, 14, 7, 30, 0, 0, loc), true},
		{"", time.Time{}, false},
		{"tomorrow", time.Time{}, false},
	}
	for _, tt := range tests {
		got, ok := parsePromoStart(tt.value, loc)
		if ok != tt.ok || !got.Equal(tt.want) {
			t.Errorf("parsePromoStart(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.ok)
		}
	}
}

func TestEvaluatePromo_Timezone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	promo := activePromo("TZ", models.DiscountTypeFixed, 1)
	promo.ValidUntil = "2026-10-14"

	// 2026-10-14 22:30 UTC уже 15 октября в UTC+3
	now := time.Date(2026, 10, 14, 22, 30, 0, 0, time.UTC)
	if _, err := evaluatePromo(&promo, 10, now, time.UTC); err != nil {
		t.Fatalf("expected valid in UTC, got %v", err)
	}
	if _, err := evaluatePromo(&promo, 10, now, loc); !errors.Is(err, ErrPromoExpired) {
		t.Fatalf("expected expired in UTC+3, got %v", err)
	}
}

func TestPromoService_Validate(t *testing.T) {
	limited := activePromo("Welcome", models.DiscountTypePercent, 20)
	limited.MaxUses = intPtr(5)
	limited.UsedCount = 1
	svc := newTestPromoService(t, limited)
	ctx := context.Background()

	got, err := svc.Validate(ctx, "  WELCOME ", 50)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got.Promocode.Code != "Welcome" || got.Discount.Amount != 10 || got.Discount.FinalAmount != 40 {
		t.Fatalf("unexpected validation: %+v", got)
	}

	promo, err := svc.GetPromoCode(ctx, "welcome")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if promo.UsedCount != 1 {
		t.Fatalf("validate must not change usedCount, got %d", promo.UsedCount)
	}
}

func TestPromoService_ValidateErrors(t *testing.T) {
	svc := newTestPromoService(t, activePromo("A", models.DiscountTypeFixed, 1))
	ctx := context.Background()

	if _, err := svc.Validate(ctx, "", 10); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for empty code, got %v", err)
	}
	if _, err := svc.Validate(ctx, "A", 0); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
	_, err := svc.Validate(ctx, "MISSING", 10)
	if !apperror.Is(err, apperror.KindNotFound) || !errors.Is(err, ErrPromoNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPromoService_Redeem(t *testing.T) {
	promo := activePromo("ONCE", models.DiscountTypeFixed, 1)
	promo.MaxUses = intPtr(1)
	svc := newTestPromoService(t, promo)
	ctx := context.Background()

	if err := svc.Redeem(ctx, "once"); err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}
	got, _ := svc.GetPromoCode(ctx, "ONCE")
	if got.UsedCount != 1 {
		t.Fatalf("expected usedCount 1, got %d", got.UsedCount)
	}
	if err := svc.Redeem(ctx, "ONCE"); !errors.Is(err, ErrPromoUsageLimit) {
		t.Fatalf("expected usage limit on second redeem, got %v", err)
	}
	if err := svc.Redeem(ctx, ""); err != nil {
		t.Fatalf("empty code must be ignored, got %v", err)
	}
}

func TestPromoService_CRUD(t *testing.T) {
	svc := newTestPromoService(t)
	ctx := context.Background()

	created, err := svc.CreatePromoCode(ctx, &models.PromoCodeRequest{Code: "SPRING", Type: models.DiscountTypePercent, Discount: 15})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if created.Status != models.PromoStatusActive {
		t.Fatalf("expected default status active, got %s", created.Status)
	}

	if _, err := svc.CreatePromoCode(ctx, &models.PromoCodeRequest{Code: "spring", Type: models.DiscountTypeFixed, Discount: 1}); !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict for duplicate code, got %v", err)
	}
	if _, err := svc.CreatePromoCode(ctx, &models.PromoCodeRequest{Code: "BAD", Type: models.DiscountTypePercent, Discount: 150}); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.CreatePromoCode(ctx, &models.PromoCodeRequest{Code: "BADDATE", Type: models.DiscountTypeFixed, Discount: 1, ValidUntil: "soon"}); !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error for bad date, got %v", err)
	}

	if err := svc.Redeem(ctx, "SPRING"); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}

	updated, err := svc.UpdatePromoCode(ctx, "spring", &models.PromoCodeRequest{Type: models.DiscountTypeFixed, Discount: 5, Status: models.PromoStatusInactive})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Code != "SPRING" || updated.UsedCount != 1 || updated.Type != models.DiscountTypeFixed {
		t.Fatalf("unexpected updated promo: %+v", updated)
	}

	list, err := svc.ListPromoCodes(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one promo, got %v err=%v", list, err)
	}

	if err := svc.DeletePromoCode(ctx, "SPRING"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := svc.DeletePromoCode(ctx, "SPRING"); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := svc.UpdatePromoCode(ctx, "SPRING", &models.PromoCodeRequest{Type: models.DiscountTypeFixed}); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found on update, got %v", err)
	}
}
