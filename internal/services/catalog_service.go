package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"esim-storefront/internal/esimgo"
	"esim-storefront/internal/logger"
	"esim-storefront/internal/models"
)

// CatalogService нормализует каталог провайдера для витрины
type CatalogService struct {
	provider ProviderGateway
	log      *logger.Logger
	currency string
}

// NewCatalogService создает сервис каталога. currency задаёт валюту цен провайдера.
func NewCatalogService(provider ProviderGateway, log *logger.Logger, currency string) *CatalogService {
	if currency == "" {
		currency = "USD"
	}
	return &CatalogService{provider: provider, log: log, currency: strings.ToUpper(currency)}
}

// Catalogue возвращает каталог провайдера без изменений
func (s *CatalogService) Catalogue(ctx context.Context, countryCode string) (json.RawMessage, error) {
	return s.provider.GetCatalogue(ctx, esimgo.CatalogueFilter{Country: strings.TrimSpace(countryCode)})
}

// ListBundles возвращает пакеты, отсортированные по объёму данных по возрастанию
func (s *CatalogService) ListBundles(ctx context.Context, countryCode string) ([]models.Bundle, error) {
	raw, err := s.provider.ListBundles(ctx, esimgo.CatalogueFilter{Country: strings.TrimSpace(countryCode)})
	if err != nil {
		return nil, err
	}

	sorted := append([]esimgo.Bundle{}, raw...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return dataSortKey(sorted[i]) < dataSortKey(sorted[j])
	})

	bundles := make([]models.Bundle, 0, len(sorted))
	for i := range sorted {
		bundles = append(bundles, s.normalizeBundle(&sorted[i], countryCode))
	}
	return bundles, nil
}

// FetchPlans загружает каталог и делит его на обычные и безлимитные тарифы
func (s *CatalogService) FetchPlans(ctx context.Context, countryCode, region string) (*models.PlanSet, error) {
	raw, err := s.provider.ListBundles(ctx, esimgo.CatalogueFilter{Country: countryCode, Region: region})
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("provider returned no bundles")
	}

	var standard, unlimited []esimgo.Bundle
	for _, b := range raw {
		if isUnlimited(b) {
			unlimited = append(unlimited, b)
		} else {
			standard = append(standard, b)
		}
	}
	// обычные по объёму, при равном объёме по сроку; безлимитные по сроку
	sort.SliceStable(standard, func(i, j int) bool {
		a, b := standard[i], standard[j]
		if a.DataAmount != b.DataAmount {
			return a.DataAmount < b.DataAmount
		}
		return a.Duration < b.Duration
	})
	sort.SliceStable(unlimited, func(i, j int) bool {
		return unlimited[i].Duration < unlimited[j].Duration
	})

	plans := &models.PlanSet{
		Standard:  make([]models.PlanOffer, 0, len(standard)),
		Unlimited: make([]models.PlanOffer, 0, len(unlimited)),
	}
	for i := range standard {
		plans.Standard = append(plans.Standard, s.planOffer(&standard[i], countryCode, region))
	}
	for i := range unlimited {
		plans.Unlimited = append(plans.Unlimited, s.planOffer(&unlimited[i], countryCode, region))
	}
	return plans, nil
}

func (s *CatalogService) planOffer(b *esimgo.Bundle, countryCode, region string) models.PlanOffer {
	bundle := s.normalizeBundle(b, countryCode)
	offer := models.PlanOffer{
		Name:        bundle.Data,
		BundleName:  bundle.ID,
		Data:        bundle.Data,
		DataAmount:  bundle.DataAmount,
		DataUnit:    bundle.DataUnit,
		Duration:    bundle.Duration,
		Validity:    bundle.Validity,
		Price:       bundle.Price.Amount,
		Currency:    bundle.Price.Currency,
		Unlimited:   bundle.Unlimited,
		CountryCode: strings.ToUpper(countryCode),
		Region:      region,
	}
	if bundle.Unlimited {
		offer.Name = "Unlimited " + bundle.Validity
	}
	return offer
}

func (s *CatalogService) normalizeBundle(b *esimgo.Bundle, requestedCountry string) models.Bundle {
	amount, unit := formatDataAmount(b.DataAmount)
	data := formatDataLabel(amount, unit)
	unlimited := isUnlimited(*b)
	if unlimited {
		amount, unit, data = 0, "GB", "Unlimited"
	}

	country := strings.ToUpper(strings.TrimSpace(requestedCountry))
	countryName := ""
	if len(b.Countries) > 0 {
		if country == "" {
			country = strings.ToUpper(b.Countries[0].ISO)
		}
		countryName = b.Countries[0].Name
		for _, c := range b.Countries {
			if strings.EqualFold(c.ISO, country) {
				countryName = c.Name
				break
			}
		}
	}

	name := b.Description
	if name == "" {
		name = b.Name
	}

	return models.Bundle{
		ID:         b.Name,
		Name:       name,
		Data:       data,
		DataAmount: amount,
		DataUnit:   unit,
		Duration:   b.Duration,
		Validity:   formatValidity(b.Duration),
		Price: models.Price{
			Amount:    b.Price,
			Currency:  s.currency,
			Formatted: FormatPrice(b.Price, s.currency),
		},
		Country:     country,
		CountryName: countryName,
		Unlimited:   unlimited,
	}
}

// isUnlimited: провайдер помечает безлимит флагом или объёмом -1
func isUnlimited(b esimgo.Bundle) bool {
	return b.Unlimited || b.DataAmount < 0
}

func dataSortKey(b esimgo.Bundle) float64 {
	if isUnlimited(b) {
		return math.MaxFloat64
	}
	return b.DataAmount
}

// formatDataAmount переводит мегабайты провайдера в GB, если объём не меньше 1000 MB
func formatDataAmount(megabytes float64) (float64, string) {
	if megabytes >= 1000 {
		return math.Round(megabytes/1000*100) / 100, "GB"
	}
	return megabytes, "MB"
}

func formatDataLabel(amount float64, unit string) string {
	return strconv.FormatFloat(amount, 'f', -1, 64) + " " + unit
}

func formatValidity(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
