package services

import (
	"context"
	"encoding/json"
	"testing"

	"esim-storefront/internal/esimgo"
	"esim-storefront/internal/models"
)

func testBundles() []esimgo.Bundle {
	gb := []esimgo.Country{{Name: "United Kingdom", Region: "Europe", ISO: "GB"}}
	return []esimgo.Bundle{
		{Name: "esim_5GB_30D_GB_V2", Description: "5GB 30 Days", Countries: gb, DataAmount: 5000, Duration: 30, Price: 14.5},
		{Name: "esim_UL_7D_GB_V2", Countries: gb, DataAmount: -1, Duration: 7, Unlimited: true, Price: 29},
		{Name: "esim_500MB_1D_GB_V2", Countries: gb, DataAmount: 500, Duration: 1, Price: 1.2},
		{Name: "esim_1GB_7D_GB_V2", Countries: gb, DataAmount: 1000, Duration: 7, Price: 4.5},
		{Name: "esim_UL_1D_GB_V2", Countries: gb, DataAmount: -1, Duration: 1, Unlimited: true, Price: 6},
		{Name: "esim_1GB_30D_GB_V2", Countries: gb, DataAmount: 1000, Duration: 30, Price: 6.5},
	}
}

func TestCatalogService_ListBundles(t *testing.T) {
	svc := NewCatalogService(&stubProvider{bundles: testBundles()}, newTestLogger(), "usd")

	bundles, err := svc.ListBundles(context.Background(), "gb")
	if err != nil {
		t.Fatalf("list bundles failed: %v", err)
	}
	if len(bundles) != 6 {
		t.Fatalf("expected 6 bundles, got %d", len(bundles))
	}

	first := bundles[0]
	if first.ID != "esim_500MB_1D_GB_V2" || first.Data != "500 MB" || first.DataUnit != "MB" || first.Validity != "1 day" {
		t.Fatalf("unexpected first bundle: %+v", first)
	}

	gig := bundles[1]
	if gig.Data != "1 GB" || gig.DataAmount != 1 || gig.DataUnit != "GB" || gig.Validity != "7 days" {
		t.Fatalf("unexpected 1GB bundle: %+v", gig)
	}
	if gig.Price.Formatted != "4.50 USD" || gig.Price.Currency != "USD" {
		t.Fatalf("unexpected price: %+v", gig.Price)
	}
	if gig.Country != "GB" || gig.CountryName != "United Kingdom" {
		t.Fatalf("unexpected country: %+v", gig)
	}

	five := bundles[3]
	if five.Name != "5GB 30 Days" || five.Data != "5 GB" {
		t.Fatalf("expected description used as name, got %+v", five)
	}

	last := bundles[len(bundles)-1]
	if !last.Unlimited || last.Data != "Unlimited" {
		t.Fatalf("expected unlimited bundles last, got %+v", last)
	}
}

func TestCatalogService_FetchPlans(t *testing.T) {
	svc := NewCatalogService(&stubProvider{bundles: testBundles()}, newTestLogger(), "USD")

	plans, err := svc.FetchPlans(context.Background(), "gb", "")
	if err != nil {
		t.Fatalf("fetch plans failed: %v", err)
	}
	if len(plans.Standard) != 4 || len(plans.Unlimited) != 2 {
		t.Fatalf("unexpected split: %d standard, %d unlimited", len(plans.Standard), len(plans.Unlimited))
	}

	wantStandard := []string{"esim_500MB_1D_GB_V2", "esim_1GB_7D_GB_V2", "esim_1GB_30D_GB_V2", "esim_5GB_30D_GB_V2"}
	for i, want := range wantStandard {
		if plans.Standard[i].BundleName != want {
			t.Fatalf("standard[%d]: expected %s, got %s", i, want, plans.Standard[i].BundleName)
		}
		if plans.Standard[i].ID != "" {
			t.Fatalf("ids are assigned by the cache, got %q", plans.Standard[i].ID)
		}
	}
	if plans.Standard[1].Name != "1 GB" || plans.Standard[1].CountryCode != "GB" {
		t.Fatalf("unexpected standard plan: %+v", plans.Standard[1])
	}

	if plans.Unlimited[0].Duration != 1 || plans.Unlimited[1].Duration != 7 {
		t.Fatalf("expected unlimited sorted by duration, got %+v", plans.Unlimited)
	}
	if plans.Unlimited[1].Name != "Unlimited 7 days" {
		t.Fatalf("unexpected unlimited name %q", plans.Unlimited[1].Name)
	}
}

func TestCatalogService_FetchPlansOrderIndependentOfInput(t *testing.T) {
	// безлимитные вперемешку с обычными, в том числе с unlimited-флагом и положительным объёмом
	bundles := []esimgo.Bundle{
		{Name: "ul_30", DataAmount: -1, Duration: 30},
		{Name: "std_2000_7", DataAmount: 2000, Duration: 7},
		{Name: "ul_flag_3", DataAmount: 3000, Duration: 3, Unlimited: true},
		{Name: "std_1000_30", DataAmount: 1000, Duration: 30},
		{Name: "ul_7", DataAmount: -1, Duration: 7},
		{Name: "std_1000_7", DataAmount: 1000, Duration: 7},
	}
	wantStandard := []string{"std_1000_7", "std_1000_30", "std_2000_7"}
	wantUnlimited := []string{"ul_flag_3", "ul_7", "ul_30"}

	for shift := 0; shift < len(bundles); shift++ {
		rotated := append(append([]esimgo.Bundle{}, bundles[shift:]...), bundles[:shift]...)
		svc := NewCatalogService(&stubProvider{bundles: rotated}, newTestLogger(), "USD")

		plans, err := svc.FetchPlans(context.Background(), "", "Europe")
		if err != nil {
			t.Fatalf("fetch plans failed: %v", err)
		}
		if got := planBundleNames(plans.Standard); !equalStrings(got, wantStandard) {
			t.Fatalf("shift %d: expected standard %v, got %v", shift, wantStandard, got)
		}
		if got := planBundleNames(plans.Unlimited); !equalStrings(got, wantUnlimited) {
			t.Fatalf("shift %d: expected unlimited %v, got %v", shift, wantUnlimited, got)
		}
	}
}

func planBundleNames(offers []models.PlanOffer) []string {
	names := make([]string, 0, len(offers))
	for _, o := range offers {
		names = append(names, o.BundleName)
	}
	return names
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCatalogService_FetchPlansEmpty(t *testing.T) {
	svc := NewCatalogService(&stubProvider{}, newTestLogger(), "")
	if _, err := svc.FetchPlans(context.Background(), "", ""); err == nil {
		t.Fatalf("expected error for empty catalogue")
	}
}

func TestCatalogService_Catalogue(t *testing.T) {
	raw := json.RawMessage(`{"bundles":[{"name":"x"}]}`)
	svc := NewCatalogService(&stubProvider{catalogue: raw}, newTestLogger(), "")

	got, err := svc.Catalogue(context.Background(), "GB")
	if err != nil {
		t.Fatalf("catalogue failed: %v", err)
	}
	if string(got) != string(raw) {
		t.Fatalf("expected catalogue passed through, got %s", got)
	}
}

func TestFormatDataAmount(t *testing.T) {
	tests := []struct {
		mb       float64
		amount   float64
		unit     string
		wantText string
	}{
		{500, 500, "MB", "500 MB"},
		{1000, 1, "GB", "1 GB"},
		{1500, 1.5, "GB", "1.5 GB"},
		{20000, 20, "GB", "20 GB"},
	}
	for _, tt := range tests {
		amount, unit := formatDataAmount(tt.mb)
		if amount != tt.amount || unit != tt.unit {
			t.Errorf("formatDataAmount(%v) = %v %s, want %v %s", tt.mb, amount, unit, tt.amount, tt.unit)
		}
		if got := formatDataLabel(amount, unit); got != tt.wantText {
			t.Errorf("formatDataLabel = %q, want %q", got, tt.wantText)
		}
	}
}
