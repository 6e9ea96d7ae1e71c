package filters

import (
	"strings"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/shopspring/decimal"
)

type Category string

const (
	CategoryCartridge Category = "CARTRIDGE" // картриджи (PP, CTO, S/P COMBI…)
	CategoryMembrane  Category = "MEMBRANE"  // мембраны обратного осмоса
)

func (c Category) Valid() bool {
	return c == CategoryCartridge || c == CategoryMembrane
}

type Filter struct {
	SKU       string           `json:"sku"`
	Name      string           `json:"name"`
	Category  Category         `json:"category"`
	UnitCost  *decimal.Decimal `json:"unit_cost,omitempty"` // может отсутствовать
	CreatedAt time.Time        `json:"created_at"`
}

func (f Filter) Validate() error {
	if strings.TrimSpace(f.SKU) == "" {
		return apperr.New(apperr.KindValidation, "filters.Filter", "sku is required")
	}
	if strings.TrimSpace(f.Name) == "" {
		return apperr.New(apperr.KindValidation, "filters.Filter", "name is required for %s", f.SKU)
	}
	if !f.Category.Valid() {
		return apperr.New(apperr.KindValidation, "filters.Filter", "unknown category %q", f.Category)
	}
	if f.UnitCost != nil && f.UnitCost.IsNegative() {
		return apperr.New(apperr.KindValidation, "filters.Filter", "unit cost must be >= 0")
	}
	return nil
}

type PackageItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Package — набор фильтров на одно обслуживание. После привязки к активному
// маппингу состав не меняется.
type Package struct {
	Code  string        `json:"code"`
	Name  string        `json:"name"`
	Items []PackageItem `json:"items"`
}

func (p Package) Validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return apperr.New(apperr.KindValidation, "filters.Package", "code is required")
	}
	if len(p.Items) == 0 {
		return apperr.New(apperr.KindValidation, "filters.Package", "package %s has no items", p.Code)
	}
	seen := make(map[string]struct{}, len(p.Items))
	for _, it := range p.Items {
		if strings.TrimSpace(it.SKU) == "" {
			return apperr.New(apperr.KindValidation, "filters.Package", "package %s: empty sku", p.Code)
		}
		if it.Quantity <= 0 {
			return apperr.New(apperr.KindValidation, "filters.Package", "package %s: quantity of %s must be > 0", p.Code, it.SKU)
		}
		if _, dup := seen[it.SKU]; dup {
			return apperr.New(apperr.KindValidation, "filters.Package", "package %s: duplicate sku %s", p.Code, it.SKU)
		}
		seen[it.SKU] = struct{}{}
	}
	return nil
}

// SameItems сравнивает состав с учётом порядка.
func (p Package) SameItems(items []PackageItem) bool {
	if len(p.Items) != len(items) {
		return false
	}
	for i := range items {
		if p.Items[i] != items[i] {
			return false
		}
	}
	return true
}

type Mapping struct {
	PlanCode    string `json:"plan_code"`
	CycleMonths int    `json:"cycle_months"`
	PackageCode string `json:"package_code"`
	Active      bool   `json:"active"`
}

func (m Mapping) Validate() error {
	if NormalizePlanCode(m.PlanCode) == "" {
		return apperr.New(apperr.KindValidation, "filters.Mapping", "plan code is required")
	}
	if m.CycleMonths <= 0 {
		return apperr.New(apperr.KindValidation, "filters.Mapping", "cycle must be > 0, got %d", m.CycleMonths)
	}
	if strings.TrimSpace(m.PackageCode) == "" {
		return apperr.New(apperr.KindValidation, "filters.Mapping", "package code is required")
	}
	return nil
}

func NormalizePlanCode(code string) string {
	return strings.TrimSpace(code)
}
