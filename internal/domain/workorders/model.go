package workorders

import (
	"maps"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusGenerated Status = "GENERATED"
	StatusCancelled Status = "CANCELLED"
)

// CanTransition: DRAFT→GENERATED, DRAFT→CANCELLED, GENERATED→CANCELLED.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusGenerated || to == StatusCancelled
	case StatusGenerated:
		return to == StatusCancelled
	default:
		return false
	}
}

// Line — обслуживание в составе наряда. PackageCode/Items фиксируются при
// формировании; пустой PackageCode — нет маппинга (исключение).
type Line struct {
	MaintenanceID int64                 `json:"maintenance_id"`
	PlanCode      string                `json:"plan_code"`
	CycleMonths   int                   `json:"cycle_months"`
	PackageCode   string                `json:"package_code"`
	Items         []filters.PackageItem `json:"items"`
}

func (l Line) Resolved() bool { return l.PackageCode != "" }

type WorkOrder struct {
	ID           int64               `json:"id"`
	Month        time.Month          `json:"month"`
	Year         int                 `json:"year"`
	DeliveryType maintenance.Channel `json:"delivery_type"`
	Status       Status              `json:"status"`
	Lines        []Line              `json:"lines"`
	// Сводки считаются один раз при формировании и дальше не пересчитываются.
	PackageSummary map[string]int `json:"package_summary"`
	FilterSummary  map[string]int `json:"filter_summary"`
	Exceptions     int            `json:"exceptions"`
	DeliveryDate   *time.Time     `json:"delivery_date,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	GeneratedAt    *time.Time     `json:"generated_at,omitempty"`
	CancelledAt    *time.Time     `json:"cancelled_at,omitempty"`
}

func (w WorkOrder) MaintenanceIDs() []int64 {
	ids := make([]int64, 0, len(w.Lines))
	for _, l := range w.Lines {
		ids = append(ids, l.MaintenanceID)
	}
	return ids
}

func (w WorkOrder) Line(maintenanceID int64) (Line, bool) {
	for _, l := range w.Lines {
		if l.MaintenanceID == maintenanceID {
			return l, true
		}
	}
	return Line{}, false
}

// Summarize строит сводки по строкам. Вызывается только при формировании.
func Summarize(lines []Line) (packages map[string]int, skus map[string]int, exceptions int) {
	packages = map[string]int{}
	skus = map[string]int{}
	for _, l := range lines {
		if !l.Resolved() {
			exceptions++
			continue
		}
		packages[l.PackageCode]++
		for _, it := range l.Items {
			skus[it.SKU] += it.Quantity
		}
	}
	return packages, skus, exceptions
}

// WithoutLine убирает строку из черновика и вычитает её зафиксированный вклад
// из сводок, не обращаясь к текущим маппингам.
func (w WorkOrder) WithoutLine(maintenanceID int64) (WorkOrder, error) {
	idx := -1
	for i, l := range w.Lines {
		if l.MaintenanceID == maintenanceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return w, apperr.New(apperr.KindNotFound, "workorders.WithoutLine",
			"maintenance %d is not part of work order %d", maintenanceID, w.ID)
	}
	line := w.Lines[idx]

	out := w
	out.Lines = append(append([]Line{}, w.Lines[:idx]...), w.Lines[idx+1:]...)
	out.PackageSummary = cloneCounts(w.PackageSummary)
	out.FilterSummary = cloneCounts(w.FilterSummary)
	if !line.Resolved() {
		out.Exceptions--
		return out, nil
	}
	decrement(out.PackageSummary, line.PackageCode, 1)
	for _, it := range line.Items {
		decrement(out.FilterSummary, it.SKU, it.Quantity)
	}
	return out, nil
}

// WithResolvedLine фиксирует пакет для строки, у которой при формировании не
// было маппинга: вклад добавляется в сводки, исключений становится меньше.
// Уже разрешённые строки не меняются.
func (w WorkOrder) WithResolvedLine(maintenanceID int64, pkg filters.Package) (WorkOrder, error) {
	idx := -1
	for i, l := range w.Lines {
		if l.MaintenanceID == maintenanceID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return w, apperr.New(apperr.KindNotFound, "workorders.WithResolvedLine",
			"maintenance %d is not part of work order %d", maintenanceID, w.ID)
	}
	if w.Lines[idx].Resolved() {
		return w, nil
	}

	out := w
	out.Lines = append([]Line{}, w.Lines...)
	out.Lines[idx].PackageCode = pkg.Code
	out.Lines[idx].Items = append([]filters.PackageItem{}, pkg.Items...)
	out.PackageSummary = cloneCounts(w.PackageSummary)
	out.FilterSummary = cloneCounts(w.FilterSummary)
	out.Exceptions--
	out.PackageSummary[pkg.Code]++
	for _, it := range pkg.Items {
		out.FilterSummary[it.SKU] += it.Quantity
	}
	return out, nil
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return maps.Clone(m)
}

func decrement(m map[string]int, key string, by int) {
	m[key] -= by
	if m[key] <= 0 {
		delete(m, key)
	}
}
