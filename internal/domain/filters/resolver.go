package filters

import (
	"slices"

	"github.com/Spok95/filter-ledger/internal/apperr"
)

var DefaultCycles = []int{6, 12, 18, 24}

// Resolution — результат поиска пакета. Package == nil означает «маппинга нет»:
// это не ошибка, пакетные вызовы продолжают агрегировать и считают исключение.
type Resolution struct {
	PlanCode    string
	CycleMonths int
	Package     *Package
}

func (r Resolution) Known() bool { return r.Package != nil }

type mappingKey struct {
	plan  string
	cycle int
}

// Resolver — неизменяемая таблица (план, цикл) → пакет. После построения
// только читается, поэтому безопасен для конкурентного использования.
type Resolver struct {
	packages map[string]Package
	mappings map[mappingKey]string
	cycles   []int
}

func NewResolver(packages []Package, mappings []Mapping, cycles []int) *Resolver {
	r := &Resolver{
		packages: make(map[string]Package, len(packages)),
		mappings: make(map[mappingKey]string, len(mappings)),
		cycles:   slices.Clone(cycles),
	}
	if len(r.cycles) == 0 {
		r.cycles = slices.Clone(DefaultCycles)
	}
	slices.Sort(r.cycles)
	for _, p := range packages {
		p.Items = slices.Clone(p.Items)
		r.packages[p.Code] = p
	}
	for _, m := range mappings {
		if !m.Active {
			continue
		}
		r.mappings[mappingKey{plan: NormalizePlanCode(m.PlanCode), cycle: m.CycleMonths}] = m.PackageCode
	}
	return r
}

// Resolve не возвращает ошибок: отсутствие маппинга (или пакета, на который
// он ссылается) даёт Resolution без пакета.
func (r *Resolver) Resolve(planCode string, cycleMonths int) Resolution {
	res := Resolution{PlanCode: NormalizePlanCode(planCode), CycleMonths: cycleMonths}
	code, ok := r.mappings[mappingKey{plan: res.PlanCode, cycle: cycleMonths}]
	if !ok {
		return res
	}
	p, ok := r.packages[code]
	if !ok {
		return res
	}
	p.Items = slices.Clone(p.Items)
	res.Package = &p
	return res
}

func (r *Resolver) ValidateCycle(cycleMonths int) error {
	if _, ok := slices.BinarySearch(r.cycles, cycleMonths); !ok {
		return apperr.New(apperr.KindValidation, "filters.Resolve",
			"unsupported maintenance cycle %d (supported: %v)", cycleMonths, r.cycles)
	}
	return nil
}

func (r *Resolver) Package(code string) (Package, bool) {
	p, ok := r.packages[code]
	if ok {
		p.Items = slices.Clone(p.Items)
	}
	return p, ok
}

// Referenced — есть ли активный маппинг, который ссылается на пакет.
func (r *Resolver) Referenced(packageCode string) bool {
	for _, code := range r.mappings {
		if code == packageCode {
			return true
		}
	}
	return false
}

func (r *Resolver) Cycles() []int { return slices.Clone(r.cycles) }
