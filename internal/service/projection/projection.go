// Package projection прогнозирует расход фильтров по уже запланированным
// обслуживаниям и месяц, когда остаток кончится. Склад не меняет.
package projection

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/storage"
)

const MaxMonths = 36

type Resolver interface {
	Resolver() *filters.Resolver
}

type Month struct {
	Year       int        `json:"year"`
	Month      time.Month `json:"month"`
	Unresolved int        `json:"unresolved"`
}

// Coverage — прогноз по одному SKU. MonthsUntilStockout — номер (с 1) первого
// месяца с остатком ≤ 0; если не наступает, равен горизонту и Stockout=false.
type Coverage struct {
	SKU                 string           `json:"sku"`
	Name                string           `json:"name"`
	Category            filters.Category `json:"category"`
	Stock               int              `json:"stock"`
	Consumption         []int            `json:"consumption"`
	Balances            []int            `json:"balances"`
	MonthsUntilStockout int              `json:"months_until_stockout"`
	Stockout            bool             `json:"stockout"`
	Critical            bool             `json:"critical"`
	Display             string           `json:"display"`
}

type Result struct {
	AsOf    time.Time  `json:"as_of"`
	Horizon int        `json:"horizon"`
	Months  []Month    `json:"months"`
	Items   []Coverage `json:"items"`
}

type Simulator struct {
	store          storage.Store
	catalog        Resolver
	criticalMonths int
	now            func() time.Time
	log            *slog.Logger
}

func New(store storage.Store, catalog Resolver, criticalMonths int, log *slog.Logger) *Simulator {
	return &Simulator{store: store, catalog: catalog, criticalMonths: criticalMonths, now: time.Now, log: log}
}

func (s *Simulator) WithClock(now func() time.Time) *Simulator {
	s.now = now
	return s
}

// Walk проходит месяцы по порядку. Остаток ≤ 0 считается исчерпанием только
// если к этому месяцу был расход: SKU без расхода всегда «N+».
func Walk(stock int, consumption []int, criticalMonths int) Coverage {
	horizon := len(consumption)
	c := Coverage{
		Stock:               stock,
		Consumption:         consumption,
		Balances:            make([]int, horizon),
		MonthsUntilStockout: horizon,
	}
	balance, used := stock, 0
	for i, q := range consumption {
		balance -= q
		used += q
		c.Balances[i] = balance
		if !c.Stockout && used > 0 && balance <= 0 {
			c.Stockout = true
			c.MonthsUntilStockout = i + 1
		}
	}
	c.Critical = c.Stockout && c.MonthsUntilStockout <= criticalMonths
	c.Display = strconv.Itoa(c.MonthsUntilStockout)
	if !c.Stockout {
		c.Display += "+"
	}
	return c
}

// Project считает прогноз на months календарных месяцев после текущего.
// Учитываются обслуживания в любом статусе.
func (s *Simulator) Project(ctx context.Context, months int) (Result, error) {
	if months < 1 || months > MaxMonths {
		return Result{}, apperr.New(apperr.KindValidation, "projection.Project", "months must be in 1..%d, got %d", MaxMonths, months)
	}
	asOf := s.now().UTC()
	start := time.Date(asOf.Year(), asOf.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	end := start.AddDate(0, months, 0)

	var (
		catalog []filters.Filter
		records []inventory.Record
		planned []maintenance.Maintenance
	)
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if catalog, err = tx.ListFilters(ctx); err != nil {
			return err
		}
		if records, err = tx.ListRecords(ctx); err != nil {
			return err
		}
		planned, err = tx.ListMaintenances(ctx, start, end)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{AsOf: asOf, Horizon: months, Months: make([]Month, months)}
	for i := range res.Months {
		m := start.AddDate(0, i, 0)
		res.Months[i] = Month{Year: m.Year(), Month: m.Month()}
	}

	stock := map[string]int{}
	for _, r := range records {
		stock[r.SKU] += r.Quantity
	}

	consumption := map[string][]int{}
	for _, f := range catalog {
		consumption[f.SKU] = make([]int, months)
	}
	r := s.catalog.Resolver()
	for _, m := range planned {
		i := monthIndex(start, m.ScheduledDate)
		if r.ValidateCycle(m.CycleMonths) != nil {
			res.Months[i].Unresolved++
			continue
		}
		pkg := r.Resolve(m.PlanCode, m.CycleMonths)
		if !pkg.Known() {
			res.Months[i].Unresolved++
			continue
		}
		for _, it := range pkg.Package.Items {
			if _, ok := consumption[it.SKU]; !ok {
				consumption[it.SKU] = make([]int, months)
			}
			consumption[it.SKU][i] += it.Quantity
		}
	}

	for _, f := range catalog {
		c := Walk(stock[f.SKU], consumption[f.SKU], s.criticalMonths)
		c.SKU, c.Name, c.Category = f.SKU, f.Name, f.Category
		res.Items = append(res.Items, c)
	}
	critical := 0
	for _, c := range res.Items {
		if c.Critical {
			critical++
		}
	}
	s.log.Debug("stock projection built", "months", months, "skus", len(res.Items), "critical", critical)
	return res, nil
}

func monthIndex(start, t time.Time) int {
	t = t.UTC()
	return (t.Year()-start.Year())*12 + int(t.Month()) - int(start.Month())
}
