package workorders

import (
	"context"
	"slices"
	"strings"

	"github.com/Spok95/filter-ledger/internal/domain/filters"
	model "github.com/Spok95/filter-ledger/internal/domain/workorders"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/shopspring/decimal"
)

type CostLine struct {
	SKU      string           `json:"sku"`
	Name     string           `json:"name"`
	Quantity int              `json:"quantity"`
	UnitCost *decimal.Decimal `json:"unit_cost,omitempty"`
	Total    *decimal.Decimal `json:"total,omitempty"`
}

// CostEstimate — оценка стоимости фильтров наряда по зафиксированной сводке.
// Фильтры без цены перечислены в Unpriced и в Total не входят.
type CostEstimate struct {
	WorkOrderID int64           `json:"work_order_id"`
	Lines       []CostLine      `json:"lines"`
	Total       decimal.Decimal `json:"total"`
	Unpriced    []string        `json:"unpriced"`
}

func Estimate(wo model.WorkOrder, catalog []filters.Filter) CostEstimate {
	bySKU := make(map[string]filters.Filter, len(catalog))
	for _, f := range catalog {
		bySKU[f.SKU] = f
	}
	est := CostEstimate{WorkOrderID: wo.ID, Total: decimal.Zero}
	for sku, qty := range wo.FilterSummary {
		line := CostLine{SKU: sku, Quantity: qty}
		f, ok := bySKU[sku]
		if ok {
			line.Name = f.Name
		}
		if ok && f.UnitCost != nil {
			unit := *f.UnitCost
			total := unit.Mul(decimal.NewFromInt(int64(qty)))
			line.UnitCost, line.Total = &unit, &total
			est.Total = est.Total.Add(total)
		} else {
			est.Unpriced = append(est.Unpriced, sku)
		}
		est.Lines = append(est.Lines, line)
	}
	slices.SortFunc(est.Lines, func(a, b CostLine) int { return strings.Compare(a.SKU, b.SKU) })
	slices.Sort(est.Unpriced)
	return est
}

func (s *Service) EstimatedCost(ctx context.Context, id int64) (CostEstimate, error) {
	var (
		wo      model.WorkOrder
		catalog []filters.Filter
	)
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if wo, err = tx.GetWorkOrder(ctx, id); err != nil {
			return err
		}
		catalog, err = tx.ListFilters(ctx)
		return err
	})
	if err != nil {
		return CostEstimate{}, err
	}
	return Estimate(wo, catalog), nil
}
