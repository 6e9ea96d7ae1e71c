package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/domain/workorders"
	"github.com/Spok95/filter-ledger/internal/storage"
)

type tx struct {
	st  *state
	now func() time.Time
}

var _ storage.Tx = (*tx)(nil)

// ---- каталог ----

func (t *tx) ListFilters(context.Context) ([]filters.Filter, error) {
	out := make([]filters.Filter, 0, len(t.st.filters))
	for _, f := range t.st.filters {
		out = append(out, f)
	}
	slices.SortFunc(out, func(a, b filters.Filter) int { return strings.Compare(a.SKU, b.SKU) })
	return out, nil
}

func (t *tx) GetFilter(_ context.Context, sku string) (filters.Filter, error) {
	f, ok := t.st.filters[sku]
	if !ok {
		return f, apperr.New(apperr.KindNotFound, "memory.GetFilter", "filter %s not found", sku)
	}
	return f, nil
}

func (t *tx) UpsertFilter(_ context.Context, f filters.Filter) error {
	if old, ok := t.st.filters[f.SKU]; ok {
		f.CreatedAt = old.CreatedAt
	} else if f.CreatedAt.IsZero() {
		f.CreatedAt = t.now()
	}
	t.st.filters[f.SKU] = f
	return nil
}

func (t *tx) ListPackages(context.Context) ([]filters.Package, error) {
	out := make([]filters.Package, 0, len(t.st.packages))
	for _, p := range t.st.packages {
		out = append(out, clonePackage(p))
	}
	slices.SortFunc(out, func(a, b filters.Package) int { return strings.Compare(a.Code, b.Code) })
	return out, nil
}

func (t *tx) GetPackage(_ context.Context, code string) (filters.Package, error) {
	p, ok := t.st.packages[code]
	if !ok {
		return p, apperr.New(apperr.KindNotFound, "memory.GetPackage", "package %s not found", code)
	}
	return clonePackage(p), nil
}

func (t *tx) UpsertPackage(_ context.Context, p filters.Package) error {
	t.st.packages[p.Code] = clonePackage(p)
	return nil
}

func (t *tx) ListMappings(context.Context) ([]filters.Mapping, error) {
	out := make([]filters.Mapping, 0, len(t.st.mappings))
	for _, m := range t.st.mappings {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b filters.Mapping) int {
		return cmp.Or(strings.Compare(a.PlanCode, b.PlanCode), cmp.Compare(a.CycleMonths, b.CycleMonths))
	})
	return out, nil
}

func (t *tx) UpsertMapping(_ context.Context, m filters.Mapping) error {
	if _, ok := t.st.packages[m.PackageCode]; !ok {
		return apperr.New(apperr.KindNotFound, "memory.UpsertMapping", "package %s not found", m.PackageCode)
	}
	m.PlanCode = filters.NormalizePlanCode(m.PlanCode)
	t.st.mappings[mappingKey{plan: m.PlanCode, cycle: m.CycleMonths}] = m
	return nil
}

// ---- склад ----

func (t *tx) LockRecord(_ context.Context, sku, location string) (inventory.Record, error) {
	if _, ok := t.st.filters[sku]; !ok {
		return inventory.Record{}, apperr.New(apperr.KindNotFound, "memory.LockRecord", "filter %s not found", sku)
	}
	k := recordKey{sku: sku, location: location}
	rec, ok := t.st.records[k]
	if !ok {
		rec = inventory.Record{SKU: sku, Location: location, UpdatedAt: t.now()}
		t.st.records[k] = rec
	}
	return rec, nil
}

func (t *tx) SaveRecord(_ context.Context, rec inventory.Record) error {
	k := recordKey{sku: rec.SKU, location: rec.Location}
	if _, ok := t.st.records[k]; !ok {
		return apperr.New(apperr.KindNotFound, "memory.SaveRecord", "inventory %s@%s not found", rec.SKU, rec.Location)
	}
	rec.UpdatedAt = t.now()
	t.st.records[k] = rec
	return nil
}

func (t *tx) ListRecords(context.Context) ([]inventory.Record, error) {
	out := make([]inventory.Record, 0, len(t.st.records))
	for _, r := range t.st.records {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b inventory.Record) int {
		return cmp.Or(strings.Compare(a.SKU, b.SKU), strings.Compare(a.Location, b.Location))
	})
	return out, nil
}

func (t *tx) InsertUsage(_ context.Context, u inventory.Usage) (inventory.Usage, error) {
	t.st.nextUsageID++
	u.ID = t.st.nextUsageID
	if u.DeductedAt.IsZero() {
		u.DeductedAt = t.now()
	}
	u.RestoredAt = nil
	t.st.usages = append(t.st.usages, u)
	return u, nil
}

func (t *tx) ListUsages(_ context.Context, q storage.UsageQuery) ([]inventory.Usage, error) {
	var out []inventory.Usage
	for _, u := range t.st.usages {
		if q.Reference != "" && u.Reference != q.Reference {
			continue
		}
		if q.MaintenanceID != 0 && u.MaintenanceID != q.MaintenanceID {
			continue
		}
		if q.WorkOrderID != 0 && (u.WorkOrderID == nil || *u.WorkOrderID != q.WorkOrderID) {
			continue
		}
		if q.OutstandingOnly && !u.Outstanding() {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (t *tx) MarkUsageRestored(_ context.Context, id int64, at time.Time) (bool, error) {
	for i := range t.st.usages {
		if t.st.usages[i].ID != id {
			continue
		}
		if !t.st.usages[i].Outstanding() {
			return false, nil
		}
		t.st.usages[i].RestoredAt = &at
		return true, nil
	}
	return false, apperr.New(apperr.KindNotFound, "memory.MarkUsageRestored", "usage %d not found", id)
}

// ---- обслуживания ----

func (t *tx) LockMaintenance(_ context.Context, id int64) (maintenance.Maintenance, error) {
	m, ok := t.st.maintenances[id]
	if !ok {
		return m, apperr.New(apperr.KindNotFound, "memory.LockMaintenance", "maintenance %d not found", id)
	}
	return m, nil
}

func (t *tx) UpdateMaintenance(_ context.Context, m maintenance.Maintenance) error {
	old, ok := t.st.maintenances[m.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "memory.UpdateMaintenance", "maintenance %d not found", m.ID)
	}
	old.Status = m.Status
	old.ActualDate = m.ActualDate
	old.CompletedDate = m.CompletedDate
	old.Notes = m.Notes
	t.st.maintenances[m.ID] = old
	return nil
}

func (t *tx) ListMaintenances(_ context.Context, from, to time.Time) ([]maintenance.Maintenance, error) {
	var out []maintenance.Maintenance
	for _, m := range t.st.maintenances {
		if m.ScheduledDate.Before(from) || !m.ScheduledDate.Before(to) {
			continue
		}
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b maintenance.Maintenance) int {
		return cmp.Or(a.ScheduledDate.Compare(b.ScheduledDate), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *tx) HasOpenIncident(_ context.Context, maintenanceID int64) (bool, error) {
	return t.st.openIncident[maintenanceID], nil
}

// ---- наряды ----

func (t *tx) InsertWorkOrder(_ context.Context, wo workorders.WorkOrder) (workorders.WorkOrder, error) {
	for _, other := range t.st.workOrders {
		if other.Status != workorders.StatusCancelled && other.Year == wo.Year &&
			other.Month == wo.Month && other.DeliveryType == wo.DeliveryType {
			return wo, apperr.New(apperr.KindValidation, "memory.InsertWorkOrder",
				"work order %d already covers %d-%02d %s", other.ID, wo.Year, wo.Month, wo.DeliveryType)
		}
	}
	t.st.nextWorkOrderID++
	wo.ID = t.st.nextWorkOrderID
	if wo.CreatedAt.IsZero() {
		wo.CreatedAt = t.now()
	}
	t.st.workOrders[wo.ID] = cloneWorkOrder(wo)
	return cloneWorkOrder(wo), nil
}

func (t *tx) GetWorkOrder(_ context.Context, id int64) (workorders.WorkOrder, error) {
	wo, ok := t.st.workOrders[id]
	if !ok {
		return wo, apperr.New(apperr.KindNotFound, "memory.GetWorkOrder", "work order %d not found", id)
	}
	return cloneWorkOrder(wo), nil
}

func (t *tx) LockWorkOrder(ctx context.Context, id int64) (workorders.WorkOrder, error) {
	return t.GetWorkOrder(ctx, id)
}

func (t *tx) ListWorkOrders(_ context.Context, q storage.WorkOrderQuery) ([]workorders.WorkOrder, error) {
	var out []workorders.WorkOrder
	for _, wo := range t.st.workOrders {
		if q.Year != 0 && wo.Year != q.Year {
			continue
		}
		if q.Month != 0 && wo.Month != q.Month {
			continue
		}
		if q.DeliveryType != "" && wo.DeliveryType != q.DeliveryType {
			continue
		}
		if q.ExcludeCancelled && wo.Status == workorders.StatusCancelled {
			continue
		}
		out = append(out, cloneWorkOrder(wo))
	}
	slices.SortFunc(out, func(a, b workorders.WorkOrder) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) UpdateWorkOrderStatus(_ context.Context, id int64, from, to workorders.Status, at time.Time) error {
	wo, ok := t.st.workOrders[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "memory.UpdateWorkOrderStatus", "work order %d not found", id)
	}
	if wo.Status != from {
		return apperr.New(apperr.KindConcurrencyConflict, "memory.UpdateWorkOrderStatus",
			"work order %d is %s, expected %s", id, wo.Status, from)
	}
	wo.Status = to
	switch to {
	case workorders.StatusGenerated:
		wo.GeneratedAt = &at
	case workorders.StatusCancelled:
		wo.CancelledAt = &at
	}
	t.st.workOrders[id] = wo
	return nil
}

func (t *tx) UpdateDraft(_ context.Context, wo workorders.WorkOrder) error {
	old, ok := t.st.workOrders[wo.ID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "memory.UpdateDraft", "work order %d not found", wo.ID)
	}
	old.Lines = wo.Lines
	old.PackageSummary = wo.PackageSummary
	old.FilterSummary = wo.FilterSummary
	old.Exceptions = wo.Exceptions
	t.st.workOrders[wo.ID] = cloneWorkOrder(old)
	return nil
}

func (t *tx) SetDeliveryDate(_ context.Context, id int64, date *time.Time) error {
	wo, ok := t.st.workOrders[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "memory.SetDeliveryDate", "work order %d not found", id)
	}
	wo.DeliveryDate = date
	t.st.workOrders[id] = wo
	return nil
}

func (t *tx) DeleteWorkOrder(_ context.Context, id int64) error {
	if _, ok := t.st.workOrders[id]; !ok {
		return apperr.New(apperr.KindNotFound, "memory.DeleteWorkOrder", "work order %d not found", id)
	}
	delete(t.st.workOrders, id)
	return nil
}

func (t *tx) AttachedMaintenances(context.Context) (map[int64]int64, error) {
	out := map[int64]int64{}
	for _, wo := range t.st.workOrders {
		if wo.Status == workorders.StatusCancelled {
			continue
		}
		for _, l := range wo.Lines {
			out[l.MaintenanceID] = wo.ID
		}
	}
	return out, nil
}
