package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type tx struct{ tx pgx.Tx }

var _ storage.Tx = (*tx)(nil)

// jsonb кодирует значение явно: срезы иначе могут уйти как массив Postgres.
func jsonb(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ---- каталог ----

const filterColumns = `sku, name, category, unit_cost, created_at`

func scanFilter(row pgx.Row) (filters.Filter, error) {
	var (
		f    filters.Filter
		cost decimal.NullDecimal
	)
	if err := row.Scan(&f.SKU, &f.Name, &f.Category, &cost, &f.CreatedAt); err != nil {
		return f, err
	}
	if cost.Valid {
		f.UnitCost = &cost.Decimal
	}
	return f, nil
}

func (t *tx) ListFilters(ctx context.Context) ([]filters.Filter, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+filterColumns+` FROM filters ORDER BY sku`)
	if err != nil {
		return nil, wrap("postgres.ListFilters", err)
	}
	defer rows.Close()

	var out []filters.Filter
	for rows.Next() {
		f, err := scanFilter(rows)
		if err != nil {
			return nil, wrap("postgres.ListFilters", err)
		}
		out = append(out, f)
	}
	return out, wrap("postgres.ListFilters", rows.Err())
}

func (t *tx) GetFilter(ctx context.Context, sku string) (filters.Filter, error) {
	f, err := scanFilter(t.tx.QueryRow(ctx, `SELECT `+filterColumns+` FROM filters WHERE sku = $1`, sku))
	if err != nil {
		return f, notFound("postgres.GetFilter", err, "filter %s not found", sku)
	}
	return f, nil
}

func (t *tx) UpsertFilter(ctx context.Context, f filters.Filter) error {
	var cost decimal.NullDecimal
	if f.UnitCost != nil {
		cost = decimal.NewNullDecimal(*f.UnitCost)
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO filters (sku, name, category, unit_cost)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (sku)
		DO UPDATE SET name = EXCLUDED.name, category = EXCLUDED.category, unit_cost = EXCLUDED.unit_cost
	`, f.SKU, f.Name, string(f.Category), cost)
	return wrap("postgres.UpsertFilter", err)
}

func (t *tx) ListPackages(ctx context.Context) ([]filters.Package, error) {
	rows, err := t.tx.Query(ctx, `SELECT code, name, items FROM filter_packages ORDER BY code`)
	if err != nil {
		return nil, wrap("postgres.ListPackages", err)
	}
	defer rows.Close()

	var out []filters.Package
	for rows.Next() {
		var p filters.Package
		if err := rows.Scan(&p.Code, &p.Name, &p.Items); err != nil {
			return nil, wrap("postgres.ListPackages", err)
		}
		out = append(out, p)
	}
	return out, wrap("postgres.ListPackages", rows.Err())
}

func (t *tx) GetPackage(ctx context.Context, code string) (filters.Package, error) {
	var p filters.Package
	err := t.tx.QueryRow(ctx, `SELECT code, name, items FROM filter_packages WHERE code = $1`, code).
		Scan(&p.Code, &p.Name, &p.Items)
	if err != nil {
		return p, notFound("postgres.GetPackage", err, "package %s not found", code)
	}
	return p, nil
}

func (t *tx) UpsertPackage(ctx context.Context, p filters.Package) error {
	items, err := jsonb(p.Items)
	if err != nil {
		return wrap("postgres.UpsertPackage", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO filter_packages (code, name, items)
		VALUES ($1,$2,$3)
		ON CONFLICT (code)
		DO UPDATE SET name = EXCLUDED.name, items = EXCLUDED.items
	`, p.Code, p.Name, items)
	return wrap("postgres.UpsertPackage", err)
}

func (t *tx) ListMappings(ctx context.Context) ([]filters.Mapping, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT plan_code, cycle_months, package_code, active
		FROM equipment_filter_mappings
		ORDER BY plan_code, cycle_months
	`)
	if err != nil {
		return nil, wrap("postgres.ListMappings", err)
	}
	defer rows.Close()

	var out []filters.Mapping
	for rows.Next() {
		var m filters.Mapping
		if err := rows.Scan(&m.PlanCode, &m.CycleMonths, &m.PackageCode, &m.Active); err != nil {
			return nil, wrap("postgres.ListMappings", err)
		}
		out = append(out, m)
	}
	return out, wrap("postgres.ListMappings", rows.Err())
}

func (t *tx) UpsertMapping(ctx context.Context, m filters.Mapping) error {
	if _, err := t.GetPackage(ctx, m.PackageCode); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO equipment_filter_mappings (plan_code, cycle_months, package_code, active)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (plan_code, cycle_months)
		DO UPDATE SET package_code = EXCLUDED.package_code, active = EXCLUDED.active
	`, filters.NormalizePlanCode(m.PlanCode), m.CycleMonths, m.PackageCode, m.Active)
	return wrap("postgres.UpsertMapping", err)
}

// ---- склад ----

func (t *tx) LockRecord(ctx context.Context, sku, location string) (inventory.Record, error) {
	var rec inventory.Record
	if _, err := t.GetFilter(ctx, sku); err != nil {
		return rec, err
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO inventory (sku, location) VALUES ($1,$2)
		ON CONFLICT (sku, location) DO NOTHING
	`, sku, location); err != nil {
		return rec, wrap("postgres.LockRecord", err)
	}
	err := t.tx.QueryRow(ctx, `
		SELECT sku, location, quantity, min_stock, baseline, updated_at
		FROM inventory
		WHERE sku = $1 AND location = $2
		FOR UPDATE
	`, sku, location).Scan(&rec.SKU, &rec.Location, &rec.Quantity, &rec.MinStock, &rec.Baseline, &rec.UpdatedAt)
	return rec, wrap("postgres.LockRecord", err)
}

func (t *tx) SaveRecord(ctx context.Context, rec inventory.Record) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE inventory
		SET quantity = $3, min_stock = $4, baseline = $5, updated_at = now()
		WHERE sku = $1 AND location = $2
	`, rec.SKU, rec.Location, rec.Quantity, rec.MinStock, rec.Baseline)
	if err != nil {
		return wrap("postgres.SaveRecord", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "postgres.SaveRecord", "inventory %s@%s not found", rec.SKU, rec.Location)
	}
	return nil
}

func (t *tx) ListRecords(ctx context.Context) ([]inventory.Record, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT sku, location, quantity, min_stock, baseline, updated_at
		FROM inventory
		ORDER BY sku, location
	`)
	if err != nil {
		return nil, wrap("postgres.ListRecords", err)
	}
	defer rows.Close()

	var out []inventory.Record
	for rows.Next() {
		var r inventory.Record
		if err := rows.Scan(&r.SKU, &r.Location, &r.Quantity, &r.MinStock, &r.Baseline, &r.UpdatedAt); err != nil {
			return nil, wrap("postgres.ListRecords", err)
		}
		out = append(out, r)
	}
	return out, wrap("postgres.ListRecords", rows.Err())
}

func (t *tx) InsertUsage(ctx context.Context, u inventory.Usage) (inventory.Usage, error) {
	if u.DeductedAt.IsZero() {
		u.DeductedAt = time.Now()
	}
	u.RestoredAt = nil
	err := t.tx.QueryRow(ctx, `
		INSERT INTO filter_usage (reference, maintenance_id, work_order_id, sku, quantity, location, deducted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, u.Reference, u.MaintenanceID, u.WorkOrderID, u.SKU, u.Quantity, u.Location, u.DeductedAt).Scan(&u.ID)
	return u, wrap("postgres.InsertUsage", err)
}

func (t *tx) ListUsages(ctx context.Context, q storage.UsageQuery) ([]inventory.Usage, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.Reference != "" {
		add("reference = $%d", q.Reference)
	}
	if q.MaintenanceID != 0 {
		add("maintenance_id = $%d", q.MaintenanceID)
	}
	if q.WorkOrderID != 0 {
		add("work_order_id = $%d", q.WorkOrderID)
	}
	if q.OutstandingOnly {
		where = append(where, "restored_at IS NULL")
	}
	sql := `SELECT id, reference, maintenance_id, work_order_id, sku, quantity, location, deducted_at, restored_at FROM filter_usage`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY id"

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap("postgres.ListUsages", err)
	}
	defer rows.Close()

	var out []inventory.Usage
	for rows.Next() {
		var u inventory.Usage
		if err := rows.Scan(&u.ID, &u.Reference, &u.MaintenanceID, &u.WorkOrderID, &u.SKU,
			&u.Quantity, &u.Location, &u.DeductedAt, &u.RestoredAt); err != nil {
			return nil, wrap("postgres.ListUsages", err)
		}
		out = append(out, u)
	}
	return out, wrap("postgres.ListUsages", rows.Err())
}

func (t *tx) MarkUsageRestored(ctx context.Context, id int64, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE filter_usage SET restored_at = $2
		WHERE id = $1 AND restored_at IS NULL
	`, id, at)
	if err != nil {
		return false, wrap("postgres.MarkUsageRestored", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM filter_usage WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, wrap("postgres.MarkUsageRestored", err)
	}
	if !exists {
		return false, apperr.New(apperr.KindNotFound, "postgres.MarkUsageRestored", "usage %d not found", id)
	}
	return false, nil
}

// ---- обслуживания ----

const maintenanceSelect = `
	SELECT m.id, m.scheduled_date, m.cycle_months, m.status, m.plan_id, p.plan_code,
	       m.channel, m.actual_date, m.completed_date, m.notes
	FROM maintenances m
	JOIN equipment_plans p ON p.id = m.plan_id`

func scanMaintenance(row pgx.Row) (maintenance.Maintenance, error) {
	var m maintenance.Maintenance
	err := row.Scan(&m.ID, &m.ScheduledDate, &m.CycleMonths, &m.Status, &m.PlanID, &m.PlanCode,
		&m.Channel, &m.ActualDate, &m.CompletedDate, &m.Notes)
	m.PlanCode = filters.NormalizePlanCode(m.PlanCode)
	return m, err
}

func (t *tx) LockMaintenance(ctx context.Context, id int64) (maintenance.Maintenance, error) {
	m, err := scanMaintenance(t.tx.QueryRow(ctx, maintenanceSelect+` WHERE m.id = $1 FOR UPDATE OF m`, id))
	if err != nil {
		return m, notFound("postgres.LockMaintenance", err, "maintenance %d not found", id)
	}
	return m, nil
}

func (t *tx) UpdateMaintenance(ctx context.Context, m maintenance.Maintenance) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE maintenances
		SET status = $2, actual_date = $3, completed_date = $4, notes = $5
		WHERE id = $1
	`, m.ID, string(m.Status), m.ActualDate, m.CompletedDate, m.Notes)
	if err != nil {
		return wrap("postgres.UpdateMaintenance", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "postgres.UpdateMaintenance", "maintenance %d not found", m.ID)
	}
	return nil
}

func (t *tx) ListMaintenances(ctx context.Context, from, to time.Time) ([]maintenance.Maintenance, error) {
	rows, err := t.tx.Query(ctx, maintenanceSelect+`
		WHERE m.scheduled_date >= $1 AND m.scheduled_date < $2
		ORDER BY m.scheduled_date, m.id
	`, from, to)
	if err != nil {
		return nil, wrap("postgres.ListMaintenances", err)
	}
	defer rows.Close()

	var out []maintenance.Maintenance
	for rows.Next() {
		m, err := scanMaintenance(rows)
		if err != nil {
			return nil, wrap("postgres.ListMaintenances", err)
		}
		out = append(out, m)
	}
	return out, wrap("postgres.ListMaintenances", rows.Err())
}

func (t *tx) HasOpenIncident(ctx context.Context, maintenanceID int64) (bool, error) {
	var open bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM incidents WHERE maintenance_id = $1 AND status = 'OPEN')
	`, maintenanceID).Scan(&open)
	return open, wrap("postgres.HasOpenIncident", err)
}
