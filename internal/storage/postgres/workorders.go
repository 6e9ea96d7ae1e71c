package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/workorders"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/jackc/pgx/v5"
)

const workOrderColumns = `id, year, month, delivery_type, status, package_summary, filter_summary,
	exceptions, delivery_date, created_at, generated_at, cancelled_at`

func scanWorkOrder(row pgx.Row) (workorders.WorkOrder, error) {
	var (
		wo    workorders.WorkOrder
		month int
	)
	err := row.Scan(&wo.ID, &wo.Year, &month, &wo.DeliveryType, &wo.Status, &wo.PackageSummary,
		&wo.FilterSummary, &wo.Exceptions, &wo.DeliveryDate, &wo.CreatedAt, &wo.GeneratedAt, &wo.CancelledAt)
	wo.Month = time.Month(month)
	return wo, err
}

func (t *tx) InsertWorkOrder(ctx context.Context, wo workorders.WorkOrder) (workorders.WorkOrder, error) {
	pkgs, err := jsonb(counts(wo.PackageSummary))
	if err != nil {
		return wo, wrap("postgres.InsertWorkOrder", err)
	}
	skus, err := jsonb(counts(wo.FilterSummary))
	if err != nil {
		return wo, wrap("postgres.InsertWorkOrder", err)
	}
	err = t.tx.QueryRow(ctx, `
		INSERT INTO work_orders (year, month, delivery_type, status, package_summary, filter_summary, exceptions, delivery_date)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id, created_at
	`, wo.Year, int(wo.Month), string(wo.DeliveryType), string(wo.Status), pkgs, skus, wo.Exceptions, wo.DeliveryDate).
		Scan(&wo.ID, &wo.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return wo, apperr.New(apperr.KindValidation, "postgres.InsertWorkOrder",
				"a work order already covers %d-%02d %s", wo.Year, wo.Month, wo.DeliveryType)
		}
		return wo, wrap("postgres.InsertWorkOrder", err)
	}
	if err := t.insertLines(ctx, wo.ID, wo.Lines); err != nil {
		return wo, err
	}
	return wo, nil
}

func (t *tx) insertLines(ctx context.Context, id int64, lines []workorders.Line) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, l := range lines {
		items, err := jsonb(l.Items)
		if err != nil {
			return wrap("postgres.insertLines", err)
		}
		batch.Queue(`
			INSERT INTO work_order_lines (work_order_id, position, maintenance_id, plan_code, cycle_months, package_code, items)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, id, i, l.MaintenanceID, l.PlanCode, l.CycleMonths, l.PackageCode, items)
	}
	return wrap("postgres.insertLines", t.tx.SendBatch(ctx, batch).Close())
}

// loadLines дочитывает строки для набора нарядов.
func (t *tx) loadLines(ctx context.Context, list []workorders.WorkOrder) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	idx := make(map[int64]int, len(list))
	for i, wo := range list {
		ids[i] = wo.ID
		idx[wo.ID] = i
	}
	rows, err := t.tx.Query(ctx, `
		SELECT work_order_id, maintenance_id, plan_code, cycle_months, package_code, items
		FROM work_order_lines
		WHERE work_order_id = ANY($1)
		ORDER BY work_order_id, position
	`, ids)
	if err != nil {
		return wrap("postgres.loadLines", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			woID int64
			l    workorders.Line
		)
		if err := rows.Scan(&woID, &l.MaintenanceID, &l.PlanCode, &l.CycleMonths, &l.PackageCode, &l.Items); err != nil {
			return wrap("postgres.loadLines", err)
		}
		i := idx[woID]
		list[i].Lines = append(list[i].Lines, l)
	}
	return wrap("postgres.loadLines", rows.Err())
}

func (t *tx) getWorkOrder(ctx context.Context, op string, id int64, lock bool) (workorders.WorkOrder, error) {
	sql := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	wo, err := scanWorkOrder(t.tx.QueryRow(ctx, sql, id))
	if err != nil {
		return wo, notFound(op, err, "work order %d not found", id)
	}
	one := []workorders.WorkOrder{wo}
	if err := t.loadLines(ctx, one); err != nil {
		return wo, err
	}
	return one[0], nil
}

func (t *tx) GetWorkOrder(ctx context.Context, id int64) (workorders.WorkOrder, error) {
	return t.getWorkOrder(ctx, "postgres.GetWorkOrder", id, false)
}

func (t *tx) LockWorkOrder(ctx context.Context, id int64) (workorders.WorkOrder, error) {
	return t.getWorkOrder(ctx, "postgres.LockWorkOrder", id, true)
}

func (t *tx) ListWorkOrders(ctx context.Context, q storage.WorkOrderQuery) ([]workorders.WorkOrder, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.Year != 0 {
		add("year = $%d", q.Year)
	}
	if q.Month != 0 {
		add("month = $%d", int(q.Month))
	}
	if q.DeliveryType != "" {
		add("delivery_type = $%d", string(q.DeliveryType))
	}
	if q.ExcludeCancelled {
		where = append(where, "status <> 'CANCELLED'")
	}
	sql := `SELECT ` + workOrderColumns + ` FROM work_orders`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY id"

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrap("postgres.ListWorkOrders", err)
	}
	var out []workorders.WorkOrder
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			rows.Close()
			return nil, wrap("postgres.ListWorkOrders", err)
		}
		out = append(out, wo)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrap("postgres.ListWorkOrders", err)
	}
	// строки читаем после закрытия курсора: на одном соединении два запроса не идут
	if err := t.loadLines(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (t *tx) UpdateWorkOrderStatus(ctx context.Context, id int64, from, to workorders.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE work_orders
		SET status       = $3,
		    generated_at = CASE WHEN $3 = 'GENERATED' THEN $4 ELSE generated_at END,
		    cancelled_at = CASE WHEN $3 = 'CANCELLED' THEN $4 ELSE cancelled_at END
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), at)
	if err != nil {
		return wrap("postgres.UpdateWorkOrderStatus", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var current string
	err = t.tx.QueryRow(ctx, `SELECT status FROM work_orders WHERE id = $1`, id).Scan(&current)
	if err != nil {
		return notFound("postgres.UpdateWorkOrderStatus", err, "work order %d not found", id)
	}
	return apperr.New(apperr.KindConcurrencyConflict, "postgres.UpdateWorkOrderStatus",
		"work order %d is %s, expected %s", id, current, from)
}

func (t *tx) UpdateDraft(ctx context.Context, wo workorders.WorkOrder) error {
	pkgs, err := jsonb(counts(wo.PackageSummary))
	if err != nil {
		return wrap("postgres.UpdateDraft", err)
	}
	skus, err := jsonb(counts(wo.FilterSummary))
	if err != nil {
		return wrap("postgres.UpdateDraft", err)
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE work_orders SET package_summary = $2, filter_summary = $3, exceptions = $4
		WHERE id = $1
	`, wo.ID, pkgs, skus, wo.Exceptions)
	if err != nil {
		return wrap("postgres.UpdateDraft", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "postgres.UpdateDraft", "work order %d not found", wo.ID)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM work_order_lines WHERE work_order_id = $1`, wo.ID); err != nil {
		return wrap("postgres.UpdateDraft", err)
	}
	return t.insertLines(ctx, wo.ID, wo.Lines)
}

func (t *tx) SetDeliveryDate(ctx context.Context, id int64, date *time.Time) error {
	tag, err := t.tx.Exec(ctx, `UPDATE work_orders SET delivery_date = $2 WHERE id = $1`, id, date)
	if err != nil {
		return wrap("postgres.SetDeliveryDate", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "postgres.SetDeliveryDate", "work order %d not found", id)
	}
	return nil
}

func (t *tx) DeleteWorkOrder(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, id)
	if err != nil {
		return wrap("postgres.DeleteWorkOrder", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.KindNotFound, "postgres.DeleteWorkOrder", "work order %d not found", id)
	}
	return nil
}

func (t *tx) AttachedMaintenances(ctx context.Context) (map[int64]int64, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT l.maintenance_id, l.work_order_id
		FROM work_order_lines l
		JOIN work_orders w ON w.id = l.work_order_id
		WHERE w.status <> 'CANCELLED'
	`)
	if err != nil {
		return nil, wrap("postgres.AttachedMaintenances", err)
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var mid, woID int64
		if err := rows.Scan(&mid, &woID); err != nil {
			return nil, wrap("postgres.AttachedMaintenances", err)
		}
		out[mid] = woID
	}
	return out, wrap("postgres.AttachedMaintenances", rows.Err())
}

func counts(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}
