// Package workorders ведёт месячные наряды: формирование черновика,
// проведение (списание со склада) и отмену (возврат на склад).
package workorders

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	model "github.com/Spok95/filter-ledger/internal/domain/workorders"
	"github.com/Spok95/filter-ledger/internal/infra/metrics"
	"github.com/Spok95/filter-ledger/internal/service/ledger"
	"github.com/Spok95/filter-ledger/internal/storage"
)

type Resolver interface {
	Resolver() *filters.Resolver
}

type Service struct {
	store    storage.Store
	ledger   *ledger.Ledger
	catalog  Resolver
	location string
	metrics  *metrics.Metrics
	log      *slog.Logger
}

func New(store storage.Store, l *ledger.Ledger, catalog Resolver, location string, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{store: store, ledger: l, catalog: catalog, location: location, metrics: m, log: log}
}

// ConfirmReport — итог проведения. Skipped: обслуживания, по которым уже
// есть непогашенные списания (например, закрыты по одному).
type ConfirmReport struct {
	WorkOrder model.WorkOrder      `json:"work_order"`
	Movements []inventory.Movement `json:"movements"`
	BelowMin  []inventory.Movement `json:"below_min"`
	Skipped   []int64              `json:"skipped"`
}

func monthRange(year int, month time.Month) (time.Time, time.Time) {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// resolveLine: неподдерживаемый цикл считается отсутствием маппинга.
func resolveLine(r *filters.Resolver, m maintenance.Maintenance) model.Line {
	line := model.Line{MaintenanceID: m.ID, PlanCode: m.PlanCode, CycleMonths: m.CycleMonths}
	if r.ValidateCycle(m.CycleMonths) != nil {
		return line
	}
	if res := r.Resolve(m.PlanCode, m.CycleMonths); res.Known() {
		line.PackageCode = res.Package.Code
		line.Items = res.Package.Items
	}
	return line
}

// Generate создаёт черновик из PENDING-обслуживаний месяца с нужным каналом,
// ещё не попавших в неотменённый наряд. Склад не меняется; обслуживания без
// маппинга попадают в Exceptions.
func (s *Service) Generate(ctx context.Context, year int, month time.Month, channel maintenance.Channel) (model.WorkOrder, error) {
	const op = "workorders.Generate"
	if year < 2000 || month < time.January || month > time.December {
		return model.WorkOrder{}, apperr.New(apperr.KindValidation, op, "invalid period %d-%02d", year, month)
	}
	if !channel.Valid() {
		return model.WorkOrder{}, apperr.New(apperr.KindValidation, op, "unknown delivery type %q", channel)
	}

	var wo model.WorkOrder
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		existing, err := tx.ListWorkOrders(ctx, storage.WorkOrderQuery{Year: year, Month: month, DeliveryType: channel, ExcludeCancelled: true})
		if err != nil {
			return err
		}
		// один живой наряд на период и канал; чтобы добрать обслуживания,
		// назначенные позже, черновик отменяют и формируют заново
		if len(existing) > 0 {
			return apperr.New(apperr.KindValidation, op, "work order %d already covers %d-%02d %s", existing[0].ID, year, month, channel)
		}

		from, to := monthRange(year, month)
		ms, err := tx.ListMaintenances(ctx, from, to)
		if err != nil {
			return err
		}
		attached, err := tx.AttachedMaintenances(ctx)
		if err != nil {
			return err
		}

		r := s.catalog.Resolver()
		var lines []model.Line
		for _, m := range ms {
			if m.Status != maintenance.StatusPending || m.Channel != channel {
				continue
			}
			if _, taken := attached[m.ID]; taken {
				continue
			}
			lines = append(lines, resolveLine(r, m))
		}
		if len(lines) == 0 {
			return apperr.New(apperr.KindValidation, op, "no pending %s maintenances in %d-%02d", channel, year, month)
		}

		packages, skus, exceptions := model.Summarize(lines)
		wo, err = tx.InsertWorkOrder(ctx, model.WorkOrder{
			Month:          month,
			Year:           year,
			DeliveryType:   channel,
			Status:         model.StatusDraft,
			Lines:          lines,
			PackageSummary: packages,
			FilterSummary:  skus,
			Exceptions:     exceptions,
			CreatedAt:      s.ledger.Now(),
		})
		return err
	})
	if err != nil {
		return model.WorkOrder{}, err
	}

	s.metrics.Transition(string(model.StatusDraft))
	s.log.Info("work order generated", "work_order_id", wo.ID, "period", period(wo), "delivery_type", channel,
		"lines", len(wo.Lines), "exceptions", wo.Exceptions)
	if wo.Exceptions > 0 {
		s.log.Warn("work order has unmapped maintenances", "work_order_id", wo.ID, "exceptions", wo.Exceptions)
	}
	return wo, nil
}

func period(wo model.WorkOrder) string {
	return time.Date(wo.Year, wo.Month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01")
}

// Confirm проводит черновик одной транзакцией. Разрешённые при формировании
// строки списываются по зафиксированному составу; строки без маппинга
// разрешаются заново и попадают в сводки. Строка, которая так и не
// разрешилась, откатывает всё, наряд остаётся DRAFT.
//
// Порядок блокировок: наряд, обслуживания по возрастанию id, строки склада.
func (s *Service) Confirm(ctx context.Context, id int64) (ConfirmReport, error) {
	const op = "workorders.Confirm"
	var rep ConfirmReport
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		wo, err := tx.LockWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if wo.Status != model.StatusDraft {
			return apperr.New(apperr.KindInvalidStateTransition, op, "work order %d is %s", id, wo.Status)
		}

		// без блокировки обслуживания параллельное закрытие не увидит наших
		// незакоммиченных списаний и спишет второй раз
		ids := wo.MaintenanceIDs()
		slices.Sort(ids)
		for _, mid := range ids {
			if _, err := tx.LockMaintenance(ctx, mid); err != nil {
				return err
			}
		}

		r := s.catalog.Resolver()
		late := 0
		for _, line := range wo.Lines {
			outstanding, err := tx.ListUsages(ctx, storage.UsageQuery{MaintenanceID: line.MaintenanceID, OutstandingOnly: true})
			if err != nil {
				return err
			}
			if len(outstanding) > 0 {
				rep.Skipped = append(rep.Skipped, line.MaintenanceID)
				continue
			}
			items := line.Items
			if !line.Resolved() {
				pkg, err := resolveLate(r, line)
				if err != nil {
					return apperr.Wrap(apperr.KindUnknownPackageMapping, op, err)
				}
				if wo, err = wo.WithResolvedLine(line.MaintenanceID, pkg); err != nil {
					return err
				}
				items = pkg.Items
				late++
			}
			for _, it := range items {
				mv, err := s.ledger.DeductTx(ctx, tx, it.SKU, s.location, it.Quantity,
					inventory.WorkOrderLineRef(id, line.MaintenanceID, it.SKU))
				if err != nil {
					return err
				}
				rep.Movements = append(rep.Movements, mv)
			}
		}

		if late > 0 {
			if err := tx.UpdateDraft(ctx, wo); err != nil {
				return err
			}
		}
		if err := tx.UpdateWorkOrderStatus(ctx, id, model.StatusDraft, model.StatusGenerated, s.ledger.Now()); err != nil {
			return err
		}
		rep.WorkOrder, err = tx.GetWorkOrder(ctx, id)
		return err
	})
	if err != nil {
		s.ledger.Observe(err)
		s.log.Warn("work order confirm failed", "work_order_id", id, "err", err)
		return ConfirmReport{}, err
	}

	rep.BelowMin = ledger.BelowMin(rep.Movements)
	s.metrics.Transition(string(model.StatusGenerated))
	s.ledger.NotifyLow(ctx, rep.Movements)
	s.log.Info("work order confirmed", "work_order_id", id, "movements", len(rep.Movements), "skipped", len(rep.Skipped))
	return rep, nil
}

// resolveLate ищет пакет для строки, не разрешённой при формировании.
func resolveLate(r *filters.Resolver, line model.Line) (filters.Package, error) {
	if r.ValidateCycle(line.CycleMonths) != nil {
		return filters.Package{}, fmt.Errorf("maintenance %d: unsupported cycle %d", line.MaintenanceID, line.CycleMonths)
	}
	res := r.Resolve(line.PlanCode, line.CycleMonths)
	if !res.Known() {
		return filters.Package{}, fmt.Errorf("maintenance %d: no package for plan %q cycle %d", line.MaintenanceID, res.PlanCode, res.CycleMonths)
	}
	return *res.Package, nil
}

// Cancel: GENERATED — вернуть все непогашенные списания наряда; DRAFT — без
// складского эффекта; CANCELLED — ничего не делать.
func (s *Service) Cancel(ctx context.Context, id int64) (model.WorkOrder, []inventory.Movement, error) {
	var (
		wo       model.WorkOrder
		restored []inventory.Movement
		noop     bool
	)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		wo, err = tx.LockWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if wo.Status == model.StatusCancelled {
			noop = true
			return nil
		}
		if wo.Status == model.StatusGenerated {
			if restored, err = s.ledger.RestoreTx(ctx, tx, storage.UsageQuery{WorkOrderID: id}); err != nil {
				return err
			}
		}
		if err := tx.UpdateWorkOrderStatus(ctx, id, wo.Status, model.StatusCancelled, s.ledger.Now()); err != nil {
			return err
		}
		wo, err = tx.GetWorkOrder(ctx, id)
		return err
	})
	if err != nil {
		s.ledger.Observe(err)
		return model.WorkOrder{}, nil, err
	}
	if !noop {
		s.metrics.Transition(string(model.StatusCancelled))
		s.log.Info("work order cancelled", "work_order_id", id, "restored", len(restored))
	}
	return wo, restored, nil
}

// Delete удаляет только черновик; обслуживания не меняются.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		wo, err := tx.LockWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if wo.Status != model.StatusDraft {
			return apperr.New(apperr.KindInvalidStateTransition, "workorders.Delete", "work order %d is %s, only drafts can be deleted", id, wo.Status)
		}
		return tx.DeleteWorkOrder(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.Info("work order deleted", "work_order_id", id)
	return nil
}

func (s *Service) UpdateDeliveryDate(ctx context.Context, id int64, date time.Time) (model.WorkOrder, error) {
	const op = "workorders.UpdateDeliveryDate"
	if date.IsZero() {
		return model.WorkOrder{}, apperr.New(apperr.KindValidation, op, "delivery date is required")
	}
	var wo model.WorkOrder
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		if wo, err = tx.LockWorkOrder(ctx, id); err != nil {
			return err
		}
		if wo.Status == model.StatusCancelled {
			return apperr.New(apperr.KindInvalidStateTransition, op, "work order %d is cancelled", id)
		}
		if err := tx.SetDeliveryDate(ctx, id, &date); err != nil {
			return err
		}
		wo.DeliveryDate = &date
		return nil
	})
	if err != nil {
		return model.WorkOrder{}, err
	}
	return wo, nil
}

// RemoveMaintenance убирает строку из черновика; сводки уменьшаются на её
// зафиксированный вклад.
func (s *Service) RemoveMaintenance(ctx context.Context, id, maintenanceID int64) (model.WorkOrder, error) {
	const op = "workorders.RemoveMaintenance"
	var wo model.WorkOrder
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		cur, err := tx.LockWorkOrder(ctx, id)
		if err != nil {
			return err
		}
		if cur.Status != model.StatusDraft {
			return apperr.New(apperr.KindInvalidStateTransition, op, "work order %d is %s", id, cur.Status)
		}
		if wo, err = cur.WithoutLine(maintenanceID); err != nil {
			return err
		}
		return tx.UpdateDraft(ctx, wo)
	})
	if err != nil {
		return model.WorkOrder{}, err
	}
	s.log.Info("maintenance removed from work order", "work_order_id", id, "maintenance_id", maintenanceID)
	return wo, nil
}

func (s *Service) Get(ctx context.Context, id int64) (model.WorkOrder, error) {
	var wo model.WorkOrder
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		wo, err = tx.GetWorkOrder(ctx, id)
		return err
	})
	return wo, err
}

// List: нулевые year/month — без ограничения.
func (s *Service) List(ctx context.Context, year int, month time.Month) ([]model.WorkOrder, error) {
	var out []model.WorkOrder
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListWorkOrders(ctx, storage.WorkOrderQuery{Year: year, Month: month})
		return err
	})
	return out, err
}
