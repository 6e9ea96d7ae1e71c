// Package completion закрывает отдельное обслуживание и списывает его пакет.
package completion

import (
	"context"
	"log/slog"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/service/ledger"
	"github.com/Spok95/filter-ledger/internal/storage"
)

// Resolver — источник актуальной таблицы пакетов.
type Resolver interface {
	Resolver() *filters.Resolver
}

type Handler struct {
	store    storage.Store
	ledger   *ledger.Ledger
	catalog  Resolver
	location string
	log      *slog.Logger
}

func New(store storage.Store, l *ledger.Ledger, catalog Resolver, location string, log *slog.Logger) *Handler {
	return &Handler{store: store, ledger: l, catalog: catalog, location: location, log: log}
}

// Report — итог закрытия: изменения остатков и позиции ниже минимума.
// AlreadyDeducted: фильтры уже списаны проведённым нарядом.
type Report struct {
	MaintenanceID   int64                `json:"maintenance_id"`
	PackageCode     string               `json:"package_code,omitempty"`
	Movements       []inventory.Movement `json:"movements"`
	BelowMin        []inventory.Movement `json:"below_min"`
	AlreadyDeducted bool                 `json:"already_deducted"`
}

// Complete: открытый инцидент => BlockedByOpenIncident; уже закрыто =>
// AlreadyCompleted; нет маппинга => UnknownPackageMapping. Всё или ничего.
func (h *Handler) Complete(ctx context.Context, id int64, actualDate time.Time, notes string) (Report, error) {
	const op = "completion.Complete"
	rep := Report{MaintenanceID: id}

	err := h.store.InTx(ctx, func(tx storage.Tx) error {
		m, err := tx.LockMaintenance(ctx, id)
		if err != nil {
			return err
		}
		open, err := tx.HasOpenIncident(ctx, id)
		if err != nil {
			return err
		}
		if open {
			return apperr.New(apperr.KindBlockedByOpenIncident, op, "maintenance %d has an open incident", id)
		}
		switch m.Status {
		case maintenance.StatusCompleted:
			return apperr.New(apperr.KindAlreadyCompleted, op, "maintenance %d is already completed", id)
		case maintenance.StatusCancelled:
			return apperr.New(apperr.KindInvalidStateTransition, op, "maintenance %d is cancelled", id)
		}

		outstanding, err := tx.ListUsages(ctx, storage.UsageQuery{MaintenanceID: id, OutstandingOnly: true})
		if err != nil {
			return err
		}
		if len(outstanding) > 0 {
			rep.AlreadyDeducted = true
		} else {
			r := h.catalog.Resolver()
			if err := r.ValidateCycle(m.CycleMonths); err != nil {
				return err
			}
			res := r.Resolve(m.PlanCode, m.CycleMonths)
			if !res.Known() {
				return apperr.New(apperr.KindUnknownPackageMapping, op,
					"no package for plan %q cycle %d", res.PlanCode, res.CycleMonths)
			}
			rep.PackageCode = res.Package.Code
			ref := inventory.MaintenanceRef(id)
			for _, it := range res.Package.Items {
				mv, err := h.ledger.DeductTx(ctx, tx, it.SKU, h.location, it.Quantity, ref)
				if err != nil {
					return err
				}
				rep.Movements = append(rep.Movements, mv)
			}
		}

		now := h.ledger.Now()
		actual := actualDate
		if actual.IsZero() {
			actual = now
		}
		m.Status = maintenance.StatusCompleted
		m.ActualDate = &actual
		m.CompletedDate = &now
		m.Notes = notes
		return tx.UpdateMaintenance(ctx, m)
	})
	if err != nil {
		h.ledger.Observe(err)
		return Report{}, err
	}

	rep.BelowMin = ledger.BelowMin(rep.Movements)
	h.ledger.NotifyLow(ctx, rep.Movements)
	h.log.Info("maintenance completed", "maintenance_id", id, "package", rep.PackageCode,
		"already_deducted", rep.AlreadyDeducted, "below_min", len(rep.BelowMin))
	return rep, nil
}

// Reopen возвращает закрытое обслуживание в PENDING и гасит его собственные
// списания. Списания наряда не трогает: их гасит отмена наряда.
func (h *Handler) Reopen(ctx context.Context, id int64) (Report, error) {
	const op = "completion.Reopen"
	rep := Report{MaintenanceID: id}
	err := h.store.InTx(ctx, func(tx storage.Tx) error {
		m, err := tx.LockMaintenance(ctx, id)
		if err != nil {
			return err
		}
		if m.Status != maintenance.StatusCompleted {
			return apperr.New(apperr.KindInvalidStateTransition, op, "maintenance %d is %s, not completed", id, m.Status)
		}
		rep.Movements, err = h.ledger.RestoreTx(ctx, tx, storage.UsageQuery{Reference: inventory.MaintenanceRef(id).String()})
		if err != nil {
			return err
		}
		m.Status = maintenance.StatusPending
		m.ActualDate = nil
		m.CompletedDate = nil
		return tx.UpdateMaintenance(ctx, m)
	})
	if err != nil {
		h.ledger.Observe(err)
		return Report{}, err
	}
	h.log.Info("maintenance reopened", "maintenance_id", id, "restored", len(rep.Movements))
	return rep, nil
}
