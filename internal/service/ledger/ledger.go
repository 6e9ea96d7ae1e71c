// Package ledger — складской учёт фильтров: остатки по (SKU, склад) и журнал
// списаний. Остаток всегда равен Baseline минус непогашенные списания.
package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/infra/metrics"
	"github.com/Spok95/filter-ledger/internal/storage"
)

// LowStockNotifier получает позиции, которые после операции ушли ниже минимума.
type LowStockNotifier interface {
	NotifyLowStock(ctx context.Context, items []inventory.Movement) error
}

type Ledger struct {
	store    storage.Store
	log      *slog.Logger
	metrics  *metrics.Metrics
	notifier LowStockNotifier
	now      func() time.Time
}

type Option func(*Ledger)

func WithMetrics(m *metrics.Metrics) Option { return func(l *Ledger) { l.metrics = m } }

func WithNotifier(n LowStockNotifier) Option { return func(l *Ledger) { l.notifier = n } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func New(store storage.Store, log *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{store: store, log: log, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) Now() time.Time { return l.now() }

func usageSource(workOrder bool) string {
	if workOrder {
		return "work_order"
	}
	return "maintenance"
}

// Deduct списывает qty в отдельной транзакции.
func (l *Ledger) Deduct(ctx context.Context, sku, location string, qty int, ref inventory.Ref) (inventory.Movement, error) {
	var mv inventory.Movement
	err := l.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		mv, err = l.DeductTx(ctx, tx, sku, location, qty, ref)
		return err
	})
	if err != nil {
		l.Observe(err)
		return inventory.Movement{}, err
	}
	l.NotifyLow(ctx, []inventory.Movement{mv})
	return mv, nil
}

// DeductTx блокирует строку остатка, уменьшает его и пишет строку журнала.
// Уход в минус допустим. Повтор для непогашенного ref+SKU+склад ничего не меняет.
func (l *Ledger) DeductTx(ctx context.Context, tx storage.Tx, sku, location string, qty int, ref inventory.Ref) (inventory.Movement, error) {
	const op = "ledger.Deduct"
	if qty <= 0 {
		return inventory.Movement{}, apperr.New(apperr.KindValidation, op, "qty must be > 0, got %d", qty)
	}
	if strings.TrimSpace(sku) == "" || strings.TrimSpace(location) == "" {
		return inventory.Movement{}, apperr.New(apperr.KindValidation, op, "sku and location are required")
	}
	if err := ref.Validate(); err != nil {
		return inventory.Movement{}, err
	}

	rec, err := tx.LockRecord(ctx, sku, location)
	if err != nil {
		return inventory.Movement{}, err
	}

	existing, err := tx.ListUsages(ctx, storage.UsageQuery{Reference: ref.String(), OutstandingOnly: true})
	if err != nil {
		return inventory.Movement{}, err
	}
	for _, u := range existing {
		if u.SKU == sku && u.Location == location {
			l.log.Debug("deduct already applied", "ref", u.Reference, "sku", sku, "location", location)
			return inventory.Movement{SKU: sku, Location: location, Previous: rec.Quantity, Current: rec.Quantity, MinStock: rec.MinStock}, nil
		}
	}

	mv := inventory.Movement{SKU: sku, Location: location, Previous: rec.Quantity, MinStock: rec.MinStock}
	rec.Quantity -= qty
	mv.Current = rec.Quantity
	if err := tx.SaveRecord(ctx, rec); err != nil {
		return inventory.Movement{}, err
	}

	u := ref.NewUsage(sku, location, qty)
	u.DeductedAt = l.now()
	if _, err := tx.InsertUsage(ctx, u); err != nil {
		return inventory.Movement{}, err
	}
	l.metrics.Deducted(usageSource(ref.IsWorkOrderLine()), qty)
	return mv, nil
}

// Restore гасит все непогашенные списания по ссылке. Повторный вызов — no-op.
func (l *Ledger) Restore(ctx context.Context, ref inventory.Ref) ([]inventory.Movement, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	var out []inventory.Movement
	err := l.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		out, err = l.RestoreTx(ctx, tx, storage.UsageQuery{Reference: ref.String()})
		return err
	})
	if err != nil {
		l.Observe(err)
		return nil, err
	}
	return out, nil
}

// RestoreTx возвращает на склад все непогашенные списания, подходящие под q.
// Движения сгруппированы по (SKU, склад) в порядке первого появления.
func (l *Ledger) RestoreTx(ctx context.Context, tx storage.Tx, q storage.UsageQuery) ([]inventory.Movement, error) {
	q.OutstandingOnly = true
	usages, err := tx.ListUsages(ctx, q)
	if err != nil {
		return nil, err
	}

	at := l.now()
	type key struct{ sku, location string }
	idx := map[key]int{}
	var out []inventory.Movement
	for _, u := range usages {
		ok, err := tx.MarkUsageRestored(ctx, u.ID, at)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rec, err := tx.LockRecord(ctx, u.SKU, u.Location)
		if err != nil {
			return nil, err
		}
		k := key{u.SKU, u.Location}
		i, seen := idx[k]
		if !seen {
			out = append(out, inventory.Movement{SKU: u.SKU, Location: u.Location, Previous: rec.Quantity})
			i = len(out) - 1
			idx[k] = i
		}
		rec.Quantity += u.Quantity
		if err := tx.SaveRecord(ctx, rec); err != nil {
			return nil, err
		}
		out[i].Current = rec.Quantity
		out[i].MinStock = rec.MinStock
		l.metrics.Restored(usageSource(u.WorkOrderID != nil), u.Quantity)
	}
	return out, nil
}

// Receive — приход на склад; поднимает и остаток, и Baseline.
func (l *Ledger) Receive(ctx context.Context, sku, location string, qty int) (inventory.Movement, error) {
	const op = "ledger.Receive"
	if qty <= 0 {
		return inventory.Movement{}, apperr.New(apperr.KindValidation, op, "qty must be > 0, got %d", qty)
	}
	if strings.TrimSpace(location) == "" {
		return inventory.Movement{}, apperr.New(apperr.KindValidation, op, "location is required")
	}
	var mv inventory.Movement
	err := l.store.InTx(ctx, func(tx storage.Tx) error {
		rec, err := tx.LockRecord(ctx, sku, location)
		if err != nil {
			return err
		}
		mv = inventory.Movement{SKU: sku, Location: location, Previous: rec.Quantity, MinStock: rec.MinStock}
		rec.Quantity += qty
		rec.Baseline += qty
		mv.Current = rec.Quantity
		return tx.SaveRecord(ctx, rec)
	})
	if err != nil {
		l.Observe(err)
		return inventory.Movement{}, err
	}
	l.log.Info("stock received", "sku", sku, "location", location, "qty", qty, "quantity", mv.Current)
	return mv, nil
}

func (l *Ledger) SetMinStock(ctx context.Context, sku, location string, minStock int) (inventory.Record, error) {
	if minStock < 0 {
		return inventory.Record{}, apperr.New(apperr.KindValidation, "ledger.SetMinStock", "min stock must be >= 0, got %d", minStock)
	}
	var rec inventory.Record
	err := l.store.InTx(ctx, func(tx storage.Tx) error {
		var err error
		rec, err = tx.LockRecord(ctx, sku, location)
		if err != nil {
			return err
		}
		rec.MinStock = minStock
		return tx.SaveRecord(ctx, rec)
	})
	if err != nil {
		l.Observe(err)
		return inventory.Record{}, err
	}
	return rec, nil
}

// Snapshot — все записи склада, только чтение.
func (l *Ledger) Snapshot(ctx context.Context) ([]inventory.Record, error) {
	var recs []inventory.Record
	err := l.store.View(ctx, func(tx storage.Tx) error {
		var err error
		recs, err = tx.ListRecords(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	below := 0
	for _, r := range recs {
		if r.BelowMin() {
			below++
		}
	}
	l.metrics.SetBelowMin(below)
	return recs, nil
}

// Reconcile пересчитывает Baseline − непогашенные списания и возвращает
// записи, где это не совпадает с остатком.
func (l *Ledger) Reconcile(ctx context.Context) ([]inventory.Drift, error) {
	var drifts []inventory.Drift
	err := l.store.View(ctx, func(tx storage.Tx) error {
		recs, err := tx.ListRecords(ctx)
		if err != nil {
			return err
		}
		usages, err := tx.ListUsages(ctx, storage.UsageQuery{OutstandingOnly: true})
		if err != nil {
			return err
		}
		type key struct{ sku, location string }
		outstanding := map[key]int{}
		for _, u := range usages {
			outstanding[key{u.SKU, u.Location}] += u.Quantity
		}
		for _, r := range recs {
			k := key{r.SKU, r.Location}
			out := outstanding[k]
			delete(outstanding, k)
			if expected := r.Baseline - out; expected != r.Quantity {
				drifts = append(drifts, inventory.Drift{SKU: r.SKU, Location: r.Location, Quantity: r.Quantity, Expected: expected, Outstanding: out})
			}
		}
		for k, out := range outstanding {
			drifts = append(drifts, inventory.Drift{SKU: k.sku, Location: k.location, Expected: -out, Outstanding: out})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(drifts) > 0 {
		l.log.Warn("ledger drift detected", "records", len(drifts))
	}
	return drifts, nil
}

// NotifyLow отправляет позиции ниже минимума. Вызывать после фиксации транзакции.
func (l *Ledger) NotifyLow(ctx context.Context, movements []inventory.Movement) {
	low := BelowMin(movements)
	if len(low) == 0 || l.notifier == nil {
		return
	}
	if err := l.notifier.NotifyLowStock(ctx, low); err != nil {
		l.log.Warn("low stock notification failed", "err", err)
	}
}

func BelowMin(movements []inventory.Movement) []inventory.Movement {
	var out []inventory.Movement
	for _, m := range movements {
		if m.Current < m.MinStock {
			out = append(out, m)
		}
	}
	return out
}

// Observe учитывает конфликты блокировок в метриках.
func (l *Ledger) Observe(err error) {
	if apperr.KindOf(err) == apperr.KindConcurrencyConflict {
		l.metrics.Conflict()
	}
}
