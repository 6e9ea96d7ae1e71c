package completion

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/service/catalog"
	"github.com/Spok95/filter-ledger/internal/service/ledger"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/Spok95/filter-ledger/internal/storage/memory"
	fx "github.com/Spok95/filter-ledger/internal/testfixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	store   *memory.Store
	ledger  *ledger.Ledger
	handler *Handler
}

func setup(t *testing.T) env {
	t.Helper()
	s := memory.New()
	fx.Catalog(t, s)
	cat, err := catalog.New(context.Background(), s, fx.Logger(), nil)
	require.NoError(t, err)
	l := ledger.New(s, fx.Logger())
	return env{store: s, ledger: l, handler: New(s, l, cat, fx.Location, fx.Logger())}
}

func (e env) maintenance(plan string, cycle int) int64 {
	return e.store.PutMaintenance(maintenance.Maintenance{
		ScheduledDate: fx.Month(2025, time.March),
		PlanCode:      plan,
		CycleMonths:   cycle,
		Channel:       maintenance.ChannelOnSite,
	}).ID
}

func (e env) usages(t *testing.T, q storage.UsageQuery) []inventory.Usage {
	t.Helper()
	var out []inventory.Usage
	require.NoError(t, e.store.View(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.ListUsages(context.Background(), q)
		return err
	}))
	return out
}

func TestCompleteScenarioA(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	fx.Stock(t, e.store, "RO-10CF", 80, 60)
	id := e.maintenance(fx.PlanRO, 12)
	actual := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)

	rep, err := e.handler.Complete(ctx, id, actual, "ok")
	require.NoError(t, err)
	assert.Equal(t, "3.1", rep.PackageCode)
	require.Len(t, rep.Movements, 1)
	assert.Equal(t, inventory.Movement{SKU: "RO-10CF", Location: fx.Location, Previous: 80, Current: 79, MinStock: 60}, rep.Movements[0])
	assert.Equal(t, inventory.StatusWarning, rep.Movements[0].Status())
	assert.Empty(t, rep.BelowMin)

	require.NoError(t, e.store.View(ctx, func(tx storage.Tx) error {
		m, err := tx.LockMaintenance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, maintenance.StatusCompleted, m.Status)
		require.NotNil(t, m.ActualDate)
		assert.Equal(t, actual, *m.ActualDate)
		assert.NotNil(t, m.CompletedDate)
		assert.Equal(t, "ok", m.Notes)
		return nil
	}))
}

func TestCompleteTwiceNeverDeductsTwice(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	fx.Stock(t, e.store, "PP-10CF", 10, 0)
	fx.Stock(t, e.store, "CTO-10CF", 10, 0)
	id := e.maintenance(fx.PlanFilter, 6)

	_, err := e.handler.Complete(ctx, id, time.Time{}, "")
	require.NoError(t, err)
	_, err = e.handler.Complete(ctx, id, time.Time{}, "")
	assert.ErrorIs(t, err, apperr.ErrAlreadyCompleted)

	assert.Equal(t, 9, fx.Quantity(t, e.store, "PP-10CF"))
	assert.Equal(t, 9, fx.Quantity(t, e.store, "CTO-10CF"))
}

func TestCompleteBlockedByOpenIncident(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	fx.Stock(t, e.store, "RO-10CF", 5, 0)
	id := e.maintenance(fx.PlanRO, 12)
	e.store.SetIncident(id, true)

	_, err := e.handler.Complete(ctx, id, time.Time{}, "")
	assert.ErrorIs(t, err, apperr.ErrBlockedByOpenIncident)
	assert.Equal(t, 5, fx.Quantity(t, e.store, "RO-10CF"))

	e.store.SetIncident(id, false)
	_, err = e.handler.Complete(ctx, id, time.Time{}, "")
	assert.NoError(t, err)
}

func TestCompleteUnknownMappingLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	id := e.maintenance(fx.PlanUnknown, 6)

	_, err := e.handler.Complete(ctx, id, time.Time{}, "")
	assert.ErrorIs(t, err, apperr.ErrUnknownPackageMapping)
	assert.Empty(t, e.usages(t, storage.UsageQuery{MaintenanceID: id}))
}

func TestCompleteUnsupportedCycle(t *testing.T) {
	e := setup(t)
	id := e.maintenance(fx.PlanRO, 7)
	_, err := e.handler.Complete(context.Background(), id, time.Time{}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCompleteMissingMaintenance(t *testing.T) {
	e := setup(t)
	_, err := e.handler.Complete(context.Background(), 404, time.Time{}, "")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCompleteSkipsDeductionDoneByWorkOrder(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	fx.Stock(t, e.store, "RO-10CF", 5, 0)
	id := e.maintenance(fx.PlanRO, 12)
	_, err := e.ledger.Deduct(ctx, "RO-10CF", fx.Location, 1, inventory.WorkOrderLineRef(1, id, "RO-10CF"))
	require.NoError(t, err)

	rep, err := e.handler.Complete(ctx, id, time.Time{}, "")
	require.NoError(t, err)
	assert.True(t, rep.AlreadyDeducted)
	assert.Empty(t, rep.Movements)
	assert.Equal(t, 4, fx.Quantity(t, e.store, "RO-10CF"))
}

func TestReopenRestoresOwnDeductions(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	fx.Stock(t, e.store, "PP-10CF", 10, 0)
	fx.Stock(t, e.store, "CTO-10CF", 10, 0)
	id := e.maintenance(fx.PlanFilter, 12)

	_, err := e.handler.Complete(ctx, id, time.Time{}, "")
	require.NoError(t, err)
	rep, err := e.handler.Reopen(ctx, id)
	require.NoError(t, err)
	assert.Len(t, rep.Movements, 2)
	assert.Equal(t, 10, fx.Quantity(t, e.store, "PP-10CF"))

	_, err = e.handler.Reopen(ctx, id)
	assert.ErrorIs(t, err, apperr.ErrInvalidStateTransition)

	// после переоткрытия можно закрыть снова
	_, err = e.handler.Complete(ctx, id, time.Time{}, "")
	require.NoError(t, err)
	assert.Equal(t, 9, fx.Quantity(t, e.store, "CTO-10CF"))
}

func TestConcurrentCompletionSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	fx.Stock(t, e.store, "S/P COMBI", 10, 0)
	id := e.maintenance(fx.PlanDisp, 6)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.handler.Complete(ctx, id, time.Time{}, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if assert.ErrorIs(t, err, apperr.ErrAlreadyCompleted) {
				rejected++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 19, rejected)
	assert.Equal(t, 9, fx.Quantity(t, e.store, "S/P COMBI"))
}
