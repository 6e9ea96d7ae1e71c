package projection

import (
	"context"
	"testing"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/service/catalog"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/Spok95/filter-ledger/internal/storage/memory"
	fx "github.com/Spok95/filter-ledger/internal/testfixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkStockout(t *testing.T) {
	c := Walk(10, []int{3, 3, 3, 3, 0, 0}, 4)

	assert.Equal(t, []int{7, 4, 1, -2, -2, -2}, c.Balances)
	assert.True(t, c.Stockout)
	assert.Equal(t, 4, c.MonthsUntilStockout)
	assert.True(t, c.Critical)
	assert.Equal(t, "4", c.Display)
}

func TestWalkNoConsumption(t *testing.T) {
	c := Walk(0, make([]int, 6), 4)
	assert.False(t, c.Stockout)
	assert.False(t, c.Critical)
	assert.Equal(t, 6, c.MonthsUntilStockout)
	assert.Equal(t, "6+", c.Display)

	c = Walk(5, []int{1, 1, 0}, 4)
	assert.False(t, c.Stockout)
	assert.Equal(t, "3+", c.Display)
}

func TestWalkLateStockoutNotCritical(t *testing.T) {
	c := Walk(2, []int{0, 0, 0, 0, 1, 1}, 4)
	assert.True(t, c.Stockout)
	assert.Equal(t, 6, c.MonthsUntilStockout)
	assert.False(t, c.Critical)
	assert.Equal(t, "6", c.Display)
}

type fixture struct {
	store *memory.Store
	sim   *Simulator
}

func setup(t *testing.T) fixture {
	t.Helper()
	s := memory.New()
	fx.Catalog(t, s)
	cat, err := catalog.New(context.Background(), s, fx.Logger(), nil)
	require.NoError(t, err)
	sim := New(s, cat, 4, fx.Logger()).WithClock(func() time.Time {
		return time.Date(2025, time.March, 14, 10, 0, 0, 0, time.UTC)
	})
	return fixture{store: s, sim: sim}
}

func (f fixture) plan(plan string, cycle int, when time.Time, st maintenance.Status) {
	f.store.PutMaintenance(maintenance.Maintenance{
		ScheduledDate: when,
		CycleMonths:   cycle,
		Status:        st,
		PlanCode:      plan,
		Channel:       maintenance.ChannelDelivery,
	})
}

func TestProjectScenario(t *testing.T) {
	f := setup(t)
	fx.Stock(t, f.store, "RO-10CF", 10, 2)

	// по 3 мембраны в апреле–июле
	for i := range 4 {
		for range 3 {
			f.plan(fx.PlanRO, 12, fx.Month(2025, time.April+time.Month(i)).AddDate(0, 0, 5), maintenance.StatusPending)
		}
	}
	// текущий месяц в прогноз не входит
	f.plan(fx.PlanRO, 12, fx.Month(2025, time.March).AddDate(0, 0, 20), maintenance.StatusPending)
	// за горизонтом
	f.plan(fx.PlanRO, 12, fx.Month(2025, time.October), maintenance.StatusPending)
	f.plan(fx.PlanUnknown, 6, fx.Month(2025, time.May), maintenance.StatusPending)
	f.plan(fx.PlanRO, 9, fx.Month(2025, time.June), maintenance.StatusPending)

	res, err := f.sim.Project(context.Background(), 6)
	require.NoError(t, err)

	require.Len(t, res.Months, 6)
	assert.Equal(t, time.April, res.Months[0].Month)
	assert.Equal(t, time.September, res.Months[5].Month)
	assert.Equal(t, 1, res.Months[1].Unresolved)
	assert.Equal(t, 1, res.Months[2].Unresolved)

	require.Len(t, res.Items, 4)
	byKey := map[string]Coverage{}
	for _, c := range res.Items {
		byKey[c.SKU] = c
	}
	ro := byKey["RO-10CF"]
	assert.Equal(t, []int{3, 3, 3, 3, 0, 0}, ro.Consumption)
	assert.Equal(t, []int{7, 4, 1, -2, -2, -2}, ro.Balances)
	assert.Equal(t, 4, ro.MonthsUntilStockout)
	assert.True(t, ro.Critical)

	pp := byKey["PP-10CF"]
	assert.Equal(t, 0, pp.Stock)
	assert.Equal(t, "6+", pp.Display)
	assert.False(t, pp.Critical)
}

func TestProjectCountsAnyStatusAndSumsLocations(t *testing.T) {
	f := setup(t)
	fx.Stock(t, f.store, "PP-10CF", 1, 0)
	require.NoError(t, f.store.InTx(context.Background(), func(tx storage.Tx) error {
		rec, err := tx.LockRecord(context.Background(), "PP-10CF", "TALLER")
		if err != nil {
			return err
		}
		rec.Quantity = 2
		return tx.SaveRecord(context.Background(), rec)
	}))
	f.plan(fx.PlanFilter, 6, fx.Month(2025, time.April), maintenance.StatusCompleted)
	f.plan(fx.PlanFilter, 6, fx.Month(2025, time.April), maintenance.StatusPending)

	res, err := f.sim.Project(context.Background(), 3)
	require.NoError(t, err)
	for _, c := range res.Items {
		if c.SKU == "PP-10CF" {
			assert.Equal(t, 3, c.Stock)
			assert.Equal(t, []int{2, 0, 0}, c.Consumption)
			assert.Equal(t, "3+", c.Display)
		}
	}
}

func TestProjectDoesNotTouchStock(t *testing.T) {
	f := setup(t)
	fx.Stock(t, f.store, "RO-10CF", 1, 0)
	f.plan(fx.PlanRO, 12, fx.Month(2025, time.April), maintenance.StatusPending)

	_, err := f.sim.Project(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.Quantity(t, f.store, "RO-10CF"))
}

func TestProjectMonthsRange(t *testing.T) {
	f := setup(t)
	_, err := f.sim.Project(context.Background(), 0)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.sim.Project(context.Background(), MaxMonths+1)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
