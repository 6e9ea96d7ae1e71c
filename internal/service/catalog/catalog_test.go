package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/Spok95/filter-ledger/internal/storage/memory"
	fx "github.com/Spok95/filter-ledger/internal/testfixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *Service {
	t.Helper()
	s := memory.New()
	fx.Catalog(t, s)
	svc, err := New(context.Background(), s, fx.Logger(), nil)
	require.NoError(t, err)
	return svc
}

func TestResolve(t *testing.T) {
	svc := setup(t)

	res, err := svc.Resolve(" FIL-2 ", 12)
	require.NoError(t, err)
	require.True(t, res.Known())
	assert.Equal(t, "2.1", res.Package.Code)

	res, err = svc.Resolve(fx.PlanUnknown, 6)
	require.NoError(t, err)
	assert.False(t, res.Known())

	_, err = svc.Resolve(fx.PlanRO, 9)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestMappingChangesSwapResolver(t *testing.T) {
	ctx := context.Background()
	svc := setup(t)
	before := svc.Resolver()

	require.NoError(t, svc.UpsertMapping(ctx, filters.Mapping{PlanCode: fx.PlanUnknown, CycleMonths: 6, PackageCode: "1.1", Active: true}))
	res, err := svc.Resolve(fx.PlanUnknown, 6)
	require.NoError(t, err)
	assert.True(t, res.Known())
	// старая таблица не меняется
	assert.False(t, before.Resolve(fx.PlanUnknown, 6).Known())

	require.NoError(t, svc.DeactivateMapping(ctx, fx.PlanUnknown, 6))
	res, err = svc.Resolve(fx.PlanUnknown, 6)
	require.NoError(t, err)
	assert.False(t, res.Known())

	assert.ErrorIs(t, svc.DeactivateMapping(ctx, "NOPE", 6), apperr.ErrNotFound)
}

func TestUpsertMappingValidation(t *testing.T) {
	ctx := context.Background()
	svc := setup(t)

	err := svc.UpsertMapping(ctx, filters.Mapping{PlanCode: "X", CycleMonths: 6, PackageCode: "9.9", Active: true})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = svc.UpsertMapping(ctx, filters.Mapping{PlanCode: "X", CycleMonths: 5, PackageCode: "1.1", Active: true})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = svc.UpsertMapping(ctx, filters.Mapping{PlanCode: "  ", CycleMonths: 6, PackageCode: "1.1", Active: true})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestReferencedPackageIsImmutable(t *testing.T) {
	ctx := context.Background()
	svc := setup(t)

	changed := filters.Package{Code: "2.1", Name: "Two stage", Items: []filters.PackageItem{{SKU: "PP-10CF", Quantity: 2}}}
	assert.ErrorIs(t, svc.UpsertPackage(ctx, changed), apperr.ErrValidation)

	renamed := filters.Package{Code: "2.1", Name: "Two stage v2", Items: []filters.PackageItem{{SKU: "PP-10CF", Quantity: 1}, {SKU: "CTO-10CF", Quantity: 1}}}
	require.NoError(t, svc.UpsertPackage(ctx, renamed))

	// после снятия маппингов состав можно менять
	require.NoError(t, svc.DeactivateMapping(ctx, fx.PlanFilter, 6))
	require.NoError(t, svc.DeactivateMapping(ctx, fx.PlanFilter, 12))
	require.NoError(t, svc.UpsertPackage(ctx, changed))
	p, ok := svc.Resolver().Package("2.1")
	require.True(t, ok)
	assert.Equal(t, changed.Items, p.Items)
}

func TestUpsertPackageUnknownSKU(t *testing.T) {
	svc := setup(t)
	err := svc.UpsertPackage(context.Background(), filters.Package{Code: "4.1", Name: "x", Items: []filters.PackageItem{{SKU: "NOPE", Quantity: 1}}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpsertFilter(t *testing.T) {
	ctx := context.Background()
	svc := setup(t)

	require.NoError(t, svc.UpsertFilter(ctx, filters.Filter{SKU: "UF-10", Name: "Ultrafiltration", Category: filters.CategoryMembrane, UnitCost: fx.Price("12.00")}))
	assert.ErrorIs(t, svc.UpsertFilter(ctx, filters.Filter{SKU: "X", Name: "x", Category: "RESIN"}), apperr.ErrValidation)

	list, err := svc.Filters(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 5)
}

func TestRefreshPicksUpForeignWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := memory.New()
	fx.Catalog(t, s)
	svc, err := New(ctx, s, fx.Logger(), nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Refresh(ctx, 5*time.Millisecond)
	}()

	// запись мимо сервиса, как из второго экземпляра
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		return tx.UpsertMapping(ctx, filters.Mapping{PlanCode: fx.PlanUnknown, CycleMonths: 6, PackageCode: "1.1", Active: true})
	}))
	assert.Eventually(t, func() bool {
		return svc.Resolver().Resolve(fx.PlanUnknown, 6).Known()
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestConcurrentReloadsEndOnLatest(t *testing.T) {
	ctx := context.Background()
	svc := setup(t)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Reload(ctx))
		}()
	}
	require.NoError(t, svc.UpsertMapping(ctx, filters.Mapping{PlanCode: fx.PlanUnknown, CycleMonths: 6, PackageCode: "1.1", Active: true}))
	wg.Wait()

	assert.True(t, svc.Resolver().Resolve(fx.PlanUnknown, 6).Known())
}
