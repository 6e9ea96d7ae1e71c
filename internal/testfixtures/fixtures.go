// Package testfixtures — общий справочник и остатки для тестов сервисов.
package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const Location = "BODEGA"

// Планы оборудования из справочника.
const (
	PlanRO      = "RO-5E"   // осмос: 3.1 на 12 мес.
	PlanFilter  = "FIL-2"   // двухступенчатый фильтр: 2.1 на 6 и 12 мес.
	PlanDisp    = "DISP-1"  // диспенсер: 1.1 на 6 мес.
	PlanUnknown = "UNKNOWN" // без маппинга
)

func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// Catalog заполняет фильтры, пакеты 1.1/2.1/3.1 и маппинги.
func Catalog(t testing.TB, s storage.Store) {
	t.Helper()
	ctx := context.Background()
	fs := []filters.Filter{
		{SKU: "RO-10CF", Name: "RO membrane 10\"", Category: filters.CategoryMembrane, UnitCost: Price("42.50")},
		{SKU: "PP-10CF", Name: "PP sediment 10\"", Category: filters.CategoryCartridge, UnitCost: Price("3.10")},
		{SKU: "CTO-10CF", Name: "CTO carbon block 10\"", Category: filters.CategoryCartridge, UnitCost: Price("5.25")},
		{SKU: "S/P COMBI", Name: "Sediment/post combi", Category: filters.CategoryCartridge},
	}
	pkgs := []filters.Package{
		{Code: "1.1", Name: "Dispenser", Items: []filters.PackageItem{{SKU: "S/P COMBI", Quantity: 1}}},
		{Code: "2.1", Name: "Two stage", Items: []filters.PackageItem{{SKU: "PP-10CF", Quantity: 1}, {SKU: "CTO-10CF", Quantity: 1}}},
		{Code: "3.1", Name: "Reverse osmosis", Items: []filters.PackageItem{{SKU: "RO-10CF", Quantity: 1}}},
	}
	mappings := []filters.Mapping{
		{PlanCode: PlanDisp, CycleMonths: 6, PackageCode: "1.1", Active: true},
		{PlanCode: PlanFilter, CycleMonths: 6, PackageCode: "2.1", Active: true},
		{PlanCode: PlanFilter, CycleMonths: 12, PackageCode: "2.1", Active: true},
		{PlanCode: PlanRO, CycleMonths: 12, PackageCode: "3.1", Active: true},
	}
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		for _, f := range fs {
			if err := tx.UpsertFilter(ctx, f); err != nil {
				return err
			}
		}
		for _, p := range pkgs {
			if err := tx.UpsertPackage(ctx, p); err != nil {
				return err
			}
		}
		for _, m := range mappings {
			if err := tx.UpsertMapping(ctx, m); err != nil {
				return err
			}
		}
		return nil
	}))
}

// Stock задаёт начальный остаток: Quantity = Baseline = qty.
func Stock(t testing.TB, s storage.Store, sku string, qty, minStock int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		rec, err := tx.LockRecord(ctx, sku, Location)
		if err != nil {
			return err
		}
		rec.Quantity = qty
		rec.Baseline = qty
		rec.MinStock = minStock
		return tx.SaveRecord(ctx, rec)
	}))
}

// Quantity — текущий остаток по складу по умолчанию.
func Quantity(t testing.TB, s storage.Store, sku string) int {
	t.Helper()
	ctx := context.Background()
	var qty int
	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		recs, err := tx.ListRecords(ctx)
		for _, r := range recs {
			if r.SKU == sku && r.Location == Location {
				qty = r.Quantity
			}
		}
		return err
	}))
	return qty
}

// Month возвращает первое число месяца в UTC.
func Month(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}
