package workorders

import (
	"errors"
	"testing"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pkg21 = []filters.PackageItem{{SKU: "PP-10CF", Quantity: 1}, {SKU: "CTO-10CF", Quantity: 1}}
	pkg11 = []filters.PackageItem{{SKU: "S/P COMBI", Quantity: 1}}
)

func TestCanTransition(t *testing.T) {
	legal := [][2]Status{
		{StatusDraft, StatusGenerated},
		{StatusDraft, StatusCancelled},
		{StatusGenerated, StatusCancelled},
	}
	for _, p := range legal {
		assert.True(t, CanTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}
	illegal := [][2]Status{
		{StatusGenerated, StatusDraft},
		{StatusCancelled, StatusDraft},
		{StatusCancelled, StatusGenerated},
		{StatusGenerated, StatusGenerated},
		{StatusCancelled, StatusCancelled},
	}
	for _, p := range illegal {
		assert.False(t, CanTransition(p[0], p[1]), "%s -> %s", p[0], p[1])
	}
}

func TestSummarizeScenarioB(t *testing.T) {
	lines := []Line{
		{MaintenanceID: 1, PackageCode: "2.1", Items: pkg21},
		{MaintenanceID: 2, PackageCode: "2.1", Items: pkg21},
		{MaintenanceID: 3, PackageCode: "1.1", Items: pkg11},
	}
	packages, skus, exceptions := Summarize(lines)

	assert.Equal(t, map[string]int{"2.1": 2, "1.1": 1}, packages)
	assert.Equal(t, map[string]int{"PP-10CF": 2, "CTO-10CF": 2, "S/P COMBI": 1}, skus)
	assert.Zero(t, exceptions)
}

func TestSummarizeCountsUnresolvedSeparately(t *testing.T) {
	lines := []Line{
		{MaintenanceID: 1, PackageCode: "2.1", Items: pkg21},
		{MaintenanceID: 2, PlanCode: "RO-5E", CycleMonths: 6},
	}
	packages, skus, exceptions := Summarize(lines)

	assert.Equal(t, map[string]int{"2.1": 1}, packages)
	assert.Equal(t, map[string]int{"PP-10CF": 1, "CTO-10CF": 1}, skus)
	assert.Equal(t, 1, exceptions)
}

func TestWithoutLine(t *testing.T) {
	lines := []Line{
		{MaintenanceID: 1, PackageCode: "2.1", Items: pkg21},
		{MaintenanceID: 2, PackageCode: "1.1", Items: pkg11},
		{MaintenanceID: 3, PlanCode: "RO-5E", CycleMonths: 6},
	}
	packages, skus, exceptions := Summarize(lines)
	wo := WorkOrder{ID: 9, Status: StatusDraft, Lines: lines, PackageSummary: packages, FilterSummary: skus, Exceptions: exceptions}

	withoutUnresolved, err := wo.WithoutLine(3)
	require.NoError(t, err)
	assert.Zero(t, withoutUnresolved.Exceptions)
	assert.Len(t, withoutUnresolved.Lines, 2)
	assert.Equal(t, wo.FilterSummary, withoutUnresolved.FilterSummary)

	withoutDispenser, err := withoutUnresolved.WithoutLine(2)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"2.1": 1}, withoutDispenser.PackageSummary)
	assert.Equal(t, map[string]int{"PP-10CF": 1, "CTO-10CF": 1}, withoutDispenser.FilterSummary)

	// исходный наряд не меняется
	assert.Len(t, wo.Lines, 3)
	assert.Equal(t, 1, wo.Exceptions)
	assert.Equal(t, 1, wo.FilterSummary["S/P COMBI"])

	_, err = wo.WithoutLine(99)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestWithResolvedLine(t *testing.T) {
	lines := []Line{
		{MaintenanceID: 1, PackageCode: "2.1", Items: pkg21},
		{MaintenanceID: 3, PlanCode: "DISP-1", CycleMonths: 6},
	}
	packages, skus, exceptions := Summarize(lines)
	wo := WorkOrder{ID: 9, Status: StatusDraft, Lines: lines, PackageSummary: packages, FilterSummary: skus, Exceptions: exceptions}
	disp := filters.Package{Code: "1.1", Items: pkg11}

	got, err := wo.WithResolvedLine(3, disp)
	require.NoError(t, err)
	assert.Zero(t, got.Exceptions)
	assert.Equal(t, map[string]int{"2.1": 1, "1.1": 1}, got.PackageSummary)
	assert.Equal(t, map[string]int{"PP-10CF": 1, "CTO-10CF": 1, "S/P COMBI": 1}, got.FilterSummary)
	assert.Equal(t, "1.1", got.Lines[1].PackageCode)

	// исходный наряд не меняется, разрешённая строка не перезаписывается
	assert.Equal(t, 1, wo.Exceptions)
	assert.False(t, wo.Lines[1].Resolved())
	same, err := got.WithResolvedLine(1, disp)
	require.NoError(t, err)
	assert.Equal(t, got.FilterSummary, same.FilterSummary)
	assert.Equal(t, "2.1", same.Lines[0].PackageCode)

	_, err = wo.WithResolvedLine(99, disp)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
