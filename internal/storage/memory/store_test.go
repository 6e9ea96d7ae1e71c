package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/domain/workorders"
	"github.com/Spok95/filter-ledger/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFilter(t *testing.T, s *Store, sku string) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), func(tx storage.Tx) error {
		return tx.UpsertFilter(context.Background(), filters.Filter{SKU: sku, Name: sku, Category: filters.CategoryCartridge})
	}))
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedFilter(t, s, "RO-10CF")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx storage.Tx) error {
		rec, err := tx.LockRecord(ctx, "RO-10CF", "BODEGA")
		if err != nil {
			return err
		}
		rec.Quantity = 50
		if err := tx.SaveRecord(ctx, rec); err != nil {
			return err
		}
		if _, err := tx.InsertUsage(ctx, inventory.MaintenanceRef(1).NewUsage("RO-10CF", "BODEGA", 1)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		recs, err := tx.ListRecords(ctx)
		require.NoError(t, err)
		assert.Empty(t, recs)
		usages, err := tx.ListUsages(ctx, storage.UsageQuery{})
		require.NoError(t, err)
		assert.Empty(t, usages)
		return nil
	}))
}

func TestViewDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedFilter(t, s, "RO-10CF")

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		_, err := tx.LockRecord(ctx, "RO-10CF", "BODEGA")
		return err
	}))
	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		recs, err := tx.ListRecords(ctx)
		assert.Empty(t, recs)
		return err
	}))
}

func TestLockRecordUnknownFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	err := s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.LockRecord(ctx, "NOPE", "BODEGA")
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkUsageRestoredOnce(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	var id int64
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		u, err := tx.InsertUsage(ctx, inventory.MaintenanceRef(7).NewUsage("PP-10CF", "BODEGA", 1))
		id = u.ID
		return err
	}))
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		ok, err := tx.MarkUsageRestored(ctx, id, at)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = tx.MarkUsageRestored(ctx, id, at)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestWorkOrderStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	s := New()
	var id int64
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		wo, err := tx.InsertWorkOrder(ctx, workorders.WorkOrder{
			Year: 2025, Month: time.March, DeliveryType: maintenance.ChannelDelivery, Status: workorders.StatusDraft,
		})
		id = wo.ID
		return err
	}))

	now := time.Now()
	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		return tx.UpdateWorkOrderStatus(ctx, id, workorders.StatusDraft, workorders.StatusGenerated, now)
	}))
	err := s.InTx(ctx, func(tx storage.Tx) error {
		return tx.UpdateWorkOrderStatus(ctx, id, workorders.StatusDraft, workorders.StatusGenerated, now)
	})
	assert.ErrorIs(t, err, apperr.ErrConcurrencyConflict)
}

func TestInsertWorkOrderRejectsDuplicatePeriod(t *testing.T) {
	ctx := context.Background()
	s := New()
	wo := workorders.WorkOrder{Year: 2025, Month: time.March, DeliveryType: maintenance.ChannelDelivery, Status: workorders.StatusDraft}

	require.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertWorkOrder(ctx, wo)
		return err
	}))
	err := s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertWorkOrder(ctx, wo)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	onSite := wo
	onSite.DeliveryType = maintenance.ChannelOnSite
	assert.NoError(t, s.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertWorkOrder(ctx, onSite)
		return err
	}))
}

func TestListMaintenancesHalfOpenRange(t *testing.T) {
	ctx := context.Background()
	s := New()
	march := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s.PutMaintenance(maintenance.Maintenance{ScheduledDate: march, PlanCode: " RO-5E ", CycleMonths: 6})
	s.PutMaintenance(maintenance.Maintenance{ScheduledDate: march.AddDate(0, 1, 0), CycleMonths: 6})

	require.NoError(t, s.View(ctx, func(tx storage.Tx) error {
		list, err := tx.ListMaintenances(ctx, march, march.AddDate(0, 1, 0))
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "RO-5E", list[0].PlanCode)
		assert.Equal(t, maintenance.StatusPending, list[0].Status)
		return nil
	}))
}
