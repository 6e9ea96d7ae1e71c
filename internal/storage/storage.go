// Package storage описывает контракт хранилища, которым пользуются сервисы.
// Реализации: storage/postgres (pgx) и storage/memory (тесты, локальный запуск).
package storage

import (
	"context"
	"time"

	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/domain/workorders"
)

// Store запускает функцию в одной транзакции. Ошибка из fn откатывает всё.
type Store interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	// View — только чтение; записи внутри View не сохраняются.
	View(ctx context.Context, fn func(Tx) error) error
}

// UsageQuery — фильтр журнала списаний; нулевые поля не ограничивают выборку.
type UsageQuery struct {
	Reference       string
	MaintenanceID   int64
	WorkOrderID     int64
	OutstandingOnly bool
}

// WorkOrderQuery — нулевые поля не ограничивают выборку.
type WorkOrderQuery struct {
	Year             int
	Month            time.Month
	DeliveryType     maintenance.Channel
	ExcludeCancelled bool
}

type Tx interface {
	CatalogTx
	InventoryTx
	MaintenanceTx
	WorkOrderTx
}

type CatalogTx interface {
	ListFilters(ctx context.Context) ([]filters.Filter, error)
	GetFilter(ctx context.Context, sku string) (filters.Filter, error)
	UpsertFilter(ctx context.Context, f filters.Filter) error

	ListPackages(ctx context.Context) ([]filters.Package, error)
	GetPackage(ctx context.Context, code string) (filters.Package, error)
	UpsertPackage(ctx context.Context, p filters.Package) error

	ListMappings(ctx context.Context) ([]filters.Mapping, error)
	UpsertMapping(ctx context.Context, m filters.Mapping) error
}

type InventoryTx interface {
	// LockRecord блокирует строку (sku, location) до конца транзакции;
	// отсутствующая строка создаётся с нулевым остатком. Неизвестный SKU => NotFound.
	LockRecord(ctx context.Context, sku, location string) (inventory.Record, error)
	SaveRecord(ctx context.Context, rec inventory.Record) error
	ListRecords(ctx context.Context) ([]inventory.Record, error)

	InsertUsage(ctx context.Context, u inventory.Usage) (inventory.Usage, error)
	ListUsages(ctx context.Context, q UsageQuery) ([]inventory.Usage, error)
	// MarkUsageRestored возвращает false, если строка уже была восстановлена.
	MarkUsageRestored(ctx context.Context, id int64, at time.Time) (bool, error)
}

type MaintenanceTx interface {
	// LockMaintenance читает обслуживание с блокировкой строки.
	LockMaintenance(ctx context.Context, id int64) (maintenance.Maintenance, error)
	UpdateMaintenance(ctx context.Context, m maintenance.Maintenance) error
	// ListMaintenances — запланированные в [from, to).
	ListMaintenances(ctx context.Context, from, to time.Time) ([]maintenance.Maintenance, error)
	HasOpenIncident(ctx context.Context, maintenanceID int64) (bool, error)
}

type WorkOrderTx interface {
	InsertWorkOrder(ctx context.Context, wo workorders.WorkOrder) (workorders.WorkOrder, error)
	GetWorkOrder(ctx context.Context, id int64) (workorders.WorkOrder, error)
	LockWorkOrder(ctx context.Context, id int64) (workorders.WorkOrder, error)
	ListWorkOrders(ctx context.Context, q WorkOrderQuery) ([]workorders.WorkOrder, error)
	// UpdateWorkOrderStatus меняет статус только из from; иначе ConcurrencyConflict.
	UpdateWorkOrderStatus(ctx context.Context, id int64, from, to workorders.Status, at time.Time) error
	// UpdateDraft перезаписывает строки и сводки черновика.
	UpdateDraft(ctx context.Context, wo workorders.WorkOrder) error
	SetDeliveryDate(ctx context.Context, id int64, date *time.Time) error
	DeleteWorkOrder(ctx context.Context, id int64) error
	// AttachedMaintenances: maintenance id -> id неотменённого наряда.
	AttachedMaintenances(ctx context.Context) (map[int64]int64, error)
}
