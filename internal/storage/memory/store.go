// Package memory — хранилище в памяти: один писатель, копия состояния на
// транзакцию, фиксация только при успехе fn.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/domain/inventory"
	"github.com/Spok95/filter-ledger/internal/domain/maintenance"
	"github.com/Spok95/filter-ledger/internal/domain/workorders"
	"github.com/Spok95/filter-ledger/internal/storage"
)

type mappingKey struct {
	plan  string
	cycle int
}

type recordKey struct {
	sku      string
	location string
}

type state struct {
	filters      map[string]filters.Filter
	packages     map[string]filters.Package
	mappings     map[mappingKey]filters.Mapping
	records      map[recordKey]inventory.Record
	usages       []inventory.Usage
	maintenances map[int64]maintenance.Maintenance
	openIncident map[int64]bool
	workOrders   map[int64]workorders.WorkOrder

	nextUsageID       int64
	nextWorkOrderID   int64
	nextMaintenanceID int64
}

func newState() *state {
	return &state{
		filters:      map[string]filters.Filter{},
		packages:     map[string]filters.Package{},
		mappings:     map[mappingKey]filters.Mapping{},
		records:      map[recordKey]inventory.Record{},
		maintenances: map[int64]maintenance.Maintenance{},
		openIncident: map[int64]bool{},
		workOrders:   map[int64]workorders.WorkOrder{},
	}
}

func (s *state) clone() *state {
	c := &state{
		filters:           maps.Clone(s.filters),
		packages:          make(map[string]filters.Package, len(s.packages)),
		mappings:          maps.Clone(s.mappings),
		records:           maps.Clone(s.records),
		usages:            slices.Clone(s.usages),
		maintenances:      maps.Clone(s.maintenances),
		openIncident:      maps.Clone(s.openIncident),
		workOrders:        make(map[int64]workorders.WorkOrder, len(s.workOrders)),
		nextUsageID:       s.nextUsageID,
		nextWorkOrderID:   s.nextWorkOrderID,
		nextMaintenanceID: s.nextMaintenanceID,
	}
	for k, p := range s.packages {
		c.packages[k] = clonePackage(p)
	}
	for k, wo := range s.workOrders {
		c.workOrders[k] = cloneWorkOrder(wo)
	}
	return c
}

func clonePackage(p filters.Package) filters.Package {
	p.Items = slices.Clone(p.Items)
	return p
}

func cloneWorkOrder(wo workorders.WorkOrder) workorders.WorkOrder {
	lines := make([]workorders.Line, len(wo.Lines))
	for i, l := range wo.Lines {
		l.Items = slices.Clone(l.Items)
		lines[i] = l
	}
	wo.Lines = lines
	wo.PackageSummary = maps.Clone(wo.PackageSummary)
	wo.FilterSummary = maps.Clone(wo.FilterSummary)
	return wo
}

type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

// WithClock подменяет часы (для тестов).
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()
	return fn(&tx{st: work, now: s.now})
}

// PutMaintenance добавляет обслуживание от внешнего планировщика.
// Нулевой ID назначается автоматически.
func (s *Store) PutMaintenance(m maintenance.Maintenance) maintenance.Maintenance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		s.st.nextMaintenanceID++
		m.ID = s.st.nextMaintenanceID
	} else if m.ID > s.st.nextMaintenanceID {
		s.st.nextMaintenanceID = m.ID
	}
	if m.Status == "" {
		m.Status = maintenance.StatusPending
	}
	m.PlanCode = filters.NormalizePlanCode(m.PlanCode)
	s.st.maintenances[m.ID] = m
	return m
}

// SetIncident открывает или закрывает инцидент по обслуживанию.
func (s *Store) SetIncident(maintenanceID int64, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if open {
		s.st.openIncident[maintenanceID] = true
		return
	}
	delete(s.st.openIncident, maintenanceID)
}
