// Package catalog ведёт справочник фильтров, пакетов и маппингов
// (план, цикл) → пакет и держит актуальный Resolver.
package catalog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Spok95/filter-ledger/internal/apperr"
	"github.com/Spok95/filter-ledger/internal/domain/filters"
	"github.com/Spok95/filter-ledger/internal/storage"
)

type Service struct {
	store   storage.Store
	log     *slog.Logger
	cycles  []int
	current atomic.Pointer[filters.Resolver]
	// чтение справочника и подмена таблицы идут парой
	reloadMu sync.Mutex
}

func New(ctx context.Context, store storage.Store, log *slog.Logger, cycles []int) (*Service, error) {
	s := &Service{store: store, log: log, cycles: cycles}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload перечитывает пакеты и маппинги и подменяет таблицу целиком.
func (s *Service) Reload(ctx context.Context) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	var (
		pkgs     []filters.Package
		mappings []filters.Mapping
	)
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		if pkgs, err = tx.ListPackages(ctx); err != nil {
			return err
		}
		mappings, err = tx.ListMappings(ctx)
		return err
	})
	if err != nil {
		return err
	}
	s.current.Store(filters.NewResolver(pkgs, mappings, s.cycles))
	s.log.Debug("package resolver reloaded", "packages", len(pkgs), "mappings", len(mappings))
	return nil
}

// Refresh перечитывает справочник каждые every, пока жив ctx: маппинги,
// изменённые другим экземпляром через общую базу, подхватываются без рестарта.
func (s *Service) Refresh(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Reload(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("package resolver reload failed", "err", err)
			}
		}
	}
}

func (s *Service) Resolver() *filters.Resolver { return s.current.Load() }

// Resolve: неподдерживаемый цикл — ValidationError; отсутствие маппинга —
// Resolution без пакета, не ошибка.
func (s *Service) Resolve(planCode string, cycleMonths int) (filters.Resolution, error) {
	r := s.Resolver()
	if err := r.ValidateCycle(cycleMonths); err != nil {
		return filters.Resolution{}, err
	}
	return r.Resolve(planCode, cycleMonths), nil
}

func (s *Service) Filters(ctx context.Context) ([]filters.Filter, error) {
	var out []filters.Filter
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListFilters(ctx)
		return err
	})
	return out, err
}

func (s *Service) Packages(ctx context.Context) ([]filters.Package, error) {
	var out []filters.Package
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListPackages(ctx)
		return err
	})
	return out, err
}

func (s *Service) Mappings(ctx context.Context) ([]filters.Mapping, error) {
	var out []filters.Mapping
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListMappings(ctx)
		return err
	})
	return out, err
}

func (s *Service) UpsertFilter(ctx context.Context, f filters.Filter) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx storage.Tx) error {
		return tx.UpsertFilter(ctx, f)
	})
}

// UpsertPackage: состав пакета, на который ссылается активный маппинг,
// менять нельзя; допускается только смена названия.
func (s *Service) UpsertPackage(ctx context.Context, p filters.Package) error {
	const op = "catalog.UpsertPackage"
	if err := p.Validate(); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		for _, it := range p.Items {
			if _, err := tx.GetFilter(ctx, it.SKU); err != nil {
				return err
			}
		}
		old, err := tx.GetPackage(ctx, p.Code)
		switch {
		case apperr.KindOf(err) == apperr.KindNotFound:
		case err != nil:
			return err
		case !old.SameItems(p.Items):
			mappings, err := tx.ListMappings(ctx)
			if err != nil {
				return err
			}
			for _, m := range mappings {
				if m.Active && m.PackageCode == p.Code {
					return apperr.New(apperr.KindValidation, op,
						"package %s is used by %s/%d and cannot change its items", p.Code, m.PlanCode, m.CycleMonths)
				}
			}
		}
		return tx.UpsertPackage(ctx, p)
	})
	if err != nil {
		return err
	}
	return s.Reload(ctx)
}

func (s *Service) UpsertMapping(ctx context.Context, m filters.Mapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if err := s.Resolver().ValidateCycle(m.CycleMonths); err != nil {
		return err
	}
	m.PlanCode = filters.NormalizePlanCode(m.PlanCode)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetPackage(ctx, m.PackageCode); err != nil {
			return err
		}
		return tx.UpsertMapping(ctx, m)
	})
	if err != nil {
		return err
	}
	s.log.Info("mapping saved", "plan_code", m.PlanCode, "cycle", m.CycleMonths, "package", m.PackageCode, "active", m.Active)
	return s.Reload(ctx)
}

func (s *Service) DeactivateMapping(ctx context.Context, planCode string, cycleMonths int) error {
	planCode = filters.NormalizePlanCode(planCode)
	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		mappings, err := tx.ListMappings(ctx)
		if err != nil {
			return err
		}
		for _, m := range mappings {
			if m.PlanCode == planCode && m.CycleMonths == cycleMonths {
				m.Active = false
				return tx.UpsertMapping(ctx, m)
			}
		}
		return apperr.New(apperr.KindNotFound, "catalog.DeactivateMapping", "no mapping for %s/%d", planCode, cycleMonths)
	})
	if err != nil {
		return err
	}
	s.log.Info("mapping deactivated", "plan_code", planCode, "cycle", cycleMonths)
	return s.Reload(ctx)
}
