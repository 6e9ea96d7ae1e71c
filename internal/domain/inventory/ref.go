package inventory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Spok95/filter-ledger/internal/apperr"
)

// Ref — владелец списания. Одиночное закрытие обслуживания списывает весь пакет
// под одной ссылкой (MNT-<id>), наряд — по строке на каждый SKU
// (WO-<wo>/MNT-<id>/<sku>), чтобы каждую строку можно было вернуть отдельно.
type Ref struct {
	MaintenanceID int64
	WorkOrderID   int64
	SKU           string
}

func MaintenanceRef(maintenanceID int64) Ref {
	return Ref{MaintenanceID: maintenanceID}
}

func WorkOrderLineRef(workOrderID, maintenanceID int64, sku string) Ref {
	return Ref{MaintenanceID: maintenanceID, WorkOrderID: workOrderID, SKU: sku}
}

func (r Ref) IsWorkOrderLine() bool { return r.WorkOrderID != 0 }

func (r Ref) String() string {
	if r.IsWorkOrderLine() {
		return fmt.Sprintf("WO-%d/MNT-%d/%s", r.WorkOrderID, r.MaintenanceID, r.SKU)
	}
	return fmt.Sprintf("MNT-%d", r.MaintenanceID)
}

func (r Ref) Validate() error {
	if r.MaintenanceID <= 0 {
		return apperr.New(apperr.KindValidation, "inventory.Ref", "maintenance id must be > 0")
	}
	if r.IsWorkOrderLine() && strings.TrimSpace(r.SKU) == "" {
		return apperr.New(apperr.KindValidation, "inventory.Ref", "work order line reference needs a sku")
	}
	return nil
}

func (r Ref) workOrderIDPtr() *int64 {
	if !r.IsWorkOrderLine() {
		return nil
	}
	id := r.WorkOrderID
	return &id
}

// NewUsage заполняет структурные поля строки журнала из ссылки.
func (r Ref) NewUsage(sku, location string, qty int) Usage {
	return Usage{
		Reference:     r.String(),
		MaintenanceID: r.MaintenanceID,
		WorkOrderID:   r.workOrderIDPtr(),
		SKU:           sku,
		Quantity:      qty,
		Location:      location,
	}
}

func ParseRef(s string) (Ref, error) {
	bad := apperr.New(apperr.KindValidation, "inventory.ParseRef", "malformed reference %q", s)
	if rest, ok := strings.CutPrefix(s, "MNT-"); ok {
		id, err := strconv.ParseInt(rest, 10, 64)
		if err != nil || id <= 0 {
			return Ref{}, bad
		}
		return MaintenanceRef(id), nil
	}
	rest, ok := strings.CutPrefix(s, "WO-")
	if !ok {
		return Ref{}, bad
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || parts[2] == "" {
		return Ref{}, bad
	}
	wo, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || wo <= 0 {
		return Ref{}, bad
	}
	mnt, ok := strings.CutPrefix(parts[1], "MNT-")
	if !ok {
		return Ref{}, bad
	}
	m, err := strconv.ParseInt(mnt, 10, 64)
	if err != nil || m <= 0 {
		return Ref{}, bad
	}
	return WorkOrderLineRef(wo, m, parts[2]), nil
}
