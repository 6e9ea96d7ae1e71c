package inventory

import "time"

type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "WARNING"
	StatusLow     Status = "LOW"
)

// StatusOf: LOW если остаток ниже минимума, WARNING если ниже двойного минимума.
// Отрицательный остаток — обычный LOW, не ошибка.
func StatusOf(qty, minStock int) Status {
	switch {
	case qty < minStock:
		return StatusLow
	case qty < 2*minStock:
		return StatusWarning
	default:
		return StatusOK
	}
}

type Record struct {
	SKU      string `json:"sku"`
	Location string `json:"location"`
	Quantity int    `json:"quantity"`
	MinStock int    `json:"min_stock"`
	// Baseline — начальный остаток плюс все приходы. Инвариант:
	// Quantity == Baseline - сумма непогашенных списаний.
	Baseline  int       `json:"baseline"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r Record) Status() Status { return StatusOf(r.Quantity, r.MinStock) }

func (r Record) BelowMin() bool { return r.Quantity < r.MinStock }

// Usage — строка журнала списаний. RestoredAt == nil => списание действует.
type Usage struct {
	ID            int64      `json:"id"`
	Reference     string     `json:"reference"`
	MaintenanceID int64      `json:"maintenance_id"`
	WorkOrderID   *int64     `json:"work_order_id,omitempty"`
	SKU           string     `json:"sku"`
	Quantity      int        `json:"quantity"`
	Location      string     `json:"location"`
	DeductedAt    time.Time  `json:"deducted_at"`
	RestoredAt    *time.Time `json:"restored_at,omitempty"`
}

func (u Usage) Outstanding() bool { return u.RestoredAt == nil }

// Drift — расхождение остатка с журналом, найденное сверкой.
type Drift struct {
	SKU         string `json:"sku"`
	Location    string `json:"location"`
	Quantity    int    `json:"quantity"`
	Expected    int    `json:"expected"`
	Outstanding int    `json:"outstanding"`
}

// Movement — изменение остатка одной позиции в рамках операции.
type Movement struct {
	SKU      string `json:"sku"`
	Location string `json:"location"`
	Previous int    `json:"previous"`
	Current  int    `json:"current"`
	MinStock int    `json:"min_stock"`
}

func (m Movement) Status() Status { return StatusOf(m.Current, m.MinStock) }
