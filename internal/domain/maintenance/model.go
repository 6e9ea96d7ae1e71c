package maintenance

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Channel — способ доставки фильтров к клиенту.
type Channel string

const (
	ChannelDelivery Channel = "DELIVERY" // отправка
	ChannelOnSite   Channel = "ON_SITE"  // техник на месте
)

func (c Channel) Valid() bool { return c == ChannelDelivery || c == ChannelOnSite }

// Maintenance принадлежит внешней системе планирования; здесь читаем и
// меняем только статус и даты выполнения.
type Maintenance struct {
	ID            int64      `json:"id"`
	ScheduledDate time.Time  `json:"scheduled_date"`
	CycleMonths   int        `json:"cycle_months"`
	Status        Status     `json:"status"`
	PlanID        int64      `json:"plan_id"`
	PlanCode      string     `json:"plan_code"` // из справочника оборудования/договоров
	Channel       Channel    `json:"channel"`
	ActualDate    *time.Time `json:"actual_date,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	Notes         string     `json:"notes"`
}

func (m Maintenance) InMonth(year int, month time.Month) bool {
	y, mo, _ := m.ScheduledDate.Date()
	return y == year && mo == month
}
