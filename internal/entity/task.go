package entity

import (
	"encoding/json"
	"fmt"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	"strings"
	"time"
)

// Task - задача на выполнение заказа. Содержит только id заказа: актуальное
// состояние заказа исполнитель всегда читает из хранилища.
type Task struct {
	OrderID string `json:"id"`
}

// TaskEnvelope - задача в том виде, в котором ее доставила очередь.
type TaskEnvelope struct {
	TaskID  string
	Body    []byte
	Attempt int
}

// ParseTask разбирает тело задачи. Если тело не является JSON вида {"id": "..."}
// или id пустой, возвращает ошибку errors.ErrMalformedTask.
func ParseTask(body []byte) (Task, error) {
	task := Task{}
	if err := json.Unmarshal(body, &task); err != nil {
		return Task{}, fmt.Errorf("%w: %v", inerr.ErrMalformedTask, err)
	}

	if strings.TrimSpace(task.OrderID) == "" {
		return Task{}, fmt.Errorf("%w: empty order id", inerr.ErrMalformedTask)
	}

	return task, nil
}

// TaskOutcome - результат обработки одной задачи из пачки.
type TaskOutcome struct {
	TaskID    string
	OrderID   string
	Err       error
	Duplicate bool
}

func (o TaskOutcome) Succeeded() bool {
	return o.Err == nil
}

// Permanent сообщает, что повторная обработка задачи бессмысленна.
func (o TaskOutcome) Permanent() bool {
	return inerr.IsPermanent(o.Err)
}

// BatchReport содержит результаты обработки пачки задач в порядке их доставки.
type BatchReport struct {
	Outcomes []TaskOutcome
}

func (r BatchReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}

	return n
}

func (r BatchReport) Failed() []TaskOutcome {
	var failed []TaskOutcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			failed = append(failed, o)
		}
	}

	return failed
}

// FailedTaskIDs возвращает идентификаторы задач, обработка которых завершилась ошибкой.
func (r BatchReport) FailedTaskIDs() []string {
	var ids []string
	for _, o := range r.Failed() {
		ids = append(ids, o.TaskID)
	}

	return ids
}

type AnnouncementKind string

const (
	AnnouncementReady AnnouncementKind = "ready"
	AnnouncementStaff AnnouncementKind = "staff"
)

// Announcement - оповещение о выполненном заказе. Все виды оповещений
// содержат id заказа, по которому получатели могут их сопоставить.
type Announcement struct {
	Kind      AnnouncementKind `json:"kind"`
	OrderID   string           `json:"id"`
	Customer  string           `json:"customer"`
	Table     int              `json:"table"`
	Total     string           `json:"total"`
	Status    OrderStatus      `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Items     []Item           `json:"items,omitempty"`
}

// NewAnnouncement создает оповещение вида kind о завершении обработки заказа.
// Состав позиций передается только в оповещении для персонала.
func NewAnnouncement(kind AnnouncementKind, o Order, at time.Time) Announcement {
	a := Announcement{
		Kind:      kind,
		OrderID:   o.ID,
		Customer:  o.Customer,
		Table:     o.Table,
		Total:     FormatMoney(o.Total()),
		Status:    OrderStatusProcessed,
		Timestamp: at,
	}
	if kind == AnnouncementStaff {
		a.Items = o.Items
	}

	return a
}

// Subject возвращает короткий заголовок оповещения.
func (a Announcement) Subject() string {
	if a.Kind == AnnouncementStaff {
		return fmt.Sprintf("Order %s for table %d is ready to serve", a.OrderID, a.Table)
	}

	return "Your order is ready for pickup!"
}
