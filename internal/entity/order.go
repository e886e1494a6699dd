package entity

import (
	"github.com/shopspring/decimal"
	"time"
)

type Order struct {
	ID         string      `json:"id"`
	Customer   string      `json:"customer"`
	Table      int         `json:"table"`
	Items      []Item      `json:"items"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	ReceiptRef string      `json:"receiptRef,omitempty"`
}

type Item struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusProcessed OrderStatus = "Processed"
)

// moneyPlaces - количество знаков после запятой во всех денежных суммах.
const moneyPlaces = 2

// Subtotal возвращает стоимость позиции (quantity × unitPrice), округленную до копеек.
func (i Item) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))).Round(moneyPlaces)
}

// Total возвращает сумму заказа. Сумма считается по неокругленным произведениям
// и округляется один раз; для неотрицательных сумм decimal.Round совпадает
// с округлением half-up.
func (o Order) Total() decimal.Decimal {
	total := decimal.Zero
	for _, i := range o.Items {
		total = total.Add(i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity))))
	}

	return total.Round(moneyPlaces)
}

// IsProcessed сообщает, завершена ли обработка заказа.
func (o Order) IsProcessed() bool {
	return o.Status == OrderStatusProcessed
}

// FormatMoney возвращает сумму в виде строки с двумя знаками после запятой.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(moneyPlaces)
}

// ReceiptKey возвращает ключ, под которым чек заказа хранится в хранилище документов.
// Ключ зависит только от id, поэтому повторная архивация перезаписывает документ.
func ReceiptKey(orderID string) string {
	return orderID + ".pdf"
}

// Submission - заявка клиента на создание заказа.
type Submission struct {
	Customer string           `json:"customer" validate:"notblank,receipttext"`
	Items    []SubmissionItem `json:"items" validate:"required,min=1,dive"`
	Table    int              `json:"table" validate:"min=1"`
}

type SubmissionItem struct {
	Name      string           `json:"name" validate:"notblank,receipttext"`
	Quantity  int              `json:"quantity" validate:"min=1"`
	UnitPrice *decimal.Decimal `json:"unitPrice" validate:"required,money"`
}

// NewPendingOrder создает заказ в статусе OrderStatusPending из проверенной заявки.
func NewPendingOrder(id string, s Submission, now time.Time) Order {
	items := make([]Item, 0, len(s.Items))
	for _, i := range s.Items {
		item := Item{
			Name:     i.Name,
			Quantity: i.Quantity,
		}
		if i.UnitPrice != nil {
			item.UnitPrice = *i.UnitPrice
		}

		items = append(items, item)
	}

	return Order{
		ID:        id,
		Customer:  s.Customer,
		Table:     s.Table,
		Items:     items,
		Status:    OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
