package receipt

import (
	"bytes"
	"fmt"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

func testOrder(items int) entity.Order {
	order := entity.Order{
		ID:        "2f1c7e0a-3d55-4c1e-9a0b-5d7b0c6f8e21",
		Customer:  "Ana",
		Table:     3,
		Status:    entity.OrderStatusPending,
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	for i := 0; i < items; i++ {
		order.Items = append(order.Items, entity.Item{
			Name:      fmt.Sprintf("Item %d", i+1),
			Quantity:  2,
			UnitPrice: decimal.RequireFromString("5.00"),
		})
	}

	return order
}

func texts(elements []element) []string {
	var res []string
	for _, el := range elements {
		if el.text != "" {
			res = append(res, el.text)
		}
	}

	return res
}

func TestRenderer_Render(t *testing.T) {
	var (
		r     = NewRenderer(time.UTC, "R$")
		order = testOrder(1)
		at    = time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
	)

	first, err := r.Render(order, at)
	require.NoError(t, err, "успешное формирование чека")
	assert.True(t, bytes.HasPrefix(first, []byte("%PDF-")), "результат - PDF-документ")

	second, err := r.Render(order, at)
	require.NoError(t, err)
	assert.Equal(t, first, second, "повторное формирование с тем же временем дает тот же документ")

	customer := order
	customer.Customer = "João"
	other, err := r.Render(customer, at)
	require.NoError(t, err, "имя клиента с диакритикой")
	assert.NotEqual(t, first, other, "документ зависит от содержимого заказа")
}

func TestRenderer_RenderInvalidOrder(t *testing.T) {
	var (
		r  = NewRenderer(nil, "")
		at = time.Now()
	)

	noID := testOrder(1)
	noID.ID = ""
	noCustomer := testOrder(1)
	noCustomer.Customer = " "
	noItems := testOrder(0)

	tests := []struct {
		name  string
		order entity.Order
	}{
		{name: "нет id", order: noID},
		{name: "нет клиента", order: noCustomer},
		{name: "нет позиций", order: noItems},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := r.Render(tt.order, at)
			assert.ErrorIs(t, err, inerr.ErrInvalidOrder)
			assert.Nil(t, doc)
		})
	}
}

func TestRenderer_Layout(t *testing.T) {
	var (
		r        = NewRenderer(time.UTC, "R$")
		at       = time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
		elements = r.layout(testOrder(1), at)
		lines    = texts(elements)
	)

	assert.Contains(t, lines, "Order ID: 2f1c7e0a-3d55-4c1e-9a0b-5d7b0c6f8e21")
	assert.Contains(t, lines, "Customer: Ana")
	assert.Contains(t, lines, "Table: 3")
	assert.Contains(t, lines, "1. Item 1")
	assert.Contains(t, lines, "Unit price: R$ 5.00")
	assert.Contains(t, lines, "Subtotal: R$ 10.00")
	assert.Contains(t, lines, "TOTAL: R$ 10.00", "итог совпадает с суммой заказа")
	assert.Contains(t, lines, "Generated at: 01/05/2024 12:05:00")
	for _, el := range elements {
		assert.Equal(t, 1, el.page, "короткий чек помещается на одну страницу")
	}
}

func TestRenderer_LayoutPagination(t *testing.T) {
	var (
		r        = NewRenderer(time.UTC, "")
		elements = r.layout(testOrder(30), time.Now())
		lastPage = 0
		lastY    = 0.0
	)

	for _, el := range elements {
		assert.LessOrEqual(t, el.y, pageBottom, "элементы не выходят за нижнюю границу страницы")
		if el.page > lastPage {
			if lastPage > 0 {
				assert.Equal(t, pageTop, el.y, "на новой странице курсор возвращается наверх")
			}
			lastPage = el.page
		} else {
			assert.GreaterOrEqual(t, el.y, lastY, "курсор движется вниз в пределах страницы")
		}
		lastY = el.y
	}

	assert.Greater(t, lastPage, 1, "длинный чек разбивается на страницы")
	assert.Contains(t, texts(elements), "TOTAL: 300.00")
}
