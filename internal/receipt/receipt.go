package receipt

import (
	"bytes"
	"fmt"
	"github.com/go-pdf/fpdf"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	"strings"
	"time"
)

const ContentType = "application/pdf"

// Геометрия страницы A4 в миллиметрах.
const (
	marginLeft   = 20.0
	marginRight  = 190.0
	pageTop      = 30.0
	pageCapacity = 250.0
	pageBottom   = 280.0
	footerHeight = 5 + 15 + 30 + 16
)

const (
	dateLayout = "02/01/2006 15:04:05"
	systemName = "Restaurant Order System"
)

var (
	fontTitle  = font{style: "B", size: 20}
	fontBody   = font{size: 12}
	fontBold   = font{style: "B", size: 12}
	fontTotal  = font{style: "B", size: 14}
	fontFooter = font{size: 10}
)

// Renderer формирует PDF-чек заказа. Результат зависит только от заказа
// и переданного времени формирования, поэтому повторный рендеринг
// с теми же данными дает побайтно одинаковый документ.
type Renderer struct {
	location *time.Location
	currency string
	system   string
}

func NewRenderer(loc *time.Location, currency string) *Renderer {
	if loc == nil {
		loc = time.UTC
	}

	return &Renderer{
		location: loc,
		currency: currency,
		system:   systemName,
	}
}

// Render возвращает PDF-документ чека. Если у заказа нет id, клиента или позиций,
// возвращает ошибку errors.ErrInvalidOrder.
func (r *Renderer) Render(order entity.Order, at time.Time) ([]byte, error) {
	if err := check(order); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCreationDate(at)
	pdf.SetModificationDate(at)
	pdf.SetCatalogSort(true)
	pdf.SetTitle("Receipt "+order.ID, true)

	// Встроенные шрифты используют cp1252: остальные символы печатаются как "?".
	var (
		tr   = pdf.UnicodeTranslatorFromDescriptor("")
		page = 0
	)
	for _, el := range r.layout(order, at) {
		for page < el.page {
			pdf.AddPage()
			page++
		}

		if el.rule > 0 {
			pdf.SetLineWidth(el.rule)
			pdf.Line(el.x, el.y, el.x2, el.y)

			continue
		}

		pdf.SetFont("Helvetica", el.font.style, el.font.size)
		pdf.Text(el.x, el.y, tr(el.text))
	}

	buf := bytes.Buffer{}
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt %s: %w", order.ID, err)
	}

	return buf.Bytes(), nil
}

func check(o entity.Order) error {
	switch {
	case strings.TrimSpace(o.ID) == "":
		return fmt.Errorf("%w: no id", inerr.ErrInvalidOrder)
	case strings.TrimSpace(o.Customer) == "":
		return fmt.Errorf("%w: no customer", inerr.ErrInvalidOrder)
	case len(o.Items) == 0:
		return fmt.Errorf("%w: no items", inerr.ErrInvalidOrder)
	}

	return nil
}

type font struct {
	style string
	size  float64
}

// element - текст или горизонтальная линия (rule > 0) на странице page, начиная с 1.
type element struct {
	page int
	x, y float64
	x2   float64
	rule float64
	text string
	font font
}

type cursor struct {
	page     int
	y        float64
	elements []element
}

func (c *cursor) write(x float64, f font, text string) {
	c.elements = append(c.elements, element{page: c.page, x: x, y: c.y, text: text, font: f})
}

func (c *cursor) line(width float64) {
	c.elements = append(c.elements, element{page: c.page, x: marginLeft, y: c.y, x2: marginRight, rule: width})
}

func (c *cursor) down(dy float64) {
	c.y += dy
}

func (c *cursor) newPage() {
	c.page++
	c.y = pageTop
}

// ensure переносит курсор на новую страницу, если до нижней границы осталось меньше room.
func (c *cursor) ensure(room float64) {
	if c.y+room > pageBottom {
		c.newPage()
	}
}

func (r *Renderer) layout(o entity.Order, at time.Time) []element {
	c := &cursor{page: 1, y: pageTop}

	c.write(marginLeft, fontTitle, "ORDER RECEIPT")
	c.y = 35
	c.line(0.5)

	c.y = 50
	c.write(marginLeft, fontBody, "Order ID: "+o.ID)
	c.down(10)
	c.write(marginLeft, fontBody, "Customer: "+o.Customer)
	c.down(10)
	c.write(marginLeft, fontBody, fmt.Sprintf("Table: %d", o.Table))
	c.down(10)
	c.write(marginLeft, fontBody, "Status: "+string(o.Status))
	c.down(10)
	c.write(marginLeft, fontBody, "Date: "+o.CreatedAt.In(r.location).Format(dateLayout))
	c.down(20)

	c.write(marginLeft, fontBold, "ORDER ITEMS:")
	c.down(10)
	c.line(0.5)
	c.down(10)

	for i, item := range o.Items {
		c.write(25, fontBody, fmt.Sprintf("%d. %s", i+1, item.Name))
		c.down(8)

		c.write(30, fontBody, fmt.Sprintf("Quantity: %d", item.Quantity))
		c.write(100, fontBody, "Unit price: "+r.money(entity.FormatMoney(item.UnitPrice)))
		c.write(150, fontBody, "Subtotal: "+r.money(entity.FormatMoney(item.Subtotal())))
		c.down(12)

		if c.y > pageCapacity {
			c.newPage()
		}
	}

	c.ensure(footerHeight)
	c.down(5)
	c.line(0.3)
	c.down(15)
	c.write(120, fontTotal, "TOTAL: "+r.money(entity.FormatMoney(o.Total())))

	c.down(30)
	c.write(marginLeft, fontFooter, "Thank you for your visit!")
	c.down(8)
	c.write(marginLeft, fontFooter, r.system)
	c.down(8)
	c.write(marginLeft, fontFooter, "Generated at: "+at.In(r.location).Format(dateLayout))

	return c.elements
}

func (r *Renderer) money(amount string) string {
	if r.currency == "" {
		return amount
	}

	return r.currency + " " + amount
}
