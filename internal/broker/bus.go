package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Bus публикует оповещения о заказах в topic-обменник. Ключ маршрутизации
// order.<вид оповещения> позволяет получателям подписываться на нужные виды.
type Bus struct {
	publisher Publisher
	exchange  string
	newID     func() string
}

func NewBus(p Publisher, exchange string) *Bus {
	return &Bus{
		publisher: p,
		exchange:  exchange,
		newID:     uuid.NewString,
	}
}

func (b *Bus) Announce(ctx context.Context, a entity.Announcement) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode %s announcement: %w", a.Kind, err)
	}

	err = b.publisher.PublishWithContext(ctx, b.exchange, RoutingKey(a.Kind), false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    b.newID(),
		Timestamp:    a.Timestamp,
		Headers: amqp.Table{
			"kind":     string(a.Kind),
			"order_id": a.OrderID,
			"customer": a.Customer,
			"table":    int32(a.Table),
			"total":    a.Total,
			"subject":  a.Subject(),
		},
		Body: body,
	})
	if err != nil {
		return fmt.Errorf("publish %s announcement for order %s: %w", a.Kind, a.OrderID, err)
	}

	return nil
}

func RoutingKey(kind entity.AnnouncementKind) string {
	return "order." + string(kind)
}
