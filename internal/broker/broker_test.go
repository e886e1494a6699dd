package broker

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishWithContext(
	_ context.Context,
	exchange, key string,
	mandatory, immediate bool,
	msg amqp.Publishing,
) error {
	args := m.Called(exchange, key, mandatory, immediate, msg)

	return args.Error(0)
}

type DeclarerMock struct {
	mock.Mock
}

func (m *DeclarerMock) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	a := m.Called(name, kind, durable, args)

	return a.Error(0)
}

func (m *DeclarerMock) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	a := m.Called(name, durable, args)

	return amqp.Queue{Name: name}, a.Error(0)
}

func (m *DeclarerMock) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	a := m.Called(name, key, exchange)

	return a.Error(0)
}

func TestDeclareTopology(t *testing.T) {
	var (
		d        = &DeclarerMock{}
		topology = Topology{
			TaskQueue:       "order-fulfillment",
			DeadLetterQueue: "order-fulfillment.dead",
			EventsExchange:  "order-events",
		}
		nilTable amqp.Table
	)
	d.On("ExchangeDeclare", "order-fulfillment.dlx", "direct", true, nilTable).Return(nil).Once()
	d.On("QueueDeclare", "order-fulfillment.dead", true, nilTable).Return(nil).Once()
	d.On("QueueBind", "order-fulfillment.dead", "order-fulfillment", "order-fulfillment.dlx").Return(nil).Once()
	d.On("QueueDeclare", "order-fulfillment", true, amqp.Table{
		"x-dead-letter-exchange":    "order-fulfillment.dlx",
		"x-dead-letter-routing-key": "order-fulfillment",
	}).Return(nil).Once()
	d.On("ExchangeDeclare", "order-events", "topic", true, nilTable).Return(nil).Once()

	assert.NoError(t, DeclareTopology(d, topology), "успешное объявление топологии")
	d.AssertExpectations(t)

	failing := &DeclarerMock{}
	failing.On("ExchangeDeclare", "order-fulfillment.dlx", "direct", true, nilTable).Return(errors.New("")).Once()
	assert.Error(t, DeclareTopology(failing, topology), "ошибка при объявлении обменника")
	failing.AssertExpectations(t)
}

func TestTaskQueue_Enqueue(t *testing.T) {
	var (
		ctx = context.Background()
		p   = &PublisherMock{}
		now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
		q   = &TaskQueue{
			publisher: p,
			queue:     "order-fulfillment",
			newID:     func() string { return "task-1" },
			now:       func() time.Time { return now },
		}
		expected = amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    "task-1",
			Timestamp:    now,
			Headers:      amqp.Table{AttemptHeader: int32(1)},
			Body:         []byte(`{"id":"order-1"}`),
		}
	)
	p.On("PublishWithContext", "", "order-fulfillment", false, false, expected).Return(nil).Once()
	p.On("PublishWithContext", "", "order-fulfillment", false, false, expected).Return(errors.New("channel closed")).Once()

	assert.NoError(t, q.Enqueue(ctx, entity.Task{OrderID: "order-1"}), "успешная постановка задачи в очередь")
	assert.Error(t, q.Enqueue(ctx, entity.Task{OrderID: "order-1"}), "ошибка при публикации задачи")
	p.AssertExpectations(t)
}

func TestTaskQueue_Retry(t *testing.T) {
	var (
		ctx = context.Background()
		p   = &PublisherMock{}
		q   = NewTaskQueue(p, "order-fulfillment")
		env = entity.TaskEnvelope{TaskID: "task-1", Body: []byte(`{"id":"order-1"}`), Attempt: 2}
	)
	p.On("PublishWithContext", "", "order-fulfillment", false, false, mock.MatchedBy(func(msg amqp.Publishing) bool {
		return msg.MessageId == "task-1" &&
			msg.Headers[AttemptHeader] == int32(3) &&
			string(msg.Body) == `{"id":"order-1"}` &&
			msg.DeliveryMode == amqp.Persistent
	})).Return(nil).Once()

	assert.NoError(t, q.Retry(ctx, env), "повторная публикация с увеличенным номером попытки")
	p.AssertExpectations(t)
}

func TestEnvelope(t *testing.T) {
	tests := []struct {
		name     string
		delivery amqp.Delivery
		want     entity.TaskEnvelope
	}{
		{
			name:     "первая доставка без заголовка",
			delivery: amqp.Delivery{MessageId: "task-1", Body: []byte("{}")},
			want:     entity.TaskEnvelope{TaskID: "task-1", Body: []byte("{}"), Attempt: 1},
		},
		{
			name: "повторная доставка",
			delivery: amqp.Delivery{
				MessageId: "task-1",
				Headers:   amqp.Table{AttemptHeader: int32(4)},
			},
			want: entity.TaskEnvelope{TaskID: "task-1", Attempt: 4},
		},
		{
			name: "номер попытки типа int64",
			delivery: amqp.Delivery{
				MessageId: "task-1",
				Headers:   amqp.Table{AttemptHeader: int64(2)},
			},
			want: entity.TaskEnvelope{TaskID: "task-1", Attempt: 2},
		},
		{
			name:     "доставка без идентификатора",
			delivery: amqp.Delivery{DeliveryTag: 7},
			want:     entity.TaskEnvelope{TaskID: "delivery-7", Attempt: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Envelope(tt.delivery))
		})
	}
}

func TestBus_Announce(t *testing.T) {
	var (
		ctx = context.Background()
		p   = &PublisherMock{}
		b   = &Bus{publisher: p, exchange: "order-events", newID: func() string { return "msg-1" }}
		at  = time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC)
		a   = entity.Announcement{
			Kind:      entity.AnnouncementReady,
			OrderID:   "order-1",
			Customer:  "Ana",
			Table:     3,
			Total:     "10.00",
			Status:    entity.OrderStatusProcessed,
			Timestamp: at,
		}
		published amqp.Publishing
	)
	p.On("PublishWithContext", "order-events", "order.ready", false, false, mock.Anything).
		Run(func(args mock.Arguments) {
			published = args.Get(4).(amqp.Publishing)
		}).
		Return(nil).
		Once()
	p.On("PublishWithContext", "order-events", "order.staff", false, false, mock.Anything).
		Return(errors.New("channel closed")).
		Once()

	require.NoError(t, b.Announce(ctx, a), "успешная публикация оповещения")
	assert.Equal(t, "msg-1", published.MessageId)
	assert.Equal(t, at, published.Timestamp)
	assert.Equal(t, amqp.Table{
		"kind":     "ready",
		"order_id": "order-1",
		"customer": "Ana",
		"table":    int32(3),
		"total":    "10.00",
		"subject":  "Your order is ready for pickup!",
	}, published.Headers)

	payload := map[string]any{}
	require.NoError(t, json.Unmarshal(published.Body, &payload))
	assert.Equal(t, "order-1", payload["id"])
	assert.Equal(t, "10.00", payload["total"])
	assert.Equal(t, "Processed", payload["status"])
	assert.NotContains(t, payload, "items")

	a.Kind = entity.AnnouncementStaff
	assert.Error(t, b.Announce(ctx, a), "ошибка при публикации оповещения")
	p.AssertExpectations(t)
}

// pendingConfirmation - подтверждение, которое брокер присылает по команде теста.
type pendingConfirmation struct {
	ready chan struct{}
	ack   bool
}

func newPendingConfirmation() *pendingConfirmation {
	return &pendingConfirmation{ready: make(chan struct{})}
}

func (c *pendingConfirmation) confirm(ack bool) {
	c.ack = ack
	close(c.ready)
}

func (c *pendingConfirmation) WaitContext(ctx context.Context) (bool, error) {
	select {
	case <-c.ready:
		return c.ack, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func TestClient_PublishWithContext(t *testing.T) {
	var (
		confirmations = []*pendingConfirmation{
			newPendingConfirmation(),
			newPendingConfirmation(),
			newPendingConfirmation(),
		}
		published []string
	)
	c := &Client{
		publish: func(
			_ context.Context,
			_, _ string,
			_, _ bool,
			msg amqp.Publishing,
		) (confirmation, error) {
			if msg.MessageId == "broken" {
				return nil, amqp.ErrClosed
			}

			conf := confirmations[len(published)]
			published = append(published, msg.MessageId)

			return conf, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := c.PublishWithContext(ctx, "", "tasks", false, false, amqp.Publishing{MessageId: "m1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded, "подтверждение не пришло вовремя")

	confirmations[0].confirm(true)
	confirmations[1].confirm(false)
	err = c.PublishWithContext(context.Background(), "", "tasks", false, false, amqp.Publishing{MessageId: "m2"})
	assert.ErrorIs(t, err, ErrPublishNack, "опоздавшее подтверждение первого сообщения не засчитывается второму")

	confirmations[2].confirm(true)
	err = c.PublishWithContext(context.Background(), "", "tasks", false, false, amqp.Publishing{MessageId: "m3"})
	assert.NoError(t, err)

	err = c.PublishWithContext(context.Background(), "", "tasks", false, false, amqp.Publishing{MessageId: "broken"})
	assert.ErrorIs(t, err, amqp.ErrClosed, "ошибка публикации")
	require.Equal(t, []string{"m1", "m2", "m3"}, published)
}
