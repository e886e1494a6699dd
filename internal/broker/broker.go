package broker

import (
	"context"
	"errors"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
)

var ErrPublishNack = errors.New("publish not confirmed by broker")

// Publisher публикует сообщения. Реализуется *Client и *amqp.Channel.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Declarer объявляет обменники и очереди. Реализуется *amqp.Channel.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Client - соединение с RabbitMQ. Публикации выполняются через отдельный канал
// в режиме подтверждений: PublishWithContext возвращает управление только после
// того, как брокер подтвердил именно это сообщение.
type Client struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	closed  <-chan *amqp.Error
	publish publishFunc
}

// confirmation - подтверждение брокером одной публикации.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publishFunc func(
	ctx context.Context,
	exchange, key string,
	mandatory, immediate bool,
	msg amqp.Publishing,
) (confirmation, error)

func Dial(uri string) (*Client, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("open publish channel: %w", err)
	}

	if err = ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	return &Client{
		conn:   conn,
		ch:     ch,
		closed: ch.NotifyClose(make(chan *amqp.Error, 1)),
		publish: func(
			ctx context.Context,
			exchange, key string,
			mandatory, immediate bool,
			msg amqp.Publishing,
		) (confirmation, error) {
			dc, err := ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, mandatory, immediate, msg)
			if err != nil {
				return nil, err
			}

			return dc, nil
		},
	}, nil
}

// Channel открывает новый канал, например для объявления топологии или чтения очереди.
func (c *Client) Channel() (*amqp.Channel, error) {
	return c.conn.Channel()
}

// Closed возвращает канал, в который приходит ошибка, если брокер закрыл канал публикации
// или соединение. После Close канал закрывается без ошибки.
func (c *Client) Closed() <-chan *amqp.Error {
	return c.closed
}

// Consume подписывается на очередь с ручным подтверждением доставок.
// prefetch ограничивает число неподтвержденных доставок.
func (c *Client) Consume(queue, consumer string, prefetch int) (<-chan amqp.Delivery, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consume channel: %w", err)
	}

	if err = ch.Qos(prefetch, 0, false); err != nil {
		_ = ch.Close()

		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(queue, consumer, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()

		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	return deliveries, nil
}

// PublishWithContext публикует сообщение и ждет подтверждения брокера для него.
// Подтверждение, пришедшее после отмены ctx, не влияет на следующие публикации.
func (c *Client) PublishWithContext(
	ctx context.Context,
	exchange, key string,
	mandatory, immediate bool,
	msg amqp.Publishing,
) error {
	conf, err := c.publish(ctx, exchange, key, mandatory, immediate, msg)
	if err != nil {
		return err
	}

	ack, err := conf.WaitContext(ctx)
	if err != nil {
		return err
	}

	if !ack {
		return ErrPublishNack
	}

	return nil
}

func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		_ = c.conn.Close()

		return err
	}

	return c.conn.Close()
}

// Topology описывает очереди и обменники конвейера заказов.
type Topology struct {
	TaskQueue       string
	DeadLetterQueue string
	EventsExchange  string
}

// DeadLetterExchange возвращает имя обменника, через который отклоненные
// задачи попадают в очередь для разбора.
func (t Topology) DeadLetterExchange() string {
	return t.TaskQueue + ".dlx"
}

// DeclareTopology объявляет очередь задач с dead-letter обменником, очередь
// для разбора отклоненных задач и topic-обменник для оповещений.
// Повторное объявление с теми же параметрами ничего не меняет.
func DeclareTopology(d Declarer, t Topology) error {
	dlx := t.DeadLetterExchange()
	if err := d.ExchangeDeclare(dlx, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", dlx, err)
	}

	if _, err := d.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.DeadLetterQueue, err)
	}

	if err := d.QueueBind(t.DeadLetterQueue, t.TaskQueue, dlx, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.DeadLetterQueue, err)
	}

	_, err := d.QueueDeclare(t.TaskQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": t.TaskQueue,
	})
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", t.TaskQueue, err)
	}

	if err = d.ExchangeDeclare(t.EventsExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.EventsExchange, err)
	}

	return nil
}
