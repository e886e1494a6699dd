package worker

import (
	"context"
	"errors"
	"github.com/ivanpodgorny/orderflow/internal/broker"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"log/slog"
	"sync"
	"time"
)

// Consumer читает доставки из очереди задач, собирает их в пачки и передает
// на обработку. По результату каждой задачи доставка подтверждается, повторно
// публикуется с увеличенным номером попытки или отклоняется в dead-letter очередь.
// Заказ отклоненной задачи отмечается, чтобы Republisher не возвращал его в работу.
type Consumer struct {
	processor   BatchProcessor
	retrier     TaskRetrier
	failures    FailureRecorder
	deliveries  <-chan amqp.Delivery
	wg          *sync.WaitGroup
	done        chan struct{}
	batchSize   int
	batchWait   time.Duration
	maxAttempts int
	now         func() time.Time
}

type BatchProcessor interface {
	ProcessBatch(ctx context.Context, envs []entity.TaskEnvelope) entity.BatchReport
}

type TaskRetrier interface {
	Retry(ctx context.Context, env entity.TaskEnvelope) error
}

type FailureRecorder interface {
	MarkFailed(ctx context.Context, orderID string, at time.Time) error
}

type ConsumerConfig struct {
	BatchSize   int
	BatchWait   time.Duration
	MaxAttempts int
}

func NewConsumer(
	p BatchProcessor,
	r TaskRetrier,
	f FailureRecorder,
	d <-chan amqp.Delivery,
	wg *sync.WaitGroup,
	cfg ConsumerConfig,
) *Consumer {
	c := &Consumer{
		processor:   p,
		retrier:     r,
		failures:    f,
		deliveries:  d,
		wg:          wg,
		done:        make(chan struct{}),
		batchSize:   cfg.BatchSize,
		batchWait:   cfg.BatchWait,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}
	if c.batchSize < 1 {
		c.batchSize = 1
	}

	return c
}

func (c *Consumer) Do(ctx context.Context) {
	c.wg.Add(1)

	go c.worker(ctx)
}

// Done возвращает канал, который закрывается, когда Consumer прекратил чтение очереди:
// после отмены контекста или после закрытия канала доставок брокером.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) worker(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.done)

	for {
		batch, open := c.collect(ctx)
		if ctx.Err() != nil {
			requeue(batch)

			return
		}

		if len(batch) > 0 {
			c.handle(ctx, batch)
		}

		if !open {
			slog.Error("канал доставок закрыт, чтение очереди задач остановлено")

			return
		}
	}
}

// collect ждет первую доставку, а затем добирает пачку до batchSize доставок,
// но не дольше batchWait. open равен false, если канал доставок закрыт.
func (c *Consumer) collect(ctx context.Context) (batch []amqp.Delivery, open bool) {
	select {
	case d, ok := <-c.deliveries:
		if !ok {
			return nil, false
		}

		batch = append(batch, d)
	case <-ctx.Done():
		return nil, true
	}

	timer := time.NewTimer(c.batchWait)
	defer timer.Stop()

	for len(batch) < c.batchSize {
		select {
		case d, ok := <-c.deliveries:
			if !ok {
				return batch, false
			}

			batch = append(batch, d)
		case <-timer.C:
			return batch, true
		case <-ctx.Done():
			return batch, true
		}
	}

	return batch, true
}

// handle обрабатывает пачку до конца и после отмены ctx: время обработки ограничено
// таймаутом пачки, а доставки должны быть подтверждены по результату.
func (c *Consumer) handle(ctx context.Context, batch []amqp.Delivery) {
	ctx = context.WithoutCancel(ctx)

	envs := make([]entity.TaskEnvelope, 0, len(batch))
	for _, d := range batch {
		envs = append(envs, broker.Envelope(d))
	}

	report := c.processor.ProcessBatch(ctx, envs)
	for i, o := range report.Outcomes {
		c.settle(ctx, batch[i], envs[i], o)
	}

	slog.Info(
		"пачка задач обработана",
		"size", len(batch),
		"succeeded", report.Succeeded(),
		"failed", report.FailedTaskIDs(),
	)
}

func (c *Consumer) settle(ctx context.Context, d amqp.Delivery, env entity.TaskEnvelope, o entity.TaskOutcome) {
	var err error
	switch {
	case o.Succeeded():
		err = d.Ack(false)
	case o.Permanent():
		c.markFailed(ctx, o)
		err = d.Nack(false, false)
	case c.maxAttempts > 0 && env.Attempt >= c.maxAttempts:
		slog.Error("исчерпаны попытки выполнения задачи", "task_id", env.TaskID, "attempt", env.Attempt, "error", o.Err)
		c.markFailed(ctx, o)
		err = d.Nack(false, false)
	default:
		if retryErr := c.retrier.Retry(ctx, env); retryErr != nil {
			slog.Warn("ошибка повторной публикации задачи", "task_id", env.TaskID, "error", retryErr)
			err = d.Nack(false, true)

			break
		}

		err = d.Ack(false)
	}

	if err != nil {
		slog.Error("ошибка подтверждения доставки", "task_id", env.TaskID, "error", err)
	}
}

func (c *Consumer) markFailed(ctx context.Context, o entity.TaskOutcome) {
	if o.OrderID == "" {
		return
	}

	err := c.failures.MarkFailed(ctx, o.OrderID, c.now().UTC())
	if err != nil && !errors.Is(err, inerr.ErrOrderNotFound) {
		slog.Warn("не удалось отметить заказ отклоненной задачи", "order_id", o.OrderID, "task_id", o.TaskID, "error", err)
	}
}

// requeue возвращает в очередь доставки, собранные до остановки.
func requeue(batch []amqp.Delivery) {
	for _, d := range batch {
		if err := d.Nack(false, true); err != nil {
			slog.Error("ошибка возврата доставки в очередь", "delivery_tag", d.DeliveryTag, "error", err)
		}
	}
}
