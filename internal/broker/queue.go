package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/google/uuid"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	amqp "github.com/rabbitmq/amqp091-go"
	"time"
)

// AttemptHeader - заголовок с номером попытки доставки задачи, начиная с 1.
const AttemptHeader = "x-attempt"

const contentTypeJSON = "application/json"

// TaskQueue ставит задачи на выполнение заказов в очередь.
type TaskQueue struct {
	publisher Publisher
	queue     string
	newID     func() string
	now       func() time.Time
}

func NewTaskQueue(p Publisher, queue string) *TaskQueue {
	return &TaskQueue{
		publisher: p,
		queue:     queue,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Enqueue публикует задачу с первым номером попытки.
func (q *TaskQueue) Enqueue(ctx context.Context, task entity.Task) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	return q.publish(ctx, q.newID(), body, 1)
}

// Retry повторно публикует доставленную задачу с увеличенным номером попытки.
// Идентификатор задачи сохраняется.
func (q *TaskQueue) Retry(ctx context.Context, env entity.TaskEnvelope) error {
	return q.publish(ctx, env.TaskID, env.Body, env.Attempt+1)
}

func (q *TaskQueue) publish(ctx context.Context, id string, body []byte, attempt int) error {
	err := q.publisher.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Timestamp:    q.now().UTC(),
		Headers:      amqp.Table{AttemptHeader: int32(attempt)},
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish task %s to %s: %w", id, q.queue, err)
	}

	return nil
}

// Envelope извлекает задачу из доставки. Доставка без номера попытки
// считается первой.
func Envelope(d amqp.Delivery) entity.TaskEnvelope {
	env := entity.TaskEnvelope{
		TaskID:  d.MessageId,
		Body:    d.Body,
		Attempt: 1,
	}
	if env.TaskID == "" {
		env.TaskID = fmt.Sprintf("delivery-%d", d.DeliveryTag)
	}

	switch v := d.Headers[AttemptHeader].(type) {
	case int32:
		env.Attempt = int(v)
	case int64:
		env.Attempt = int(v)
	case int:
		env.Attempt = v
	}

	if env.Attempt < 1 {
		env.Attempt = 1
	}

	return env
}
