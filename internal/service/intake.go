package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"log/slog"
	"time"
)

const tracerName = "github.com/ivanpodgorny/orderflow/internal/service"

type Intake struct {
	validator Validator
	ledger    IntakeLedger
	scheduler TaskScheduler
	newID     func() string
	now       func() time.Time
}

type Validator interface {
	Struct(ctx context.Context, s any) error
}

type IntakeLedger interface {
	Create(ctx context.Context, order entity.Order) error
	Find(ctx context.Context, id string) (entity.Order, error)
}

type TaskScheduler interface {
	Enqueue(ctx context.Context, task entity.Task) error
}

func NewIntake(v Validator, l IntakeLedger, s TaskScheduler) *Intake {
	return &Intake{
		validator: v,
		ledger:    l,
		scheduler: s,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

// Submit проверяет заявку, сохраняет заказ в статусе entity.OrderStatusPending и ставит
// задачу на его выполнение в очередь. Некорректная заявка возвращает *errors.ValidationError
// без каких-либо записей. Если заказ сохранен, но задача не поставлена в очередь,
// возвращает id заказа вместе с ошибкой errors.ErrNotScheduled.
func (s *Intake) Submit(ctx context.Context, sub entity.Submission) (id string, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Intake.Submit")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err = s.validator.Struct(ctx, &sub); err != nil {
		return "", err
	}

	order := entity.NewPendingOrder(s.newID(), sub, s.now().UTC())
	span.SetAttributes(attribute.String("order_id", order.ID))

	if err = s.ledger.Create(ctx, order); err != nil {
		return "", fmt.Errorf("save order: %w", err)
	}

	if err = s.scheduler.Enqueue(ctx, entity.Task{OrderID: order.ID}); err != nil {
		slog.WarnContext(ctx, "заказ сохранен, но не поставлен в очередь", "order_id", order.ID, "error", err)

		return order.ID, fmt.Errorf("%w: %w", inerr.ErrNotScheduled, err)
	}

	slog.InfoContext(ctx, "заказ принят", "order_id", order.ID, "table", order.Table)

	return order.ID, nil
}

// Get возвращает заказ по id. Если заказа нет, возвращает ошибку errors.ErrOrderNotFound.
func (s *Intake) Get(ctx context.Context, id string) (entity.Order, error) {
	order, err := s.ledger.Find(ctx, id)
	if err != nil && !errors.Is(err, inerr.ErrOrderNotFound) {
		return entity.Order{}, fmt.Errorf("find order %s: %w", id, err)
	}

	return order, err
}
