package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	"github.com/ivanpodgorny/orderflow/internal/receipt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"time"
)

// Fulfillment выполняет задачи на обработку заказов: формирует чек, архивирует его,
// публикует оповещения и переводит заказ в статус entity.OrderStatusProcessed.
type Fulfillment struct {
	ledger       FulfillmentLedger
	documents    DocumentStore
	announcer    Announcer
	renderer     Renderer
	kinds        []entity.AnnouncementKind
	concurrency  int
	callTimeout  time.Duration
	batchTimeout time.Duration
	now          func() time.Time
}

type FulfillmentLedger interface {
	Find(ctx context.Context, id string) (entity.Order, error)
	MarkProcessed(ctx context.Context, id, receiptRef string, at time.Time) error
}

type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) error
}

type Announcer interface {
	Announce(ctx context.Context, a entity.Announcement) error
}

type Renderer interface {
	Render(order entity.Order, at time.Time) ([]byte, error)
}

type FulfillmentConfig struct {
	// StaffAlerts включает оповещение персонала в дополнение к оповещению клиента.
	StaffAlerts  bool
	Concurrency  int
	CallTimeout  time.Duration
	BatchTimeout time.Duration
}

func NewFulfillment(l FulfillmentLedger, d DocumentStore, a Announcer, r Renderer, cfg FulfillmentConfig) *Fulfillment {
	kinds := []entity.AnnouncementKind{entity.AnnouncementReady}
	if cfg.StaffAlerts {
		kinds = append(kinds, entity.AnnouncementStaff)
	}

	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Fulfillment{
		ledger:       l,
		documents:    d,
		announcer:    a,
		renderer:     r,
		kinds:        kinds,
		concurrency:  concurrency,
		callTimeout:  cfg.CallTimeout,
		batchTimeout: cfg.BatchTimeout,
		now:          time.Now,
	}
}

// ProcessBatch обрабатывает пачку задач. Задачи обрабатываются параллельно и независимо:
// ошибка одной задачи не влияет на остальные. Результаты возвращаются в порядке задач
// в пачке. Подтверждение доставок остается за вызывающей стороной.
func (s *Fulfillment) ProcessBatch(ctx context.Context, envs []entity.TaskEnvelope) entity.BatchReport {
	if s.batchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.batchTimeout)
		defer cancel()
	}

	outcomes := make([]entity.TaskOutcome, len(envs))
	g := errgroup.Group{}
	g.SetLimit(s.concurrency)
	for i, env := range envs {
		i, env := i, env
		g.Go(func() error {
			outcomes[i] = s.Process(ctx, env)

			return nil
		})
	}
	_ = g.Wait()

	return entity.BatchReport{Outcomes: outcomes}
}

// Process выполняет одну задачу. Шаги выполняются строго по порядку: чек архивируется
// до публикации оповещений, а статус заказа меняется только после них.
// Повторная доставка задачи по обработанному заказу завершается без действий.
func (s *Fulfillment) Process(ctx context.Context, env entity.TaskEnvelope) (outcome entity.TaskOutcome) {
	ctx, span := otel.Tracer(tracerName).Start(
		ctx,
		"Fulfillment.Process",
		trace.WithAttributes(
			attribute.String("task_id", env.TaskID),
			attribute.Int("attempt", env.Attempt),
		),
	)
	defer func() {
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, outcome.Err.Error())
			logFailure(ctx, outcome)
		}
		span.End()
	}()

	outcome.TaskID = env.TaskID

	task, err := entity.ParseTask(env.Body)
	if err != nil {
		outcome.Err = inerr.Permanent(err)

		return outcome
	}

	outcome.OrderID = task.OrderID
	span.SetAttributes(attribute.String("order_id", task.OrderID))

	order := entity.Order{}
	err = s.call(ctx, func(ctx context.Context) (err error) {
		order, err = s.ledger.Find(ctx, task.OrderID)

		return err
	})
	if errors.Is(err, inerr.ErrOrderNotFound) {
		outcome.Err = inerr.Permanent(err)

		return outcome
	}

	if err != nil {
		outcome.Err = fmt.Errorf("find order: %w", err)

		return outcome
	}

	if order.IsProcessed() {
		outcome.Duplicate = true
		slog.InfoContext(ctx, "заказ уже обработан", "order_id", order.ID, "task_id", env.TaskID)

		return outcome
	}

	at := s.now().UTC()
	doc, err := s.renderer.Render(order, at)
	if err != nil {
		outcome.Err = inerr.Permanent(fmt.Errorf("render receipt: %w", err))

		return outcome
	}

	key := entity.ReceiptKey(order.ID)
	err = s.call(ctx, func(ctx context.Context) error {
		return s.documents.Put(ctx, key, receipt.ContentType, doc)
	})
	if err != nil {
		outcome.Err = fmt.Errorf("archive receipt: %w", err)

		return outcome
	}

	for _, kind := range s.kinds {
		a := entity.NewAnnouncement(kind, order, at)
		err = s.call(ctx, func(ctx context.Context) error {
			return s.announcer.Announce(ctx, a)
		})
		if err != nil {
			outcome.Err = fmt.Errorf("announce %s: %w", kind, err)

			return outcome
		}
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.ledger.MarkProcessed(ctx, order.ID, key, at)
	})
	if errors.Is(err, inerr.ErrOrderNotFound) {
		outcome.Err = inerr.Permanent(err)

		return outcome
	}

	if err != nil {
		outcome.Err = fmt.Errorf("mark order processed: %w", err)

		return outcome
	}

	slog.InfoContext(ctx, "заказ обработан", "order_id", order.ID, "task_id", env.TaskID, "receipt", key)

	return outcome
}

// call ограничивает время одного обращения к внешней системе.
func (s *Fulfillment) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.callTimeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	return fn(ctx)
}

func logFailure(ctx context.Context, o entity.TaskOutcome) {
	if o.Permanent() {
		slog.ErrorContext(ctx, "задача не может быть выполнена", "task_id", o.TaskID, "order_id", o.OrderID, "error", o.Err)

		return
	}

	slog.WarnContext(ctx, "ошибка при выполнении задачи", "task_id", o.TaskID, "order_id", o.OrderID, "error", o.Err)
}
