package worker

import (
	"context"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	"log/slog"
	"sync"
	"time"
)

// Republisher повторно ставит в очередь задачи для заказов, которые слишком долго
// находятся в статусе entity.OrderStatusPending, например если задача не была
// поставлена в очередь при приеме заказа. Первая проверка выполняется сразу
// при запуске, следующие - каждые interval.
type Republisher struct {
	repository PendingRepository
	scheduler  TaskScheduler
	wg         *sync.WaitGroup
	interval   time.Duration
	after      time.Duration
	limit      int
	now        func() time.Time
}

type PendingRepository interface {
	FindPending(ctx context.Context, before time.Time, limit int) ([]string, error)
}

type TaskScheduler interface {
	Enqueue(ctx context.Context, task entity.Task) error
}

const republishLimit = 100

func NewRepublisher(r PendingRepository, s TaskScheduler, wg *sync.WaitGroup, interval, after time.Duration) *Republisher {
	return &Republisher{
		repository: r,
		scheduler:  s,
		wg:         wg,
		interval:   interval,
		after:      after,
		limit:      republishLimit,
		now:        time.Now,
	}
}

func (r *Republisher) Do(ctx context.Context) {
	r.wg.Add(1)

	go r.worker(ctx)
}

func (r *Republisher) worker(ctx context.Context) {
	defer r.wg.Done()

	r.Republish(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Republish(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Republish ставит в очередь задачи для зависших заказов и возвращает их количество.
func (r *Republisher) Republish(ctx context.Context) int {
	ids, err := r.repository.FindPending(ctx, r.now().Add(-r.after), r.limit)
	if err != nil {
		slog.Error("ошибка получения необработанных заказов", "error", err)

		return 0
	}

	n := 0
	for _, id := range ids {
		if err = r.scheduler.Enqueue(ctx, entity.Task{OrderID: id}); err != nil {
			slog.Warn("ошибка повторной постановки задачи в очередь", "order_id", id, "error", err)

			continue
		}

		n++
	}

	if n > 0 {
		slog.Info("задачи для необработанных заказов поставлены в очередь повторно", "count", n)
	}

	return n
}
