package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	sq "github.com/Masterminds/squirrel"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"time"
)

type Order struct {
	db *sql.DB
}

func NewOrder(db *sql.DB) *Order {
	return &Order{db: db}
}

var orderColumns = []string{
	"id",
	"customer",
	"table_number",
	"items",
	"status",
	"created_at",
	"updated_at",
	"receipt_ref",
}

// Create сохраняет новый заказ. Если заказ с таким id уже существует,
// возвращает ошибку errors.ErrOrderExists.
func (r *Order) Create(ctx context.Context, order entity.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("encode items of order %s: %w", order.ID, err)
	}

	query, args, err := sq.Insert("orders").
		Columns(orderColumns[:7]...).
		Values(
			order.ID,
			order.Customer,
			order.Table,
			string(items),
			string(order.Status),
			order.CreatedAt,
			order.UpdatedAt,
		).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert query: %w", err)
	}

	if _, err = r.db.ExecContext(ctx, query, args...); err != nil {
		if pgErrorCode(err) == pgerrcode.UniqueViolation {
			return inerr.ErrOrderExists
		}

		return fmt.Errorf("insert order %s: %w", order.ID, err)
	}

	return nil
}

// Find возвращает заказ по id. Если заказа нет, возвращает ошибку errors.ErrOrderNotFound.
func (r *Order) Find(ctx context.Context, id string) (entity.Order, error) {
	query, args, err := sq.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return entity.Order{}, fmt.Errorf("build select query: %w", err)
	}

	var (
		order      = entity.Order{}
		items      []byte
		receiptRef sql.NullString
	)
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&order.ID,
		&order.Customer,
		&order.Table,
		&items,
		&order.Status,
		&order.CreatedAt,
		&order.UpdatedAt,
		&receiptRef,
	)
	// id, не являющийся UUID, не может принадлежать ни одному заказу.
	if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgerrcode.InvalidTextRepresentation {
		return entity.Order{}, inerr.ErrOrderNotFound
	}

	if err != nil {
		return entity.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}

	if err = json.Unmarshal(items, &order.Items); err != nil {
		return entity.Order{}, fmt.Errorf("decode items of order %s: %w", id, err)
	}

	order.ReceiptRef = receiptRef.String

	return order, nil
}

// MarkProcessed переводит заказ из статуса entity.OrderStatusPending в entity.OrderStatusProcessed
// и сохраняет ссылку на чек. Обработанный ранее заказ не изменяется. Если заказа нет,
// возвращает ошибку errors.ErrOrderNotFound.
func (r *Order) MarkProcessed(ctx context.Context, id, receiptRef string, at time.Time) error {
	query, args, err := sq.Update("orders").
		Set("status", string(entity.OrderStatusProcessed)).
		Set("updated_at", at).
		Set("receipt_ref", receiptRef).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": string(entity.OrderStatusPending)}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}

	if updated > 0 {
		return nil
	}

	return r.exists(ctx, id)
}

// MarkFailed отмечает необработанный заказ, задача по которому отправлена в очередь
// недоставленных сообщений. Такие заказы не возвращаются FindPending. Если заказа нет,
// возвращает ошибку errors.ErrOrderNotFound.
func (r *Order) MarkFailed(ctx context.Context, id string, at time.Time) error {
	query, args, err := sq.Update("orders").
		Set("failed_at", at).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": string(entity.OrderStatusPending)}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update query: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark order %s failed: %w", id, err)
	}

	updated, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark order %s failed: %w", id, err)
	}

	if updated > 0 {
		return nil
	}

	return r.exists(ctx, id)
}

// exists возвращает errors.ErrOrderNotFound, если заказа с таким id нет.
func (r *Order) exists(ctx context.Context, id string) error {
	query, args, err := sq.Select("status").
		From("orders").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("build select query: %w", err)
	}

	status := ""
	err = r.db.QueryRowContext(ctx, query, args...).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) || pgErrorCode(err) == pgerrcode.InvalidTextRepresentation {
		return inerr.ErrOrderNotFound
	}

	if err != nil {
		return fmt.Errorf("select status of order %s: %w", id, err)
	}

	return nil
}

// FindPending возвращает id заказов, которые находятся в статусе entity.OrderStatusPending,
// созданы раньше before и не отмечены MarkFailed. Данные отсортированы от самых старых
// к самым новым.
func (r *Order) FindPending(ctx context.Context, before time.Time, limit int) (ids []string, err error) {
	query, args, err := sq.Select("id").
		From("orders").
		Where(sq.Eq{"status": string(entity.OrderStatusPending)}).
		Where(sq.Eq{"failed_at": nil}).
		Where(sq.Lt{"created_at": before}).
		OrderBy("created_at").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending orders: %w", err)
	}

	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	for rows.Next() {
		id := ""
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}

	return ""
}
