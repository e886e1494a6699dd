package handler

import (
	"context"
	"errors"
	"github.com/go-chi/chi/v5"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	"log/slog"
	"net/http"
)

type Order struct {
	processor OrderProcessor
}

type OrderProcessor interface {
	Submit(ctx context.Context, s entity.Submission) (string, error)
	Get(ctx context.Context, id string) (entity.Order, error)
}

func NewOrder(p OrderProcessor) *Order {
	return &Order{processor: p}
}

// Create обрабатывает запрос на создание заказа. Возвращает ответ с кодом 201 и id заказа,
// если заказ сохранен и поставлен в очередь на выполнение, 400 - если заявка некорректна.
// Если заказ сохранен, но не поставлен в очередь, возвращает ответ с кодом 500 и id заказа.
func (h *Order) Create(w http.ResponseWriter, r *http.Request) {
	submission := entity.Submission{}
	if err := readJSONBody(&submission, r); err != nil {
		errorResponse(w, http.StatusBadRequest, "invalid request body", err.Error())

		return
	}

	id, err := h.processor.Submit(r.Context(), submission)

	var verr *inerr.ValidationError
	switch {
	case err == nil:
		responseAsJSON(w, CreateOrderResponse{Success: true, Message: "order created", ID: id}, http.StatusCreated)
	case errors.As(err, &verr):
		errorResponse(w, http.StatusBadRequest, "validation failed", verr.Error())
	case errors.Is(err, inerr.ErrNotScheduled):
		responseAsJSON(w, ErrorResponse{
			Error:   "order not scheduled",
			Message: "order was saved but not scheduled for fulfillment",
			ID:      id,
		}, http.StatusInternalServerError)
	default:
		slog.ErrorContext(r.Context(), "ошибка при создании заказа", "error", err)
		errorResponse(w, http.StatusInternalServerError, "internal server error", "order was not created")
	}
}

// Get возвращает заказ с суммой. Если заказа нет, возвращает ответ с кодом 404.
func (h *Order) Get(w http.ResponseWriter, r *http.Request) {
	order, err := h.processor.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, inerr.ErrOrderNotFound) {
		errorResponse(w, http.StatusNotFound, "order not found", err.Error())

		return
	}

	if err != nil {
		slog.ErrorContext(r.Context(), "ошибка при получении заказа", "error", err)
		errorResponse(w, http.StatusInternalServerError, "internal server error", "order could not be loaded")

		return
	}

	responseAsJSON(w, OrderResponse{Order: order, Total: entity.FormatMoney(order.Total())}, http.StatusOK)
}
