package handler

import (
	"encoding/json"
	"github.com/ivanpodgorny/orderflow/internal/entity"
	"net/http"
)

type CreateOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

type OrderResponse struct {
	entity.Order
	Total string `json:"total"`
}

func errorResponse(w http.ResponseWriter, code int, err, message string) {
	responseAsJSON(w, ErrorResponse{Error: err, Message: message}, code)
}

func responseAsJSON(w http.ResponseWriter, v any, code int) {
	respJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "500 internal server error", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(respJSON)
}
