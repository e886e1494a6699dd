package handler

import (
	"encoding/json"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func sendTestRequest(method string, body io.Reader, handler http.HandlerFunc) *http.Response {
	request := httptest.NewRequest(method, "/", body)
	w := httptest.NewRecorder()
	handler(w, request)

	return w.Result()
}

// sendRoutedRequest выполняет запрос через роутер, чтобы в обработчик попали параметры пути.
func sendRoutedRequest(method, pattern, target string, handler http.HandlerFunc) *http.Response {
	r := chi.NewRouter()
	r.Method(method, pattern, handler)
	request := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, request)

	return w.Result()
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()

	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NoError(t, resp.Body.Close())

	return body
}
