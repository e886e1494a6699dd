package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// maxBodySize ограничивает размер тела запроса.
const maxBodySize = 1 << 20

var errEmptyBody = errors.New("empty request body")

func readJSONBody(v any, r *http.Request) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}

	if len(b) == 0 {
		return errEmptyBody
	}

	return json.Unmarshal(b, v)
}
