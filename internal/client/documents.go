package client

import (
	"context"
	"fmt"
	"github.com/imroc/req/v3"
	"net/http"
	"time"
)

// Documents - клиент S3-совместимого хранилища документов. Объекты адресуются
// в стиле path: {base}/{bucket}/{key}.
type Documents struct {
	req           *req.Client
	bucket        string
	retryCount    int
	retryInterval time.Duration
}

func NewDocuments(addr, bucket string, timeout time.Duration, retryCount int, retryInterval time.Duration) *Documents {
	return &Documents{
		req: req.C().
			SetBaseURL(addr).
			SetTimeout(timeout),
		bucket:        bucket,
		retryCount:    retryCount,
		retryInterval: retryInterval,
	}
}

// Put сохраняет документ под ключом key, перезаписывая существующий. Сетевые ошибки
// и ответы с кодами 429 и 5xx повторяются не более retryCount раз.
func (c *Documents) Put(ctx context.Context, key, contentType string, body []byte) error {
	resp, err := c.req.R().
		SetContext(ctx).
		SetRetryCount(c.retryCount).
		SetRetryFixedInterval(c.retryInterval).
		SetRetryCondition(func(resp *req.Response, err error) bool {
			return err != nil || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		}).
		SetPathParams(map[string]string{
			"bucket": c.bucket,
			"key":    key,
		}).
		SetContentType(contentType).
		SetBody(body).
		Put("/{bucket}/{key}")
	if err != nil {
		return fmt.Errorf("put document %s: %w", key, err)
	}

	if resp.IsErrorState() {
		return fmt.Errorf("put document %s: server responded with status code %d", key, resp.StatusCode)
	}

	return nil
}
