package errors

import (
	"errors"
	"fmt"
)

var (
	ErrOrderExists   = errors.New("order exists")
	ErrOrderNotFound = errors.New("order not found")
	ErrNotScheduled  = errors.New("order saved but not scheduled for fulfillment")
	ErrMalformedTask = errors.New("malformed task")
	ErrInvalidOrder  = errors.New("invalid order")
)

// ValidationError описывает первое нарушенное ограничение заявки на заказ.
type ValidationError struct {
	Field string
	Rule  string
	Param string
}

func (e *ValidationError) Error() string {
	rule := e.Rule
	if e.Param != "" {
		rule += "=" + e.Param
	}

	return fmt.Sprintf("field %s violates rule %s", e.Field, rule)
}

// PermanentError - ошибка обработки задачи, которую бессмысленно повторять
// без внешнего вмешательства.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent помечает err как неустранимую ошибку. Для nil возвращает nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError

	return errors.As(err, &p)
}
