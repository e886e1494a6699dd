package validator

import (
	"context"
	"errors"
	v10validator "github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	inerr "github.com/ivanpodgorny/orderflow/internal/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"
	"reflect"
	"strings"
)

type Validator struct {
	engine Engine
}

type Engine interface {
	StructCtx(ctx context.Context, s any) error
}

// moneyPlaces - максимальное количество знаков после запятой в цене.
const moneyPlaces = 2

func New(e Engine) *Validator {
	return &Validator{engine: e}
}

// NewEngine создает движок валидации с правилами, которые используются в заявках
// на заказ: notblank, money, receipttext. Имена полей в ошибках берутся из json-тегов.
func NewEngine() (*v10validator.Validate, error) {
	engine := v10validator.New()
	engine.RegisterTagNameFunc(jsonFieldName)
	engine.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	if err := engine.RegisterValidation("notblank", validators.NotBlank); err != nil {
		return nil, err
	}

	if err := engine.RegisterValidation("money", Money); err != nil {
		return nil, err
	}

	if err := engine.RegisterValidation("receipttext", ReceiptText); err != nil {
		return nil, err
	}

	return engine, nil
}

// Struct проверяет структуру. Нарушение правил возвращается в виде
// *errors.ValidationError с путем к первому некорректному полю.
func (v *Validator) Struct(ctx context.Context, s any) error {
	err := v.engine.StructCtx(ctx, s)

	var fieldErrs v10validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &inerr.ValidationError{
			Field: fieldPath(fieldErrs[0].Namespace()),
			Rule:  fieldErrs[0].Tag(),
			Param: fieldErrs[0].Param(),
		}
	}

	return err
}

// Money проверяет, что строка - неотрицательная денежная сумма
// не более чем с двумя знаками после запятой.
func Money(fl v10validator.FieldLevel) bool {
	val := fl.Field()
	if val.Kind() != reflect.String {
		return false
	}

	d, err := decimal.NewFromString(val.String())
	if err != nil {
		return false
	}

	return !d.IsNegative() && d.Equal(d.Round(moneyPlaces))
}

// ReceiptText проверяет, что строку можно напечатать в чеке: шрифты чека используют
// кодировку cp1252, и остальные символы были бы заменены на "?".
func ReceiptText(fl v10validator.FieldLevel) bool {
	val := fl.Field()
	if val.Kind() != reflect.String {
		return false
	}

	for _, r := range val.String() {
		if _, ok := charmap.Windows1252.EncodeRune(r); !ok {
			return false
		}
	}

	return true
}

func decimalValue(field reflect.Value) any {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.String()
	}

	return nil
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}

	return name
}

// fieldPath отбрасывает имя корневой структуры: "Submission.items[0].name" -> "items[0].name".
func fieldPath(namespace string) string {
	if _, path, ok := strings.Cut(namespace, "."); ok {
		return path
	}

	return namespace
}
