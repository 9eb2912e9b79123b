package validation

import (
	"reflect"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/orders"
)

// New returns a validator that reports JSON field names and knows the
// payment_method tag.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("payment_method", func(fl validatorv10.FieldLevel) bool {
		return orders.IsRecognizedMethod(fl.Field().String())
	})

	return v
}
