package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// newValidator returns a validator that understands decimal amounts: numeric
// tags such as gte=0 are checked against the decimal's float value.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validationFailure converts validator output into a ValidationError. Problems
// inside line items are reported as ErrInvalidLine and a missing top-level
// DriverID as ErrInvalidDriverID.
func validationFailure(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Err: ErrInvalidRequest, Details: map[string]string{"request": err.Error()}}
	}

	base := ErrInvalidRequest
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		switch {
		case strings.Contains(field, "["):
			base = ErrInvalidLine
		case field == "DriverID" && fe.Tag() == "required" && base == ErrInvalidRequest:
			base = ErrInvalidDriverID
		}
		problem := fe.Tag()
		if fe.Param() != "" {
			problem += "=" + fe.Param()
		}
		details[field] = problem
	}
	return &ValidationError{Err: base, Details: details}
}
