package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that reports fields by their json name.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

func FormatValidationError(err error) map[string]string {
	errs := make(map[string]string)

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		errs["_"] = err.Error()
		return errs
	}

	for _, err := range validationErrs {
		field := err.Field()
		if ns := err.Namespace(); strings.Contains(ns, ".") {
			field = ns[strings.Index(ns, ".")+1:]
		}

		switch err.Tag() {
		case "required":
			errs[field] = fmt.Sprintf("%s is required", field)
		case "min":
			errs[field] = fmt.Sprintf("%s must contain at least %s element(s)", field, err.Param())
		case "gt":
			errs[field] = fmt.Sprintf("%s must be greater than %s", field, err.Param())
		case "gte":
			errs[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
		case "eq":
			errs[field] = fmt.Sprintf("%s must be %s", field, err.Param())
		default:
			errs[field] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return errs
}
