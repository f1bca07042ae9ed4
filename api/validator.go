package api

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// requestValidator reports request body problems using JSON field names.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})

	return &requestValidator{validate: v}
}

func (v *requestValidator) Struct(i any) error {
	if err := v.validate.Struct(i); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return formatValidationErrors(reflect.TypeOf(i), validationErrs)
		}
		return err
	}
	return nil
}

func formatValidationErrors(t reflect.Type, errs validator.ValidationErrors) error {
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		field := err.Field()

		var message string
		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", field)
		case "required_without":
			message = fmt.Sprintf("%s is required when %s is absent", field, jsonFieldName(t, err.Param()))
		case "excluded_with":
			message = fmt.Sprintf("%s cannot be combined with %s", field, jsonFieldName(t, err.Param()))
		case "min":
			message = fmt.Sprintf("%s must contain at least %s item(s)", field, err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s characters", field, err.Param())
		case "printascii":
			message = fmt.Sprintf("%s must be printable ASCII", field)
		default:
			message = fmt.Sprintf("%s failed validation for %s", field, err.Tag())
		}
		messages = append(messages, message)
	}

	return errors.New(strings.Join(messages, "; "))
}

// jsonFieldName resolves a Go field name used as a tag parameter to its JSON
// spelling.
func jsonFieldName(t reflect.Type, goName string) string {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return goName
	}
	fld, ok := t.FieldByName(goName)
	if !ok {
		return goName
	}
	if name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]; name != "" && name != "-" {
		return name
	}
	return goName
}
