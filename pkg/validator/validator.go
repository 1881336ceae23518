package validator

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/patient-flow/pkg/errors"
)

// Validator checks request structs against their `validate` tags.
type Validator interface {
	Validate(interface{}) error
}

// FieldError describes one failed rule, named by the json field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is attached to the validation AppError so handlers can list them.
type Errors []FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, f := range e {
		parts[i] = f.Field + ": " + f.Message
	}
	return strings.Join(parts, "; ")
}

var messages = map[string]string{
	"required":         "is required",
	"required_without": "is required when %s is empty",
	"email":            "must be a valid email",
	"min":              "is too short",
	"max":              "is too long",
}

type validate struct {
	v *validator.Validate
}

func New() Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &validate{v: v}
}

// Validate returns nil or a validation AppError wrapping Errors.
func (v *validate) Validate(obj interface{}) error {
	err := v.v.Struct(obj)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Validation("invalid request", err)
	}

	out := make(Errors, 0, len(verrs))
	for _, fe := range verrs {
		msg, known := messages[fe.Tag()]
		switch {
		case !known:
			msg = "failed " + fe.Tag()
		case strings.Contains(msg, "%s"):
			msg = fmt.Sprintf(msg, jsonName(fe.Param()))
		}
		out = append(out, FieldError{Field: fe.Field(), Message: msg})
	}
	return errors.Validation(out.Error(), out)
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}
