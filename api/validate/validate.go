// Package validate wraps go-playground/validator with the tags and error
// messages used by the API.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/careconnect/backend/api/apierror"
	"github.com/go-playground/validator/v10"
)

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

var v = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// sqlident accepts a bare or schema-qualified SQL identifier.
	if err := v.RegisterValidation("sqlident", func(fl validator.FieldLevel) bool {
		return IsIdentifier(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// IsIdentifier reports whether s is a safe, optionally schema-qualified,
// SQL identifier.
func IsIdentifier(s string) bool {
	return identifierRE.MatchString(s)
}

// Struct validates s against its `validate` tags.
func Struct(s any) error {
	if err := v.Struct(s); err != nil {
		return toAPIError(err)
	}
	return nil
}

// Var validates a single value; name is used in the error message.
func Var(name string, value any, tag string) error {
	if err := v.Var(value, tag); err != nil {
		return toAPIError(rename(err, name))
	}
	return nil
}

type named struct {
	name string
	err  error
}

func (n named) Error() string { return n.err.Error() }
func (n named) Unwrap() error { return n.err }

func rename(err error, name string) error {
	return named{name: name, err: err}
}

func toAPIError(err error) error {
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return apierror.Internal("internal server error", err)
	}

	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apierror.Validation(err.Error())
	}

	fe := errs[0]
	field := fe.Field()
	var n named
	if errors.As(err, &n) {
		field = n.name
	}
	return &apierror.Error{Kind: apierror.KindValidation, Message: message(field, fe), Err: err}
}

func message(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without", "required_with":
		return "Missing required field: " + field
	case "excluded_with":
		return fmt.Sprintf("%s cannot be combined with %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("Invalid %s: must be one of %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "sqlident":
		return fmt.Sprintf("Invalid identifier for %s: %v", field, fe.Value())
	case "uuid", "uuid4":
		return field + " must be a valid UUID"
	case "email":
		return field + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must have at least %s item(s) or characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s item(s) or characters", field, fe.Param())
	default:
		return fmt.Sprintf("Invalid %s", field)
	}
}
