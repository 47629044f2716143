package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// DateLayouts are the accepted formats of the "posdate" validation tag.
var DateLayouts = []string{time.RFC3339, "2006-01-02"}

// ValidationError lists the failed fields of a request.
type ValidationError struct {
	Fields []string
	msgs   []string
}

func (e *ValidationError) Error() string {
	if len(e.msgs) == 0 {
		return "validation failed"
	}
	return strings.Join(e.msgs, "; ")
}

// GetValidator returns the shared validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report fields by their json names.
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})

		_ = validate.RegisterValidation("posdate", func(fl validator.FieldLevel) bool {
			_, err := ParseDate(fl.Field().String())
			return err == nil
		})
	})

	return validate
}

// ValidateStruct validates s and returns a *ValidationError on failure.
func ValidateStruct(s interface{}) error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: []string{"unknown"}, msgs: []string{err.Error()}}
	}

	out := &ValidationError{}
	for _, fe := range fieldErrs {
		out.Fields = append(out.Fields, fe.Field())
		out.msgs = append(out.msgs, translateError(fe))
	}
	return out
}

// ParseDate accepts an RFC3339 timestamp or a plain date (UTC midnight).
func ParseDate(value string) (time.Time, error) {
	for _, layout := range DateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", value)
}

var errorMessageTemplates = map[string]string{
	"required": "%s is required",
	"uuid":     "%s must be a valid UUID",
	"posdate":  "%s must be an RFC3339 timestamp or a YYYY-MM-DD date",
}

var errorMessageWithParam = map[string]string{
	"min":   "%s must be at least %s",
	"max":   "%s must be at most %s",
	"oneof": "%s must be one of: %s",
}

func translateError(fe validator.FieldError) string {
	if template, ok := errorMessageTemplates[fe.Tag()]; ok {
		return fmt.Sprintf(template, fe.Field())
	}
	if template, ok := errorMessageWithParam[fe.Tag()]; ok {
		return fmt.Sprintf(template, fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
}
