package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is shared by every service; it caches struct metadata and is safe for concurrent use.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldErrors maps a field that failed a format rule to its service error.
var fieldErrors = map[string]error{
	"email":       ErrInvalidEmail,
	"mobile":      ErrInvalidMobile,
	"password":    ErrInvalidPassword,
	"newPassword": ErrInvalidPassword,
	"dob":         ErrInvalidDate,
}

// validateInput checks the validate tags on input and reports the first failure.
// Every returned error wraps ErrInvalidInput.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	fe := verrs[0]
	if fe.Tag() == "required" {
		return fmt.Errorf("%w: %s", ErrMissingField, fe.Field())
	}
	if mapped, ok := fieldErrors[fe.Field()]; ok {
		return mapped
	}
	return fmt.Errorf("%w: %s fails %s", ErrInvalidInput, fe.Field(), fe.Tag())
}
