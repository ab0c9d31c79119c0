package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("issuehour", func(fl validator.FieldLevel) bool {
			s := fl.Field().String()
			if len(s) != 2 {
				return false
			}
			h, err := strconv.Atoi(s)
			return err == nil && h >= 0 && h <= 23
		})
	})
	return validate
}

// Validate checks c against the accepted value ranges.
func Validate(c Config) error {
	err := validatorInstance().Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// ValidateRetrieval additionally requires what a retrieval run needs.
func ValidateRetrieval(c Config) error {
	if err := Validate(c); err != nil {
		return err
	}
	if len(c.Variables) == 0 {
		return fmt.Errorf("%w: at least one variable is required", ErrInvalidConfig)
	}
	if len(c.IssueHours) == 0 {
		return fmt.Errorf("%w: at least one issue hour is required", ErrInvalidConfig)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", field, fe.Param(), fe.Value())
	case "issuehour":
		return fmt.Sprintf("%s must be a two-digit hour 00..23, got %q", field, fe.Value())
	case "gt", "gte", "lte":
		return fmt.Sprintf("%s must be %s %s, got %v", field, fe.Tag(), fe.Param(), fe.Value())
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
