package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/tapgate/internal/domain/adapter"
	"github.com/Sentinel-Gate/tapgate/internal/domain/interceptor"
)

// RegisterCustomValidators registers tapgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	if err := v.RegisterValidation("interceptor_type", validateInterceptorType); err != nil {
		return fmt.Errorf("failed to register interceptor_type validator: %w", err)
	}
	return nil
}

// validateDuration accepts non-negative Go durations such as "30s" or "1m".
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d >= 0
}

func validateInterceptorType(fl validator.FieldLevel) bool {
	return interceptor.Known(fl.Field().String())
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: adapter tags and function names must exist
	if err := c.validateAdapters(); err != nil {
		return err
	}

	return nil
}

// validateAdapters checks every configured adapter against the catalog.
func (c *Config) validateAdapters() error {
	tags := make([]string, 0, len(c.Adapters))
	for tag := range c.Adapters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	for _, tag := range tags {
		def, ok := adapter.Lookup(tag)
		if !ok {
			return fmt.Errorf("adapters.%s: unknown adapter, must be one of: %s", tag, strings.Join(adapter.Tags(), ", "))
		}
		// Keys arrive lowercased from viper.
		known := make(map[string]struct{}, len(def.Functions))
		for _, fn := range def.FunctionNames() {
			known[strings.ToLower(fn)] = struct{}{}
		}
		fns := make([]string, 0, len(c.Adapters[tag].Functions))
		for fn := range c.Adapters[tag].Functions {
			fns = append(fns, fn)
		}
		sort.Strings(fns)
		for _, fn := range fns {
			if _, ok := known[strings.ToLower(fn)]; !ok {
				return fmt.Errorf("adapters.%s.functions.%s: unknown function, must be one of: %s",
					tag, fn, strings.Join(def.FunctionNames(), ", "))
			}
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a non-negative duration such as \"30s\"", field)
	case "interceptor_type":
		return fmt.Sprintf("%s must be one of: %s", field, strings.Join(interceptor.Types(), ", "))
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
