package validation

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

func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// Report fields by their settings key rather than the Go name
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})

		_ = validate.RegisterValidation("segment", func(fl validator.FieldLevel) bool {
			return IsValidSegment(fl.Field().String())
		})
		_ = validate.RegisterValidation("fieldpattern", func(fl validator.FieldLevel) bool {
			return ValidateFieldPattern(fl.Field().String()) == nil
		})
	})
	return validate
}

// RegisterStructValidation adds a cross-field rule for the given struct types.
func RegisterStructValidation(fn validator.StructLevelFunc, types ...interface{}) {
	instance().RegisterStructValidation(fn, types...)
}

// Struct checks v against its validate tags and returns every violation in
// one error, e.g. "blob.gcs.bucket: required".
func Struct(v interface{}) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	messages := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		messages = append(messages, fmt.Sprintf("%s: %s", settingsKey(fe.Namespace()), describe(fe)))
	}
	return fmt.Errorf("invalid settings: %s", strings.Join(messages, "; "))
}

// settingsKey drops the root struct name from a validator namespace.
func settingsKey(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "segment":
		return fmt.Sprintf("must be a single path segment, got %q", fmt.Sprint(fe.Value()))
	case "fieldpattern":
		return fmt.Sprintf("must have the form type.bundle.field, got %q", fmt.Sprint(fe.Value()))
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return "failed " + fe.Tag()
	}
}

// IsValidSegment reports whether s is usable as one path segment: non-empty,
// no separators, not a relative reference.
func IsValidSegment(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	return !strings.ContainsAny(s, `/\`)
}

// ValidateFieldPattern checks a "type.bundle.field" selector. Segments may
// hold glob wildcards but must not be empty.
func ValidateFieldPattern(pattern string) error {
	segments := strings.Split(pattern, ".")
	if len(segments) != 3 {
		return fmt.Errorf("pattern %q must have the form type.bundle.field", pattern)
	}
	for _, segment := range segments {
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("pattern %q has an empty segment", pattern)
		}
	}
	return nil
}

// ValidateSimpleType ensures a field sub-value is a scalar (string, number,
// bool) or nil, the only shapes an archive value object may hold.
func ValidateSimpleType(value interface{}, fieldName string) error {
	if value == nil {
		return nil
	}

	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return nil
	case reflect.Slice, reflect.Array:
		return fmt.Errorf("field '%s' cannot hold an array/slice value, got %T", fieldName, value)
	case reflect.Map:
		return fmt.Errorf("field '%s' cannot hold a map value, got %T", fieldName, value)
	case reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return ValidateSimpleType(v.Elem().Interface(), fieldName)
	case reflect.Struct:
		// YAML decodes unquoted timestamps to time.Time
		if _, ok := value.(time.Time); ok {
			return nil
		}
		return fmt.Errorf("field '%s' cannot hold a struct value, got %T", fieldName, value)
	default:
		return fmt.Errorf("field '%s' must hold a simple type (string, number, or bool), got %T", fieldName, value)
	}
}
