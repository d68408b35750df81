package validation

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// FieldError reports the first rule a struct field failed
type FieldError struct {
	Field string
	Rule  string
	Msg   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// Validator validates structs against their `validate` tags.
// Supported rules: required, min=N, max=N, oneof=a b c.
// Fields are reported by their json name when present.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a struct
func (v *Validator) Validate(s interface{}) error {
	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}

	if val.Kind() != reflect.Struct {
		return fmt.Errorf("validate expects a struct")
	}

	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		tag := fieldType.Tag.Get("validate")

		if tag == "" {
			continue
		}

		if err := v.validateField(field, fieldName(fieldType), tag); err != nil {
			return err
		}
	}

	return nil
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		if name := strings.Split(tag, ",")[0]; name != "" && name != "-" {
			return name
		}
	}
	return f.Name
}

// validateField validates a single field
func (v *Validator) validateField(field reflect.Value, name, tag string) error {
	for _, rule := range strings.Split(tag, ",") {
		parts := strings.SplitN(rule, "=", 2)
		ruleName := parts[0]
		arg := ""
		if len(parts) == 2 {
			arg = parts[1]
		}

		switch ruleName {
		case "required":
			if isBlank(field) {
				return &FieldError{Field: name, Rule: ruleName, Msg: "field is required"}
			}

		case "min", "max":
			limit, err := strconv.ParseFloat(arg, 64)
			if err != nil {
				return fmt.Errorf("%s: bad %s argument %q", name, ruleName, arg)
			}
			size, ok := measure(field)
			if !ok {
				continue
			}
			if ruleName == "min" && size < limit {
				return &FieldError{Field: name, Rule: ruleName, Msg: fmt.Sprintf("must be at least %s", arg)}
			}
			if ruleName == "max" && size > limit {
				return &FieldError{Field: name, Rule: ruleName, Msg: fmt.Sprintf("must be at most %s", arg)}
			}

		case "oneof":
			if field.Kind() != reflect.String {
				continue
			}
			allowed := strings.Fields(arg)
			if !contains(allowed, field.String()) {
				return &FieldError{Field: name, Rule: ruleName, Msg: fmt.Sprintf("must be one of %s", strings.Join(allowed, ", "))}
			}
		}
	}

	return nil
}

// isBlank treats whitespace-only strings as empty
func isBlank(field reflect.Value) bool {
	if field.Kind() == reflect.String {
		return strings.TrimSpace(field.String()) == ""
	}
	return field.IsZero()
}

// measure returns the numeric value or the length of a field
func measure(field reflect.Value) (float64, bool) {
	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(field.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(field.Uint()), true
	case reflect.Float32, reflect.Float64:
		return field.Float(), true
	case reflect.String:
		return float64(len([]rune(field.String()))), true
	case reflect.Slice, reflect.Map, reflect.Array:
		return float64(field.Len()), true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
