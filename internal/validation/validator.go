package validation

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	ozzo "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"github.com/spec-kit/authgate/pkg/apperr"
)

const msgValidationFailed = "Validation failed"

// Validate checks payload against schema and returns the cleaned payload:
// only declared fields, coerced to their types, with defaults applied.
// Every violated rule is reported; evaluation never stops at the first one.
func Validate(payload map[string]any, schema *Schema) (map[string]any, error) {
	payload = Sanitize(payload)

	out := make(map[string]any, len(schema.Fields))
	var fieldErrs []apperr.FieldError
	for i := range schema.Fields {
		f := &schema.Fields[i]
		value, present := payload[f.Name]
		if present && value == nil {
			present = false
		}

		if !present {
			if f.Required {
				fieldErrs = append(fieldErrs, apperr.FieldError{Field: f.Name, Message: f.message("required", fmt.Sprintf("%q is required", f.Name))})
			} else if f.Default != nil {
				out[f.Name] = f.Default
			}
			continue
		}

		typed, ok := coerce(f.Type, value)
		if !ok {
			fieldErrs = append(fieldErrs, apperr.FieldError{Field: f.Name, Message: f.message("type", fmt.Sprintf("%q must be a %s", f.Name, f.Type))})
			continue
		}
		if s, isString := typed.(string); isString {
			if f.Trim {
				s = strings.TrimSpace(s)
			}
			if f.Lowercase {
				s = strings.ToLower(s)
			}
			typed = s
		}

		errs := checkRules(f, typed)
		if len(errs) == 0 {
			out[f.Name] = typed
		}
		fieldErrs = append(fieldErrs, errs...)
	}

	if len(fieldErrs) > 0 {
		return nil, apperr.Validation(msgValidationFailed, fieldErrs)
	}
	return out, nil
}

// checkRules applies each rule on its own so a value breaking several rules
// yields one error per rule.
func checkRules(f *Field, value any) []apperr.FieldError {
	var errs []apperr.FieldError
	for _, rule := range rulesFor(f, value) {
		if err := ozzo.Validate(value, rule); err != nil {
			errs = append(errs, apperr.FieldError{Field: f.Name, Message: err.Error()})
		}
	}
	return errs
}

func rulesFor(f *Field, value any) []ozzo.Rule {
	var rules []ozzo.Rule
	if s, ok := value.(string); ok {
		if !f.AllowEmpty {
			rules = append(rules, ozzo.Required.Error(f.message("required", fmt.Sprintf("%q is not allowed to be empty", f.Name))))
		}
		if s == "" {
			return rules
		}
		if f.MinLength != nil {
			rules = append(rules, ozzo.Length(*f.MinLength, 0).
				Error(f.message("min_length", fmt.Sprintf("%q length must be at least %d characters long", f.Name, *f.MinLength))))
		}
		if f.MaxLength != nil {
			rules = append(rules, ozzo.Length(0, *f.MaxLength).
				Error(f.message("max_length", fmt.Sprintf("%q length must be less than or equal to %d characters long", f.Name, *f.MaxLength))))
		}
		if f.Email {
			rules = append(rules, is.Email.Error(f.message("email", fmt.Sprintf("%q must be a valid email", f.Name))))
		}
		for _, p := range f.Patterns {
			msg := p.Message
			if msg == "" {
				msg = f.message("pattern", fmt.Sprintf("%q has an invalid format", f.Name))
			}
			rules = append(rules, ozzo.Match(p.re).Error(msg))
		}
		if len(f.Enum) > 0 {
			allowed := make([]interface{}, len(f.Enum))
			for i, v := range f.Enum {
				allowed[i] = v
			}
			rules = append(rules, ozzo.In(allowed...).
				Error(f.message("enum", fmt.Sprintf("%q must be one of [%s]", f.Name, strings.Join(f.Enum, ", ")))))
		}
		return rules
	}

	// Numeric bounds use By: ozzo threshold rules treat zero as empty and skip it.
	n, ok := toFloat(value)
	if !ok {
		return rules
	}
	if f.Min != nil {
		lo := *f.Min
		msg := f.message("min", fmt.Sprintf("%q must be greater than or equal to %s", f.Name, formatNumber(lo)))
		rules = append(rules, ozzo.By(func(interface{}) error {
			if n < lo {
				return errors.New(msg)
			}
			return nil
		}))
	}
	if f.Max != nil {
		hi := *f.Max
		msg := f.message("max", fmt.Sprintf("%q must be less than or equal to %s", f.Name, formatNumber(hi)))
		rules = append(rules, ozzo.By(func(interface{}) error {
			if n > hi {
				return errors.New(msg)
			}
			return nil
		}))
	}
	return rules
}

// coerce converts value to t, accepting the string forms query parameters
// arrive in.
func coerce(t FieldType, value any) (any, bool) {
	switch t {
	case TypeString:
		s, ok := value.(string)
		return s, ok
	case TypeBoolean:
		switch v := value.(type) {
		case bool:
			return v, true
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			return b, err == nil
		}
		return nil, false
	case TypeNumber:
		n, ok := toFloat(value)
		return n, ok
	case TypeInteger:
		n, ok := toFloat(value)
		if !ok || n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
			return nil, false
		}
		return int(n), true
	}
	return nil, false
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func formatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}
