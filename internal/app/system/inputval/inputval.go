// Package inputval validates decoded request bodies using waffle/pantry/validate.
//
// Define an input struct with validate tags, populate it from the request,
// and call Validate to get client-facing messages:
//
//	type input struct {
//	    RoomID string `json:"roomId" validate:"required,roomid" label:"roomId"`
//	}
//
//	if res := inputval.Validate(input{RoomID: id}); res.HasErrors() {
//	    jsonutil.BadRequest(w, res.First())
//	    return
//	}
package inputval

import (
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/dalemusser/waffle/pantry/validate"
)

// MaxRoomIDLength bounds room ids so that the derived presence channel name
// stays within the broadcaster's channel name limit.
const MaxRoomIDLength = 128

// Result holds validation results with client-facing messages.
type Result struct {
	Errors []FieldError
}

// FieldError represents a validation error for a single field.
type FieldError struct {
	Field   string
	Label   string
	Message string
}

// HasErrors returns true if there are any validation errors.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// First returns the first error message, or empty string if no errors.
func (r *Result) First() string {
	if len(r.Errors) > 0 {
		return r.Errors[0].Message
	}
	return ""
}

// All returns all error messages joined with "; ".
func (r *Result) All() string {
	if len(r.Errors) == 0 {
		return ""
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

var (
	customValidator *validate.Validator
	validatorOnce   sync.Once
)

// getValidator returns the singleton validator with custom rules.
func getValidator() *validate.Validator {
	validatorOnce.Do(func() {
		customValidator = validate.New(validate.WithStopOnFirstError())

		customValidator.RegisterRuleFunc("roomid", func(value any) bool {
			if s, ok := value.(string); ok {
				return IsValidRoomID(s)
			}
			return false
		}, "roomid")

		customValidator.RegisterRuleFunc("httpurl", func(value any) bool {
			if s, ok := value.(string); ok {
				return IsValidHTTPURL(s)
			}
			return false
		}, "httpurl")
	})
	return customValidator
}

// Validate validates a struct and returns a Result with client-facing errors.
// Field names come from json tags so messages match the wire format; an
// optional `label` tag overrides the name.
//
// Rules from pantry/validate: required, oneof, min, max.
// Rules registered here:
//   - roomid: letters, digits, and _-=@,.; up to MaxRoomIDLength
//   - httpurl: an http:// or https:// URL
func Validate(s any) *Result {
	result := &Result{}

	err := getValidator().Struct(s)
	if err == nil {
		return result
	}

	labels := getFieldLabels(s)

	if errs, ok := err.(validate.Errors); ok {
		for _, e := range errs {
			label := labels[e.Field]
			if label == "" {
				label = e.Field
			}
			result.Errors = append(result.Errors, FieldError{
				Field:   e.Field,
				Label:   label,
				Message: formatMessage(label, e.Rule, e.Param),
			})
		}
	}

	return result
}

// getFieldLabels maps each field's json name to its label tag.
func getFieldLabels(s any) map[string]string {
	labels := make(map[string]string)

	val := reflect.ValueOf(s)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return labels
	}

	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)

		fieldName := field.Name
		if jsonTag := field.Tag.Get("json"); jsonTag != "" {
			parts := strings.Split(jsonTag, ",")
			if parts[0] != "" && parts[0] != "-" {
				fieldName = parts[0]
			}
		}

		if label := field.Tag.Get("label"); label != "" {
			labels[fieldName] = label
		} else {
			labels[fieldName] = fieldName
		}
		labels[field.Name] = labels[fieldName]
	}

	return labels
}

// formatMessage creates a message for a failed rule.
func formatMessage(label, rule, param string) string {
	switch rule {
	case "required":
		return label + " is required"
	case "oneof", "enum":
		return label + " must be one of: " + strings.ReplaceAll(param, " ", ", ")
	case "min":
		return label + " must be at least " + param + " characters"
	case "max":
		return label + " must be at most " + param + " characters"
	case "roomid":
		return label + " may only contain letters, digits, and _-=@,.; (at most 128 characters)"
	case "httpurl":
		return label + " must be a URL starting with http:// or https://"
	default:
		return label + " is invalid"
	}
}

// IsValidRoomID reports whether id can be embedded in a broadcast channel
// name. Pusher channel names allow only [A-Za-z0-9_\-=@,.;].
func IsValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.ContainsRune("_-=@,.;", c):
		default:
			return false
		}
	}
	return true
}

// IsValidHTTPURL checks if the given string is a valid http:// or https:// URL.
func IsValidHTTPURL(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
