package validation

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/kbukum/agentflow/errors"
)

// FieldError is one failed check.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string { return e.Field + ": " + e.Message }

// Validator chains ad-hoc checks on request values that have no struct
// tags, for example the ids a caller passes to the engine:
//
//	err := validation.New().
//	    Required("user_id", userID).SafeSegment("user_id", userID).
//	    Validate()
type Validator struct {
	errs []FieldError
}

func New() *Validator { return &Validator{} }

func (v *Validator) AddError(field, message string) {
	v.errs = append(v.errs, FieldError{Field: field, Message: message})
}

func (v *Validator) HasErrors() bool { return len(v.errs) > 0 }

func (v *Validator) Errors() []FieldError { return v.errs }

// Validate returns nil or an INVALID_INPUT AppError listing every failure.
// The failures are also attached under the "fields" detail.
func (v *Validator) Validate() error {
	if len(v.errs) == 0 {
		return nil
	}
	msgs := make([]string, len(v.errs))
	for i, e := range v.errs {
		msgs[i] = e.String()
	}
	return errors.Validation(strings.Join(msgs, "; ")).WithDetail("fields", v.errs)
}

// Required rejects empty and whitespace-only values.
func (v *Validator) Required(field, value string) *Validator {
	return v.Custom(strings.TrimSpace(value) != "", field, "is required")
}

// OptionalUUID accepts "" or a parseable UUID.
func (v *Validator) OptionalUUID(field, value string) *Validator {
	if value == "" {
		return v
	}
	_, err := uuid.Parse(value)
	return v.Custom(err == nil, field, "must be a valid UUID")
}

// SafeSegment accepts "" or a value usable as one directory name: no
// separators, no NUL and not a dot entry.
func (v *Validator) SafeSegment(field, value string) *Validator {
	bad := value == "." || value == ".." || strings.ContainsAny(value, "/\\\x00")
	return v.Custom(!bad, field, "must not contain path separators")
}

// OneOf accepts "" or a member of allowed.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	ok := value == "" || slices.Contains(allowed, value)
	return v.Custom(ok, field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
}

// Custom records message for field unless ok holds.
func (v *Validator) Custom(ok bool, field, message string) *Validator {
	if !ok {
		v.AddError(field, message)
	}
	return v
}
