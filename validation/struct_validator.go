package validation

import (
	stderrors "errors"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/agentflow/errors"
)

var (
	shared     *validator.Validate
	sharedOnce sync.Once
)

// structValidator is the process-wide validator. Field names in its errors
// are json tag names, so messages match what callers send and receive.
func structValidator() *validator.Validate {
	sharedOnce.Do(func() {
		shared = validator.New(validator.WithRequiredStructEnabled())
		shared.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return toSnakeCase(f.Name)
			}
			return name
		})
	})
	return shared
}

// RegisterValidation adds a custom tag to the shared validator.
func RegisterValidation(tag string, fn validator.Func) error {
	return structValidator().RegisterValidation(tag, fn)
}

// Validate checks s against its `validate` tags and returns an INVALID_INPUT
// AppError naming every failing field.
func Validate(s any) error {
	return ValidateAs(s, errors.ErrCodeInvalidInput)
}

// ValidateAs is Validate with a caller-chosen error code.
func ValidateAs(s any, code errors.ErrorCode) error {
	err := structValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return errors.New(code, "validation failed").WithCause(err)
	}

	v := New()
	for _, e := range verrs {
		v.AddError(fieldPath(e), describe(e))
	}
	msgs := make([]string, len(v.errs))
	for i, fe := range v.errs {
		msgs[i] = fe.String()
	}
	return errors.New(code, strings.Join(msgs, "; ")).WithDetail("fields", v.errs)
}

// fieldPath drops the root struct name: "Result.files[0].path" becomes
// "files[0].path".
func fieldPath(e validator.FieldError) string {
	if _, rest, ok := strings.Cut(e.Namespace(), "."); ok {
		return rest
	}
	return toSnakeCase(e.Field())
}

var tagMessages = map[string]string{
	"required":    "is required",
	"required_if": "is required",
	"max":         "must be at most ",
	"ltefield":    "must not exceed ",
	"gte":         "must be greater than or equal to ",
	"gt":          "must be greater than ",
	"oneof":       "must be one of: ",
	"uuid":        "must be a valid UUID",
}

func describe(e validator.FieldError) string {
	if e.Tag() == "min" {
		if k := e.Kind(); k == reflect.Slice || k == reflect.Map {
			return "must contain at least " + e.Param() + " item(s)"
		}
		return "must be at least " + e.Param()
	}
	msg, ok := tagMessages[e.Tag()]
	if !ok {
		return "failed the " + e.Tag() + " check"
	}
	if strings.HasSuffix(msg, " ") {
		msg += e.Param()
	}
	return msg
}

// toSnakeCase turns "StagingRoot" into "staging_root".
func toSnakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
