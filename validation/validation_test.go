package validation

import (
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"

	"github.com/kbukum/agentflow/errors"
)

func TestValidatorRequired(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr bool
	}{
		{"present", "user-1", false},
		{"empty", "", true},
		{"whitespace", "   ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New().Required("user_id", tt.value)
			if v.HasErrors() != tt.wantErr {
				t.Errorf("HasErrors() = %v, want %v", v.HasErrors(), tt.wantErr)
			}
		})
	}
}

func TestValidatorOptionalUUID(t *testing.T) {
	if New().OptionalUUID("job_id", "").HasErrors() {
		t.Error("empty value should be accepted")
	}
	if New().OptionalUUID("job_id", "3f1c2c4e-8a55-4c59-9d0e-0f6c9a2b7d11").HasErrors() {
		t.Error("valid uuid should be accepted")
	}
	if !New().OptionalUUID("job_id", "not-a-uuid").HasErrors() {
		t.Error("invalid uuid should be rejected")
	}
}

func TestValidatorSafeSegment(t *testing.T) {
	tests := []struct {
		value   string
		wantErr bool
	}{
		{"site-42", false},
		{"", false},
		{"..", true},
		{".", true},
		{"a/b", true},
		{`a\b`, true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := New().SafeSegment("target_id", tt.value).HasErrors(); got != tt.wantErr {
				t.Errorf("SafeSegment(%q) error = %v, want %v", tt.value, got, tt.wantErr)
			}
		})
	}
}

func TestValidatorOneOf(t *testing.T) {
	allowed := []string{"postgres", "sqlite"}
	if New().OneOf("driver", "sqlite", allowed).HasErrors() {
		t.Error("allowed value rejected")
	}
	if !New().OneOf("driver", "mysql", allowed).HasErrors() {
		t.Error("disallowed value accepted")
	}
}

func TestValidatorValidate(t *testing.T) {
	if err := New().Required("a", "x").Validate(); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}

	err := New().
		Required("user_id", "").
		Custom(false, "target_id", "is bad").
		Validate()
	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != errors.ErrCodeInvalidInput {
		t.Errorf("code = %s, want INVALID_INPUT", appErr.Code)
	}
	if !strings.Contains(appErr.Message, "user_id: is required") || !strings.Contains(appErr.Message, "target_id: is bad") {
		t.Errorf("unexpected message %q", appErr.Message)
	}
	if fields, _ := appErr.Details["fields"].([]FieldError); len(fields) != 2 {
		t.Errorf("expected 2 field errors, got %v", appErr.Details["fields"])
	}
}

type file struct {
	Path string `json:"path" validate:"required"`
}

type bundle struct {
	Files   []file `json:"files" validate:"required,min=1,dive"`
	Summary string `json:"summary" validate:"required"`
	Issues  int    `json:"issues" validate:"gte=0"`
}

func TestStructValidateValid(t *testing.T) {
	b := bundle{Files: []file{{Path: "index.html"}}, Summary: "ok"}
	if err := Validate(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStructValidateInvalid(t *testing.T) {
	b := bundle{Files: []file{{Path: ""}}, Issues: -1}
	err := Validate(b)
	appErr, ok := errors.AsAppError(err)
	if !ok {
		t.Fatalf("expected AppError, got %v", err)
	}
	for _, want := range []string{"files[0].path: is required", "summary: is required", "issues: must be greater than or equal to 0"} {
		if !strings.Contains(appErr.Message, want) {
			t.Errorf("message %q missing %q", appErr.Message, want)
		}
	}
}

func TestStructValidateEmptySlice(t *testing.T) {
	err := ValidateAs(bundle{Files: []file{}, Summary: "x"}, errors.ErrCodeOutputInvalid)
	appErr, ok := errors.AsAppError(err)
	if !ok || appErr.Code != errors.ErrCodeOutputInvalid {
		t.Fatalf("expected OUTPUT_INVALID, got %v", err)
	}
	if !strings.Contains(appErr.Message, "files: must contain at least 1 item(s)") {
		t.Errorf("unexpected message %q", appErr.Message)
	}
}

type tagged struct {
	Name string `json:"name" validate:"shouty"`
}

func TestRegisterValidation(t *testing.T) {
	err := RegisterValidation("shouty", func(fl validator.FieldLevel) bool {
		return strings.ToUpper(fl.Field().String()) == fl.Field().String()
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := Validate(tagged{Name: "LOUD"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err = Validate(tagged{Name: "quiet"})
	if err == nil || !strings.Contains(err.Error(), "name: failed the shouty check") {
		t.Errorf("expected custom tag failure, got %v", err)
	}
}
