// Package validation checks engine inputs and outputs.
//
// Struct tag validation (go-playground/validator) guards configuration and
// the pipeline output contract; custom tags are added with
// RegisterValidation. The programmatic Validator collects field errors for
// run requests.
//
// # Struct Tag Validation
//
//	type Result struct {
//	    Files   []File `json:"files" validate:"required,min=1,dive"`
//	    Summary string `json:"summary" validate:"required"`
//	}
//	err := validation.Validate(result)
//
// # Programmatic Validation
//
//	err := validation.New().
//	    Required("user_id", req.UserID).
//	    OptionalUUID("job_id", req.JobID).
//	    Validate()
package validation
