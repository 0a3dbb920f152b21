// Package validation provides input validation and rate limiting for the
// verification API endpoints.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validator checks submission fields before they reach the pipeline.
type Validator struct {
	maxUploadSize int64
	maxTextLength int
	maxFiles      int
}

// NewValidator creates a validator with the given upload ceiling in bytes.
func NewValidator(maxUploadSize int64) *Validator {
	return &Validator{
		maxUploadSize: maxUploadSize,
		maxTextLength: 2000,
		maxFiles:      16,
	}
}

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
}

// ValidateFilename rejects names that could escape an archive directory or
// confuse downstream tooling.
func (v *Validator) ValidateFilename(filename string) error {
	if filename == "" {
		return ValidationError{Field: "filename", Message: "filename cannot be empty"}
	}
	if len(filename) > 255 {
		return ValidationError{Field: "filename", Message: "filename too long (max 255 characters)"}
	}
	if !utf8.ValidString(filename) {
		return ValidationError{Field: "filename", Message: "filename contains invalid UTF-8"}
	}
	if strings.Contains(filename, "..") {
		return ValidationError{Field: "filename", Message: "filename cannot contain path traversal sequences"}
	}
	if strings.ContainsAny(filename, "/\\") {
		return ValidationError{Field: "filename", Message: "filename cannot contain path separators"}
	}
	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			return ValidationError{Field: "filename", Message: "filename contains control characters"}
		}
	}
	return nil
}

// ValidateFileSize checks an individual upload against the configured ceiling.
func (v *Validator) ValidateFileSize(size int64) error {
	if size <= 0 {
		return ValidationError{Field: "file_size", Message: "file cannot be empty"}
	}
	if size > v.maxUploadSize {
		return ValidationError{
			Field:   "file_size",
			Message: fmt.Sprintf("file exceeds maximum size of %d bytes", v.maxUploadSize),
		}
	}
	return nil
}

// ValidateText checks the free-text portion of a submission.
func (v *Validator) ValidateText(text string) error {
	if !utf8.ValidString(text) {
		return ValidationError{Field: "text", Message: "text contains invalid UTF-8"}
	}
	if len(text) > v.maxTextLength {
		return ValidationError{
			Field:   "text",
			Message: fmt.Sprintf("text exceeds maximum length of %d characters", v.maxTextLength),
		}
	}
	return nil
}

// ValidateTimeoutMillis bounds a caller-supplied deadline. Zero means the
// server default applies.
func (v *Validator) ValidateTimeoutMillis(ms int64) error {
	if ms < 0 {
		return ValidationError{Field: "timeout_ms", Message: "timeout cannot be negative"}
	}
	if ms > 300_000 {
		return ValidationError{Field: "timeout_ms", Message: "timeout cannot exceed 300000 ms"}
	}
	return nil
}

// ValidateSubmitterID checks the optional submitter identifier.
func (v *Validator) ValidateSubmitterID(id string) error {
	if id == "" {
		return nil
	}
	if len(id) > 128 {
		return ValidationError{Field: "submitter_id", Message: "submitter id too long (max 128 characters)"}
	}
	for _, r := range id {
		if !isIdentRune(r) {
			return ValidationError{Field: "submitter_id", Message: "submitter id contains invalid characters"}
		}
	}
	return nil
}

func isIdentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_' || r == '.' || r == '@':
		return true
	}
	return false
}

// ValidateVerifyRequest runs every check relevant to a verification request
// and collects all failures, so the caller can report them together.
func (v *Validator) ValidateVerifyRequest(text string, filenames []string, fileSizes []int64, timeoutMs int64, submitterID string) []ValidationError {
	var errs []ValidationError

	collect := func(err error) {
		if err == nil {
			return
		}
		if ve, ok := err.(ValidationError); ok {
			errs = append(errs, ve)
			return
		}
		errs = append(errs, ValidationError{Field: "request", Message: err.Error()})
	}

	if text == "" && len(filenames) == 0 {
		errs = append(errs, ValidationError{Field: "request", Message: "submission must carry text or at least one file"})
	}
	if len(filenames) > v.maxFiles {
		errs = append(errs, ValidationError{
			Field:   "files",
			Message: fmt.Sprintf("too many files (max %d)", v.maxFiles),
		})
	}

	collect(v.ValidateText(text))
	for _, name := range filenames {
		collect(v.ValidateFilename(name))
	}
	for _, size := range fileSizes {
		collect(v.ValidateFileSize(size))
	}
	collect(v.ValidateTimeoutMillis(timeoutMs))
	collect(v.ValidateSubmitterID(submitterID))

	return errs
}

// SanitizeInput strips control characters from a string before it is echoed
// back in responses or logs.
func (v *Validator) SanitizeInput(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' || (r >= 0x20 && r != 0x7f) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
