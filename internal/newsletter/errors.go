package newsletter

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a malformed request. It is returned before any
// external call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ProviderError is a failure reported by an external search or text
// generation capability.
type ProviderError struct {
	Provider   string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the failure is a rate limit or timeout worth retrying.
func (e *ProviderError) Transient() bool { return e.Retryable }

// TransientError wraps err as a retryable provider failure.
func TransientError(provider string, status int, err error) error {
	return &ProviderError{Provider: provider, StatusCode: status, Retryable: true, Err: err}
}

// FatalError wraps err as a non-retryable provider failure.
func FatalError(provider string, status int, err error) error {
	return &ProviderError{Provider: provider, StatusCode: status, Retryable: false, Err: err}
}

// InvalidCategoryError is returned by the planner for a blank category name.
type InvalidCategoryError struct {
	Category string
}

func (e *InvalidCategoryError) Error() string {
	return fmt.Sprintf("invalid category %q: name must not be blank", e.Category)
}

// SearchUnavailableError is a non-transient search failure. It aborts the
// owning category pipeline only.
type SearchUnavailableError struct {
	Query string
	Err   error
}

func (e *SearchUnavailableError) Error() string {
	return fmt.Sprintf("search unavailable for query %q: %v", e.Query, e.Err)
}

func (e *SearchUnavailableError) Unwrap() error { return e.Err }

// SummarizationError is a persistent failure to summarize one source.
type SummarizationError struct {
	URL string
	Err error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarization failed for %s: %v", e.URL, e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }

// EmptyNewsletterError is returned when no category produced any content.
type EmptyNewsletterError struct {
	Warnings []string
}

func (e *EmptyNewsletterError) Error() string {
	if len(e.Warnings) == 0 {
		return "newsletter is empty: no category produced any entries"
	}
	return fmt.Sprintf("newsletter is empty: no category produced any entries (%s)", strings.Join(e.Warnings, "; "))
}

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsTransient checks if an error is a retryable ProviderError
func IsTransient(err error) bool {
	var target *ProviderError
	return errors.As(err, &target) && target.Retryable
}

// IsInvalidCategory checks if an error is an InvalidCategoryError
func IsInvalidCategory(err error) bool {
	var target *InvalidCategoryError
	return errors.As(err, &target)
}

// IsSearchUnavailable checks if an error is a SearchUnavailableError
func IsSearchUnavailable(err error) bool {
	var target *SearchUnavailableError
	return errors.As(err, &target)
}

// IsSummarization checks if an error is a SummarizationError
func IsSummarization(err error) bool {
	var target *SummarizationError
	return errors.As(err, &target)
}

// IsEmptyNewsletter checks if an error is an EmptyNewsletterError
func IsEmptyNewsletter(err error) bool {
	var target *EmptyNewsletterError
	return errors.As(err, &target)
}
