package errors

import (
	stderrors "errors"
	"fmt"
)

// Context keys shared by the helpers in this package.
const (
	ContextStage = "stage"
	ContextField = "field"
)

// ClassifiedError is a structured error with category, severity and context.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

func (e *ClassifiedError) Error() string {
	prefix := e.message
	stage, hasStage := e.context.GetString(ContextStage)
	field, hasField := e.context.GetString(ContextField)
	switch {
	case hasStage && hasField:
		prefix = fmt.Sprintf("stage %q, field %q: %s", stage, field, e.message)
	case hasStage:
		prefix = fmt.Sprintf("stage %q: %s", stage, e.message)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return prefix
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

func (e *ClassifiedError) Category() ErrorCategory { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity { return e.severity }
func (e *ClassifiedError) RetryStrategy() RetryStrategy { return e.retry }
func (e *ClassifiedError) Message() string { return e.message }
func (e *ClassifiedError) Context() ErrorContext { return e.context }

// WithContext returns a copy of the error with an extra context value.
func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	cp := *e
	cp.context = ErrorContext{}.Merge(e.context).Set(key, value)
	return &cp
}

// CanRetry reports whether a retry may succeed.
func (e *ClassifiedError) CanRetry() bool {
	return e.retry != RetryNever
}

// IsFatal reports whether the error should stop execution.
func (e *ClassifiedError) IsFatal() bool {
	return e.severity == SeverityFatal
}

// AsClassified finds the first ClassifiedError in err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// HasCategory reports whether any classified error in the chain has category.
func HasCategory(err error, category ErrorCategory) bool {
	for err != nil {
		ce, ok := AsClassified(err)
		if !ok {
			return false
		}
		if ce.category == category {
			return true
		}
		err = ce.cause
	}
	return false
}

// GetCategory returns the outermost category, or CategoryInternal.
func GetCategory(err error) ErrorCategory {
	if ce, ok := AsClassified(err); ok {
		return ce.category
	}
	return CategoryInternal
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	return HasCategory(err, CategoryConfig)
}

// IsRetryable reports whether err is classified as transient.
func IsRetryable(err error) bool {
	if ce, ok := AsClassified(err); ok {
		return ce.CanRetry()
	}
	return false
}
