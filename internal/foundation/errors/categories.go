package errors

import "maps"

// ErrorCategory is the broad class of an error used for routing and exit codes.
type ErrorCategory string

const (
	// CategoryConfig covers bad settings, unresolved subscriptions and
	// duplicate stage ids. Fatal at startup.
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"

	// CategoryNetwork covers timeouts, rate limits and other transient I/O.
	CategoryNetwork ErrorCategory = "network"

	// CategoryRun is an error raised inside a stage's Init or Run.
	CategoryRun ErrorCategory = "run"

	// CategoryStorage covers storage consistency failures such as an
	// unwritable path or a bucket without permissions.
	CategoryStorage ErrorCategory = "storage"

	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates the impact level of an error.
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
	SeverityInfo    ErrorSeverity = "info"
)

// RetryStrategy indicates how a caller should react to an error.
type RetryStrategy string

const (
	RetryNever     RetryStrategy = "never"
	RetryBackoff   RetryStrategy = "backoff"
	RetryRateLimit RetryStrategy = "rate_limit"
)

// ErrorContext holds structured key/value context.
type ErrorContext map[string]any

// Set adds or updates a context value.
func (c ErrorContext) Set(key string, value any) ErrorContext {
	if c == nil {
		c = make(ErrorContext)
	}
	c[key] = value
	return c
}

// Get retrieves a context value.
func (c ErrorContext) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c[key]
	return v, ok
}

// GetString retrieves a string context value.
func (c ErrorContext) GetString(key string) (string, bool) {
	if v, ok := c.Get(key); ok {
		s, ok := v.(string)
		return s, ok
	}
	return "", false
}

// Merge combines two contexts, with other taking precedence.
func (c ErrorContext) Merge(other ErrorContext) ErrorContext {
	if c == nil {
		return other
	}
	if other == nil {
		return c
	}
	out := make(ErrorContext, len(c)+len(other))
	maps.Copy(out, c)
	maps.Copy(out, other)
	return out
}
