package errors

// ErrorBuilder is a fluent constructor for ClassifiedError.
type ErrorBuilder struct {
	err ClassifiedError
}

// NewError starts a builder with the given category and message.
func NewError(category ErrorCategory, message string) *ErrorBuilder {
	return &ErrorBuilder{err: ClassifiedError{
		category: category,
		severity: SeverityError,
		retry:    RetryNever,
		message:  message,
		context:  make(ErrorContext),
	}}
}

// WrapError starts a builder that wraps cause.
func WrapError(cause error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(cause)
}

func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.err.cause = err
	return b
}

func (b *ErrorBuilder) WithSeverity(s ErrorSeverity) *ErrorBuilder {
	b.err.severity = s
	return b
}

func (b *ErrorBuilder) WithRetry(r RetryStrategy) *ErrorBuilder {
	b.err.retry = r
	return b
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	b.err.context = b.err.context.Set(key, value)
	return b
}

// WithStage records the stage id the error belongs to.
func (b *ErrorBuilder) WithStage(id string) *ErrorBuilder {
	return b.WithContext(ContextStage, id)
}

func (b *ErrorBuilder) Fatal() *ErrorBuilder { return b.WithSeverity(SeverityFatal) }
func (b *ErrorBuilder) Warning() *ErrorBuilder { return b.WithSeverity(SeverityWarning) }
func (b *ErrorBuilder) Retryable() *ErrorBuilder { return b.WithRetry(RetryBackoff) }
func (b *ErrorBuilder) RateLimit() *ErrorBuilder { return b.WithRetry(RetryRateLimit) }

// Build returns the finished error.
func (b *ErrorBuilder) Build() *ClassifiedError {
	out := b.err
	out.context = ErrorContext{}.Merge(b.err.context)
	return &out
}

// ConfigError builds a fatal configuration error naming the stage and field.
// Either may be empty.
func ConfigError(stageID, field, message string) *ErrorBuilder {
	b := NewError(CategoryConfig, message).Fatal()
	if stageID != "" {
		b.WithStage(stageID)
	}
	if field != "" {
		b.WithContext(ContextField, field)
	}
	return b
}

// NetworkError builds a transient, retryable error.
func NetworkError(message string) *ErrorBuilder {
	return NewError(CategoryNetwork, message).Retryable()
}

// RunError wraps a failure raised inside a stage's Init or Run.
func RunError(stageID string, cause error) *ErrorBuilder {
	return WrapError(cause, CategoryRun, "run failed").WithStage(stageID)
}

// StorageError builds a storage consistency error for a stage.
func StorageError(stageID, message string) *ErrorBuilder {
	b := NewError(CategoryStorage, message).Fatal()
	if stageID != "" {
		b.WithStage(stageID)
	}
	return b
}

// NotFoundError builds a not-found error.
func NotFoundError(message string) *ErrorBuilder {
	return NewError(CategoryNotFound, message)
}

// InternalError builds an internal error.
func InternalError(message string) *ErrorBuilder {
	return NewError(CategoryInternal, message).Fatal()
}
