// Package errors provides the classified error type used across washer.
//
// Errors carry a category from the pipeline's failure taxonomy (configuration,
// transient network, stage run, storage consistency), a severity, a retry
// strategy and free-form context. Build them with the fluent ErrorBuilder:
//
//	err := errors.ConfigError("rss", "schedule", "invalid cron expression").
//		WithCause(parseErr).
//		Build()
//
// The CLI adapter maps categories to process exit codes.
package errors
