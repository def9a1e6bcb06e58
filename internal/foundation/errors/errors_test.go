package errors

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"log/slog"
	"testing"
)

func TestConfigErrorNamesStageAndField(t *testing.T) {
	err := ConfigError("news", "schedule", "invalid cron expression").Build()

	want := `stage "news", field "schedule": invalid cron expression`
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
	if !err.IsFatal() {
		t.Error("expected config error to be fatal")
	}
	if err.CanRetry() {
		t.Error("expected config error to not be retryable")
	}
	if !IsConfigError(fmt.Errorf("building stages: %w", err)) {
		t.Error("expected wrapped config error to be detected")
	}
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := WrapError(cause, CategoryNetwork, "fetch failed").Retryable().Build()

	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable through Unwrap")
	}
	if !IsRetryable(err) {
		t.Error("expected retryable")
	}
	if GetCategory(err) != CategoryNetwork {
		t.Errorf("got category %s", GetCategory(err))
	}
	if GetCategory(cause) != CategoryInternal {
		t.Error("unclassified errors should report internal")
	}
}

func TestHasCategoryWalksNestedClassified(t *testing.T) {
	inner := StorageError("files", "bucket not writable").Build()
	outer := RunError("files", inner).Build()

	if !HasCategory(outer, CategoryStorage) {
		t.Error("expected nested storage category to be found")
	}
	if !HasCategory(outer, CategoryRun) {
		t.Error("expected outer run category")
	}
	if HasCategory(outer, CategoryConfig) {
		t.Error("unexpected config category")
	}
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	base := NotFoundError("memory missing").Build()
	withStage := base.WithContext(ContextStage, "rss")

	if _, ok := base.Context().GetString(ContextStage); ok {
		t.Fatal("original context was mutated")
	}
	if got, _ := withStage.Context().GetString(ContextStage); got != "rss" {
		t.Fatalf("got %q", got)
	}
}

func TestCLIErrorAdapter(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	cases := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{stderrors.New("plain"), 1},
		{ConfigError("a", "b", "c").Build(), 7},
		{NetworkError("timeout").Build(), 8},
		{StorageError("a", "denied").Build(), 9},
		{RunError("a", stderrors.New("boom")).Build(), 12},
	}
	for _, tc := range cases {
		if got := adapter.ExitCodeFor(tc.err); got != tc.code {
			t.Errorf("ExitCodeFor(%v) = %d, want %d", tc.err, got, tc.code)
		}
	}

	var out bytes.Buffer
	code := adapter.Report(&out, InternalError("nil map").Build())
	if code != 10 {
		t.Errorf("got exit code %d", code)
	}
	if out.String() != "Internal error occurred (use -v for details)\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}
