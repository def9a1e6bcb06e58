package metrics

import "time"

// ResultLabel enumerates stage run outcomes for counters.
type ResultLabel string

const (
	ResultSuccess  ResultLabel = "success"
	ResultError    ResultLabel = "error"
	ResultSkipped  ResultLabel = "skipped"
	ResultDeferred ResultLabel = "deferred"
)

// DownloadLabel enumerates download outcomes.
type DownloadLabel string

const (
	DownloadFetched DownloadLabel = "fetched"
	DownloadDeduped DownloadLabel = "deduped"
	DownloadFailed  DownloadLabel = "failed"
)

// Recorder defines observability hooks for stage runs, downloads and the
// request queue.
type Recorder interface {
	ObserveStageDuration(stageType string, d time.Duration)
	IncStageResult(stageType string, result ResultLabel)
	AddItemsSaved(stageType string, n int)
	IncDownload(result DownloadLabel)
	ObserveRateLimitWait(d time.Duration)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncStageResult(string, ResultLabel)         {}
func (NoopRecorder) AddItemsSaved(string, int)                  {}
func (NoopRecorder) IncDownload(DownloadLabel)                  {}
func (NoopRecorder) ObserveRateLimitWait(time.Duration)         {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
