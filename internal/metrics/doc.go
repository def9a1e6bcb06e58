// Package metrics records pipeline observability data.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics can be switched on without touching call sites:
//
//	rec := metrics.NewPrometheusRecorder(reg)
//	orch := orchestrator.New(deps, orchestrator.WithRecorder(rec))
//
// HTTPHandler exposes a registry for scraping.
package metrics
