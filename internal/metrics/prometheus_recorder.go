package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "washer"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	stageDuration *prom.HistogramVec
	stageResults  *prom.CounterVec
	itemsSaved    *prom.CounterVec
	downloads     *prom.CounterVec
	rateLimitWait prom.Histogram
}

// NewPrometheusRecorder constructs and registers the collectors on reg. A nil
// reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_run_duration_seconds",
			Help:      "Duration of stage runs",
			Buckets:   prom.DefBuckets,
		}, []string{"stage_type"}),
		stageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "stage_results_total",
			Help:      "Stage run outcomes",
		}, []string{"stage_type", "result"}),
		itemsSaved: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "items_saved_total",
			Help:      "Items written by stage type",
		}, []string{"stage_type"}),
		downloads: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download jobs by outcome",
		}, []string{"result"}),
		rateLimitWait: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent sleeping on provider rate limits",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
		}),
	}
	reg.MustRegister(pr.stageDuration, pr.stageResults, pr.itemsSaved, pr.downloads, pr.rateLimitWait)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stageType string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stageType).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stageType string, result ResultLabel) {
	if p == nil {
		return
	}
	p.stageResults.WithLabelValues(stageType, string(result)).Inc()
}

func (p *PrometheusRecorder) AddItemsSaved(stageType string, n int) {
	if p == nil || n <= 0 {
		return
	}
	p.itemsSaved.WithLabelValues(stageType).Add(float64(n))
}

func (p *PrometheusRecorder) IncDownload(result DownloadLabel) {
	if p == nil {
		return
	}
	p.downloads.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) ObserveRateLimitWait(d time.Duration) {
	if p == nil {
		return
	}
	p.rateLimitWait.Observe(d.Seconds())
}

// HTTPHandler serves the metrics of reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
