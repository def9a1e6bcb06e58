package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("rss", 150*time.Millisecond)
	pr.IncStageResult("rss", ResultSuccess)
	pr.AddItemsSaved("rss", 3)
	pr.IncDownload(DownloadDeduped)
	pr.ObserveRateLimitWait(3 * time.Second)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) != 5 {
		t.Fatalf("expected 5 metric families, got %d", len(mfs))
	}

	srv := httptest.NewServer(HTTPHandler(reg))
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `washer_items_saved_total{stage_type="rss"} 3`) {
		t.Fatalf("items counter missing from scrape:\n%s", body)
	}
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	pr.IncStageResult("rss", ResultError)
	pr.ObserveRateLimitWait(time.Second)
}

func TestOrNoop(t *testing.T) {
	if _, ok := OrNoop(nil).(NoopRecorder); !ok {
		t.Fatal("expected NoopRecorder")
	}
}
