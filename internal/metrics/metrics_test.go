package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/KarpelesLab/streamcache"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()

	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	close(ch)

	var m dto.Metric
	if err := (<-ch).Write(&m); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return m.Gauge.GetValue()
}

func TestCollectorCountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	events := []streamcache.Event{
		{Kind: streamcache.EventSubmitted},
		{Kind: streamcache.EventSubmitted},
		{Kind: streamcache.EventCacheHit, Length: 100},
		{Kind: streamcache.EventFetchStarted, Length: 50},
		{Kind: streamcache.EventNetworkData, Length: 30},
		{Kind: streamcache.EventNetworkData, Length: 20},
		{Kind: streamcache.EventReadAheadCut},
		{Kind: streamcache.EventCompleted},
		{Kind: streamcache.EventFailed, Err: errors.New("x")},
		{Kind: streamcache.EventPersistFailed},
		{Kind: streamcache.EventContentInfo, Info: streamcache.ContentInfo{ContentLength: 4096}},
	}
	for _, ev := range events {
		c.Observe(ev)
	}

	checks := []struct {
		name string
		col  prometheus.Collector
		want float64
	}{
		{"submitted", c.requests.WithLabelValues("submitted"), 2},
		{"completed", c.requests.WithLabelValues("completed"), 1},
		{"failed", c.requests.WithLabelValues("failed"), 1},
		{"cache bytes", c.bytes.WithLabelValues("cache"), 100},
		{"network bytes", c.bytes.WithLabelValues("network"), 50},
		{"fetches", c.fetches, 1},
		{"read ahead cuts", c.readAheadCut, 1},
		{"persist failures", c.persistFail, 1},
		{"content length", c.contentBytes, 4096},
	}
	for _, chk := range checks {
		if got := counterValue(t, chk.col); got != chk.want {
			t.Errorf("%s = %v, want %v", chk.name, got, chk.want)
		}
	}
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := New(reg); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := New(reg); err == nil {
		t.Error("second New on the same registry should fail")
	}
}
