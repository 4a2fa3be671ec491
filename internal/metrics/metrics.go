// Package metrics exposes coordinator activity as prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/KarpelesLab/streamcache"
)

const namespace = "streamcache"

// Collector holds the counters of one process. It implements
// streamcache.Observer, so it can be attached to any number of
// coordinators.
type Collector struct {
	requests     *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	fetches      prometheus.Counter
	readAheadCut prometheus.Counter
	persistFail  prometheus.Counter
	contentBytes prometheus.Gauge
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Read requests by lifecycle state.",
		}, []string{"state"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivered_bytes_total",
			Help:      "Bytes delivered to requesters by source.",
		}, []string{"source"}),
		fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_tasks_total",
			Help:      "Network fetches started.",
		}),
		readAheadCut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_ahead_cuts_total",
			Help:      "Network fetches dropped because the data ahead was already cached.",
		}),
		persistFail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Cache file or metadata writes that failed.",
		}),
		contentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "content_length_bytes",
			Help:      "Content length of the last resource whose size became known.",
		}),
	}

	for _, col := range []prometheus.Collector{c.requests, c.bytes, c.fetches, c.readAheadCut, c.persistFail, c.contentBytes} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Observe implements streamcache.Observer.
func (c *Collector) Observe(ev streamcache.Event) {
	switch ev.Kind {
	case streamcache.EventSubmitted:
		c.requests.WithLabelValues("submitted").Inc()
	case streamcache.EventCompleted:
		c.requests.WithLabelValues("completed").Inc()
	case streamcache.EventFailed:
		c.requests.WithLabelValues("failed").Inc()
	case streamcache.EventCancelled:
		c.requests.WithLabelValues("cancelled").Inc()
	case streamcache.EventCacheHit:
		c.bytes.WithLabelValues("cache").Add(float64(ev.Length))
	case streamcache.EventNetworkData:
		c.bytes.WithLabelValues("network").Add(float64(ev.Length))
	case streamcache.EventFetchStarted:
		c.fetches.Inc()
	case streamcache.EventReadAheadCut:
		c.readAheadCut.Inc()
	case streamcache.EventPersistFailed:
		c.persistFail.Inc()
	case streamcache.EventContentInfo:
		c.contentBytes.Set(float64(ev.Info.ContentLength))
	}
}
