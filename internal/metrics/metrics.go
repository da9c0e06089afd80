// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/giongaysau-stack/minizflash/internal/apperr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Metrics struct {
	Registry      *prometheus.Registry
	Validations   *prometheus.CounterVec
	Downloads     *prometheus.CounterVec
	DownloadBytes prometheus.Counter
	FetchSeconds  prometheus.Histogram
	Lockouts      prometheus.Counter
}

// New registers the collectors on a private registry so tests can build as
// many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mzgate",
			Name:      "license_validations_total",
			Help:      "License validation attempts by result code.",
		}, []string{"result"}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mzgate",
			Name:      "firmware_downloads_total",
			Help:      "Firmware download attempts by firmware and result code.",
		}, []string{"firmware", "result"}),
		DownloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mzgate",
			Name:      "firmware_download_bytes_total",
			Help:      "Bytes of firmware released.",
		}),
		FetchSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mzgate",
			Name:      "firmware_fetch_seconds",
			Help:      "Time spent fetching firmware from the asset source.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mzgate",
			Name:      "session_lockouts_total",
			Help:      "Requests rejected because the session is locked.",
		}),
	}
	reg.MustRegister(
		m.Validations,
		m.Downloads,
		m.DownloadBytes,
		m.FetchSeconds,
		m.Lockouts,
		collectors.NewGoCollector(),
	)
	return m
}

// UnknownFirmware labels downloads of ids outside the catalog, keeping the
// firmware label bounded.
const UnknownFirmware = "unknown"

// Result is the label used for an error: "ok" on success, the error code, or
// "Internal" for errors outside the taxonomy.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	if code := apperr.CodeOf(err); code != "" {
		return string(code)
	}
	return "Internal"
}
