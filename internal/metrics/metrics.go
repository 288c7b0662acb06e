// Package metrics exposes the Prometheus collectors shared by ttsyard components.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SpeechRequests counts finished speech requests by format and HTTP status.
	SpeechRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ttsyard_speech_requests_total",
		Help: "Speech requests handled, by response format and status code.",
	}, []string{"format", "code"})

	// SynthesisSeconds observes time spent inside the pipeline per request.
	SynthesisSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ttsyard_synthesis_seconds",
		Help:    "Time spent generating audio in the synthesis pipeline.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	// EncodeSeconds observes time spent converting audio per format.
	EncodeSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ttsyard_encode_seconds",
		Help:    "Time spent encoding synthesized audio.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"format"})

	// PipelineLoads counts pipeline (re)loads by language code and result.
	PipelineLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ttsyard_pipeline_loads_total",
		Help: "Synthesis pipeline loads, by language code and result.",
	}, []string{"lang", "result"})
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
