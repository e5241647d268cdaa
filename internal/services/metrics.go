package services

import "github.com/prometheus/client_golang/prometheus"

var (
	ingestEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_ingest_events_total",
			Help: "Inbound webhook events by kind and outcome (ok, duplicate, ignored, error).",
		},
		[]string{"kind", "result"},
	)

	ocrDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_ocr_duration_seconds",
			Help:    "OCR extraction latency by engine and outcome.",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"engine", "result"},
	)

	documentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_documents_total",
			Help: "Document processing tasks by terminal outcome (processed, error).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(ingestEvents, ocrDuration, documentsTotal)
}
