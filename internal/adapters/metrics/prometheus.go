package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "red_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "red_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	GenerationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "red_generations_total",
		Help: "Total generations by terminal status",
	}, []string{"status"})

	GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "red_generation_duration_seconds",
		Help:    "Assistant turn duration from start to terminal state",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	MessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "red_messages_total",
		Help: "Total messages processed",
	})

	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "red_llm_requests_total",
		Help: "Total LLM requests",
	}, []string{"model", "status"})

	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "red_llm_request_duration_seconds",
		Help:    "LLM request duration",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"model"})

	ToolCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "red_tool_calls_total",
		Help: "Total tool RPC calls by tool and outcome",
	}, []string{"tool", "status"})

	ToolCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "red_tool_call_duration_seconds",
		Help:    "Tool RPC call duration",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"tool"})

	StreamSubscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "red_stream_subscribers_active",
		Help: "Currently connected stream subscribers",
	})
)
