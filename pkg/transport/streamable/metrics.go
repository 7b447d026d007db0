package streamable

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codemaster_sessions_created_total",
		Help: "Number of sessions created by the streamable HTTP transport.",
	})

	sessionsTerminated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codemaster_sessions_terminated_total",
		Help: "Number of sessions explicitly terminated by DELETE requests.",
	})

	framesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codemaster_stream_frames_delivered_total",
		Help: "Number of frames delivered on server-to-client streams.",
	})

	upstreamErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codemaster_upstream_errors_total",
		Help: "Number of tool invocations that failed and were reported in-band.",
	})
)
