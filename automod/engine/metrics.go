package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messageProcessDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "robot_message_duration_sec",
	Help: "Total duration of message processing (excluding action dispatch)",
})

var messageProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "robot_messages_processed",
	Help: "Number of messages processed, by outcome",
}, []string{"outcome"})

var duplicateCountHist = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "robot_duplicate_channel_count",
	Help:    "Distinct-channel duplicate count of processed messages",
	Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
})

var windowSize = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "robot_window_records",
	Help: "Number of records in the most recent window snapshot",
})

var decisionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "robot_decisions",
	Help: "Number of triggered decisions, by policy and whether suppressed",
}, []string{"policy", "suppressed"})

var actionDispatchCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "robot_actions_dispatched",
	Help: "Number of external moderation calls, by action and status",
}, []string{"action", "status"})

var dispatchDropCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "robot_dispatch_dropped",
	Help: "Number of decisions dropped because the dispatch queue was full",
})

var dispatchQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "robot_dispatch_queue_depth",
	Help: "Decisions waiting for a dispatch worker",
})
