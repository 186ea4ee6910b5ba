package consumer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var workItemsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "robot_scheduler_work_items_added_total",
	Help: "Total number of work items added to the consumer pool",
}, []string{"pool"})

var workItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "robot_scheduler_work_items_processed_total",
	Help: "Total number of work items processed by the consumer pool",
}, []string{"pool"})

var workItemsActive = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "robot_scheduler_work_items_active_total",
	Help: "Total number of work items passed into a worker",
}, []string{"pool"})

var workersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "robot_scheduler_workers_active",
	Help: "Number of workers currently active",
}, []string{"pool"})

var gatewayEventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "robot_gateway_events_received",
	Help: "Number of gateway payloads received, by opcode and dispatch type",
}, []string{"op", "type"})

var gatewayReconnects = promauto.NewCounter(prometheus.CounterOpts{
	Name: "robot_gateway_reconnects",
	Help: "Number of times the gateway connection was re-established",
})

var currentSeq = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "robot_gateway_current_seq",
	Help: "Most recent gateway dispatch sequence number",
})
