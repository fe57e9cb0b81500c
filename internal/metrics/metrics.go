package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the conductor. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	// Message bus
	MessagesEnqueued   *prometheus.CounterVec
	MessagesDispatched *prometheus.CounterVec
	HandlerFailures    *prometheus.CounterVec
	RequestTimeouts    prometheus.Counter
	ResponseTime       prometheus.Histogram
	QueueDepth         prometheus.Gauge
	PendingRequests    prometheus.Gauge

	// Planning and execution
	PlansCreated   *prometheus.CounterVec
	PlanTasks      prometheus.Histogram
	TaskOutcomes   *prometheus.CounterVec
	TaskDuration   *prometheus.HistogramVec
	AgentFallbacks *prometheus.CounterVec

	// Tools
	ToolCalls *prometheus.CounterVec
	ToolCost  *prometheus.CounterVec
}

// NewMetrics creates and registers every collector on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		MessagesEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_bus_messages_enqueued_total",
				Help: "Messages accepted onto the bus queue",
			},
			[]string{"type"},
		),
		MessagesDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_bus_messages_dispatched_total",
				Help: "Messages delivered to handlers",
			},
			[]string{"type"},
		),
		HandlerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_bus_handler_failures_total",
				Help: "Handler errors and panics during dispatch",
			},
			[]string{"type"},
		),
		RequestTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_bus_request_timeouts_total",
			Help: "Requests that expired without a response",
		}),
		ResponseTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "conductor_bus_response_seconds",
			Help:    "Time from request to matching response",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_bus_queue_depth",
			Help: "Messages waiting for dispatch",
		}),
		PendingRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conductor_bus_pending_requests",
			Help: "Requests awaiting a response",
		}),

		PlansCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_plans_created_total",
				Help: "Execution plans built",
			},
			[]string{"domain", "complexity"},
		),
		PlanTasks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "conductor_plan_tasks",
			Help:    "Tasks per plan",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
		}),
		TaskOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_task_outcomes_total",
				Help: "Tasks reaching a terminal status",
			},
			[]string{"status"},
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conductor_task_duration_seconds",
				Help:    "Task execution duration by agent",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		AgentFallbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_agent_fallbacks_total",
				Help: "Reassignments after an agent failed a task",
			},
			[]string{"from", "to"},
		),

		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_calls_total",
				Help: "Tool invocations by outcome",
			},
			[]string{"tool", "outcome"},
		),
		ToolCost: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conductor_tool_cost_total",
				Help: "Cost units charged by tool",
			},
			[]string{"tool"},
		),
	}
}

// NewRegistry creates a fresh registry with metrics registered on it.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	return reg, NewMetrics(reg)
}

// HandlerFor returns the scrape handler for reg.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (m *Metrics) Enqueued(msgType string, depth int) {
	if m == nil {
		return
	}
	m.MessagesEnqueued.WithLabelValues(msgType).Inc()
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) Dispatched(msgType string, depth int) {
	if m == nil {
		return
	}
	m.MessagesDispatched.WithLabelValues(msgType).Inc()
	m.QueueDepth.Set(float64(depth))
}

func (m *Metrics) HandlerFailed(msgType string) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(msgType).Inc()
}

func (m *Metrics) Pending(n int) {
	if m == nil {
		return
	}
	m.PendingRequests.Set(float64(n))
}

func (m *Metrics) Responded(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ResponseTime.Observe(elapsed.Seconds())
}

func (m *Metrics) TimedOut() {
	if m == nil {
		return
	}
	m.RequestTimeouts.Inc()
}

func (m *Metrics) PlanCreated(domain, complexity string, tasks int) {
	if m == nil {
		return
	}
	m.PlansCreated.WithLabelValues(domain, complexity).Inc()
	m.PlanTasks.Observe(float64(tasks))
}

func (m *Metrics) TaskFinished(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TaskOutcomes.WithLabelValues(status).Inc()
	if agent != "" {
		m.TaskDuration.WithLabelValues(agent).Observe(d.Seconds())
	}
}

func (m *Metrics) FellBack(from, to string) {
	if m == nil {
		return
	}
	m.AgentFallbacks.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ToolCalled(tool, outcome string, cost float64) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, outcome).Inc()
	if cost > 0 {
		m.ToolCost.WithLabelValues(tool).Add(cost)
	}
}
