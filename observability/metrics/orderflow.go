package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderflowMetrics aggregates the instrument handles for the router and the
// conditional-order manager.
type OrderflowMetrics struct {
	routerRuns        *prometheus.CounterVec
	instructions      *prometheus.CounterVec
	instructionGauge  prometheus.Histogram
	hookExecutions    *prometheus.CounterVec
	signatureVerdicts *prometheus.CounterVec
	quoteRequests     *prometheus.CounterVec
	activeOrders      prometheus.Gauge
}

var (
	orderflowOnce     sync.Once
	orderflowRegistry *OrderflowMetrics
)

// Orderflow returns the process-wide orderflow metrics, registering them on
// first use.
func Orderflow() *OrderflowMetrics {
	orderflowOnce.Do(func() {
		orderflowRegistry = &OrderflowMetrics{
			routerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "orderflow_router_runs_total",
				Help: "Count of router runs by terminal result.",
			}, []string{"result"}),
			instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "orderflow_instructions_total",
				Help: "Count of executed instructions by op or protocol name.",
			}, []string{"op"}),
			instructionGauge: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "orderflow_run_length",
				Help:    "Instructions per completed router run.",
				Buckets: prometheus.LinearBuckets(1, 4, 8),
			}),
			hookExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "orderflow_hook_executions_total",
				Help: "Count of order hook invocations by hook and result.",
			}, []string{"hook", "result"}),
			signatureVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "orderflow_signature_checks_total",
				Help: "Count of settlement signature checks by verdict.",
			}, []string{"verdict"}),
			quoteRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "orderflow_quote_requests_total",
				Help: "Count of tradeable-order derivations by result.",
			}, []string{"result"}),
			activeOrders: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "orderflow_active_orders",
				Help: "Number of orders currently in the Active state.",
			}),
		}
		prometheus.MustRegister(
			orderflowRegistry.routerRuns,
			orderflowRegistry.instructions,
			orderflowRegistry.instructionGauge,
			orderflowRegistry.hookExecutions,
			orderflowRegistry.signatureVerdicts,
			orderflowRegistry.quoteRequests,
			orderflowRegistry.activeOrders,
		)
	})
	return orderflowRegistry
}

// RouterRunCompleted records a successful run and its instruction count.
func (m *OrderflowMetrics) RouterRunCompleted(instructions int) {
	if m == nil {
		return
	}
	m.routerRuns.WithLabelValues("ok").Inc()
	m.instructionGauge.Observe(float64(instructions))
}

// RouterRunFailed records an aborted run.
func (m *OrderflowMetrics) RouterRunFailed() {
	if m == nil {
		return
	}
	m.routerRuns.WithLabelValues("error").Inc()
}

// InstructionExecuted records one executed instruction.
func (m *OrderflowMetrics) InstructionExecuted(op string) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(op).Inc()
}

// HookExecuted records a hook invocation outcome.
func (m *OrderflowMetrics) HookExecuted(hook, result string) {
	if m == nil {
		return
	}
	m.hookExecutions.WithLabelValues(hook, result).Inc()
}

// SignatureChecked records an isValidSignature verdict.
func (m *OrderflowMetrics) SignatureChecked(verdict string) {
	if m == nil {
		return
	}
	m.signatureVerdicts.WithLabelValues(verdict).Inc()
}

// QuoteDerived records a tradeable-order derivation outcome.
func (m *OrderflowMetrics) QuoteDerived(result string) {
	if m == nil {
		return
	}
	m.quoteRequests.WithLabelValues(result).Inc()
}

// SetActiveOrders tracks the live Active-order count.
func (m *OrderflowMetrics) SetActiveOrders(count int) {
	if m == nil {
		return
	}
	m.activeOrders.Set(float64(count))
}
