package graph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects engine metrics:
//
//  1. aidgraph_step_latency_ms (histogram): node execution duration by node and status
//  2. aidgraph_node_faults_total (counter): faults routed to recovery, by node and kind
//  3. aidgraph_interrupts_total (counter): runs suspended, by node
//  4. aidgraph_resumes_total (counter): resume calls, by outcome
//  5. aidgraph_checkpoint_writes_total (counter): checkpoint commits, by status
//  6. aidgraph_inflight_threads (gauge): threads currently executing
//
// Example:
//
//	metrics := graph.NewPrometheusMetrics(prometheus.DefaultRegisterer)
//	engine := graph.New(reducer, st, emitter, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.Handler())
type PrometheusMetrics struct {
	stepLatency      *prometheus.HistogramVec
	nodeFaults       *prometheus.CounterVec
	interrupts       *prometheus.CounterVec
	resumes          *prometheus.CounterVec
	checkpointWrites *prometheus.CounterVec
	inflightThreads  prometheus.Gauge
}

// NewPrometheusMetrics creates and registers the engine metrics.
// A nil registry means prometheus.DefaultRegisterer.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aidgraph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node_id", "status"}), // status: success, fault, suspended

		nodeFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aidgraph",
			Name:      "node_faults_total",
			Help:      "Node faults routed to the recovery node",
		}, []string{"node_id", "kind"}), // kind: error, panic, timeout, reducer

		interrupts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aidgraph",
			Name:      "interrupts_total",
			Help:      "Runs suspended awaiting an external decision",
		}, []string{"node_id"}),

		resumes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aidgraph",
			Name:      "resumes_total",
			Help:      "Resume calls by outcome",
		}, []string{"outcome"}), // outcome: accepted, rejected

		checkpointWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aidgraph",
			Name:      "checkpoint_writes_total",
			Help:      "Checkpoint commits by status",
		}, []string{"status"}), // status: ok, error

		inflightThreads: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aidgraph",
			Name:      "inflight_threads",
			Help:      "Threads with an execution currently in flight",
		}),
	}
}

// RecordStepLatency records a node execution duration.
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if pm == nil {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementNodeFaults counts a fault of nodeID.
func (pm *PrometheusMetrics) IncrementNodeFaults(nodeID, kind string) {
	if pm == nil {
		return
	}
	pm.nodeFaults.WithLabelValues(nodeID, kind).Inc()
}

// IncrementInterrupts counts a suspension at nodeID.
func (pm *PrometheusMetrics) IncrementInterrupts(nodeID string) {
	if pm == nil {
		return
	}
	pm.interrupts.WithLabelValues(nodeID).Inc()
}

// IncrementResumes counts a resume call.
func (pm *PrometheusMetrics) IncrementResumes(outcome string) {
	if pm == nil {
		return
	}
	pm.resumes.WithLabelValues(outcome).Inc()
}

// IncrementCheckpointWrites counts a checkpoint commit attempt.
func (pm *PrometheusMetrics) IncrementCheckpointWrites(status string) {
	if pm == nil {
		return
	}
	pm.checkpointWrites.WithLabelValues(status).Inc()
}

// AddInflightThreads adjusts the in-flight thread gauge by delta.
func (pm *PrometheusMetrics) AddInflightThreads(delta int) {
	if pm == nil {
		return
	}
	pm.inflightThreads.Add(float64(delta))
}
