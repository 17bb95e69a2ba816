package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Context table metrics.
var (
	ContextsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chancol_contexts_total",
		Help: "Number of data store contexts held by the collection, by attach state and binding",
	}, []string{"attach_state", "binding"})

	ContextsDeletedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chancol_contexts_deleted_total",
		Help: "Total data store contexts swept by GC",
	})
)

// Attach protocol metrics.
var (
	AttachOpsSentTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chancol_attach_ops_sent_total",
		Help: "Total outbound Attach ops submitted to the upstream",
	})

	AttachOpsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chancol_attach_ops_processed_total",
		Help: "Total inbound Attach ops processed, by origin",
	}, []string{"local"})

	AttachRollbacksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chancol_attach_rollbacks_total",
		Help: "Total attach rollbacks triggered by a disconnect before ack",
	})

	AttachDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chancol_attach_duration_seconds",
		Help:    "Time from MakeVisible submission to local Attach ack",
		Buckets: prometheus.DefBuckets,
	})
)

// Alias protocol metrics.
var (
	AliasAttemptsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chancol_alias_attempts_total",
		Help: "Total Alias ops submitted",
	})

	AliasOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chancol_alias_outcomes_total",
		Help: "Total Alias ops committed, by outcome",
	}, []string{"result"})

	AliasCommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chancol_alias_commit_duration_seconds",
		Help:    "Time from Alias submission to inbound commit",
		Buckets: prometheus.DefBuckets,
	})
)

// Garbage collection metrics.
var (
	GCSweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chancol_gc_sweep_duration_seconds",
		Help:    "Duration of a sweep-ready-node deletion pass",
		Buckets: prometheus.DefBuckets,
	})

	GCNodesSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chancol_gc_nodes_swept_total",
		Help: "Total nodes deleted by a GC sweep",
	})

	GCTombstonedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chancol_gc_tombstoned_routes",
		Help: "Current count of routes marked tombstoned",
	})

	GCOutboundReferencesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chancol_gc_outbound_references_total",
		Help: "Total outbound handle references discovered across all sources",
	})
)

// Summarize metrics.
var (
	SummarizeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chancol_summarize_duration_seconds",
		Help:    "Duration of a full collection summarize pass",
		Buckets: prometheus.DefBuckets,
	})

	AttachSummaryFixedPointIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chancol_attach_summary_fixedpoint_iterations",
		Help:    "Number of bind-and-rescan iterations needed to reach a stable attach summary",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 13, 21},
	})

	SummaryBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chancol_summary_bytes_total",
		Help: "Total bytes written across all summarized blobs",
	})
)

// Request router metrics.
var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chancol_requests_total",
		Help: "Total sub-requests routed to data store channels, by outcome",
	}, []string{"outcome"})

	RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chancol_request_duration_seconds",
		Help:    "Duration of a request-router dispatch, including any realize wait",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
)

// Raft metrics, kept since the collection's op sequencer is still a
// raft.Raft FSM.
var (
	RaftIsLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chancol_raft_is_leader",
		Help: "Whether this node is the Raft leader (1=leader, 0=follower)",
	})

	RaftAppliedIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chancol_raft_applied_index",
		Help: "Last Raft log index applied to the collection FSM",
	})

	RaftApplyDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chancol_raft_apply_duration_seconds",
		Help:    "Time spent inside FSM.Apply per log entry",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(ContextsTotal)
	prometheus.MustRegister(ContextsDeletedTotal)

	prometheus.MustRegister(AttachOpsSentTotal)
	prometheus.MustRegister(AttachOpsProcessedTotal)
	prometheus.MustRegister(AttachRollbacksTotal)
	prometheus.MustRegister(AttachDuration)

	prometheus.MustRegister(AliasAttemptsTotal)
	prometheus.MustRegister(AliasOutcomesTotal)
	prometheus.MustRegister(AliasCommitDuration)

	prometheus.MustRegister(GCSweepDuration)
	prometheus.MustRegister(GCNodesSweptTotal)
	prometheus.MustRegister(GCTombstonedTotal)
	prometheus.MustRegister(GCOutboundReferencesTotal)

	prometheus.MustRegister(SummarizeDuration)
	prometheus.MustRegister(AttachSummaryFixedPointIterations)
	prometheus.MustRegister(SummaryBytesTotal)

	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)

	prometheus.MustRegister(RaftIsLeader)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftApplyDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
