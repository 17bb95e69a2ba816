/*
Package metrics exposes the collection's Prometheus instrumentation: context
table size, attach/alias protocol outcomes, GC sweep and tombstone counts,
summarize duration, request routing outcomes, and the underlying Raft
sequencer's apply latency.

# Metrics Catalog

Context table:

	chancol_contexts_total{attach_state,binding}   gauge
	chancol_contexts_deleted_total                 counter

Attach protocol:

	chancol_attach_ops_sent_total                  counter
	chancol_attach_ops_processed_total{local}      counter
	chancol_attach_rollbacks_total                 counter
	chancol_attach_duration_seconds                histogram

Alias protocol:

	chancol_alias_attempts_total                   counter
	chancol_alias_outcomes_total{result}           counter
	chancol_alias_commit_duration_seconds          histogram

Garbage collection:

	chancol_gc_sweep_duration_seconds              histogram
	chancol_gc_nodes_swept_total                   counter
	chancol_gc_tombstoned_routes                   gauge
	chancol_gc_outbound_references_total           counter

Summarize:

	chancol_summarize_duration_seconds             histogram
	chancol_attach_summary_fixedpoint_iterations   histogram
	chancol_summary_bytes_total                    counter

Request router:

	chancol_requests_total{outcome}                counter
	chancol_request_duration_seconds{outcome}      histogram

Raft:

	chancol_raft_is_leader                         gauge
	chancol_raft_applied_index                     gauge
	chancol_raft_apply_duration_seconds            histogram

# Usage

	timer := metrics.NewTimer()
	_, err := builder.Summarize(false, false)
	timer.ObserveDuration(metrics.SummarizeDuration)

All metrics are registered at package init via prometheus.MustRegister;
Handler exposes them for scraping.
*/
package metrics
