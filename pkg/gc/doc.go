// Package gc implements the collection's garbage-collection interface:
// building the outbound-route graph for the parent runtime's mark
// phase, and applying the used/tombstoned/sweep-ready verdicts it
// computes from that graph back onto the context table.
package gc
