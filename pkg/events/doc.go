// Package events provides an in-memory, non-blocking pub/sub broker for
// collection lifecycle notifications (attach completion and rollback,
// alias commits and conflicts, GC sweeps and tombstoning). Subscribers
// may filter by EventType; Publish never blocks a slow one — a full
// subscriber buffer drops the event rather than backing up the
// broadcast loop. The broker also retains a bounded tail of recently
// published events for a caller that attaches after the fact.
package events
