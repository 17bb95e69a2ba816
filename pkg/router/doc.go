// Package router dispatches container-level messages to the attach,
// alias, or channel-op handlers by wire type, and implements the
// channel-op pipeline: envelope unwrap, deleted-context drop, missing-
// context error, outbound handle-reference detection, and the GC
// node-updated notification.
package router
