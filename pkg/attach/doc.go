// Package attach implements the outbound and inbound halves of the
// attach protocol. The outbound half turns a local MakeVisible call
// into a submitted Attach message and a pending-attach bookkeeping
// entry; the inbound half reconciles that entry on ack, or constructs a
// remote context when the Attach op originated elsewhere.
package attach
