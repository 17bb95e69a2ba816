// Package router implements OpRouter and ChannelOpPipeline (§4.E, §4.F):
// dispatches container-level messages by type, and for FluidDataStoreOp
// specifically, unwraps the envelope, routes to the addressed context,
// and scans the payload for outbound handle references to report to GC.
package router

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/log"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/types"
)

// AttachHandler processes an inbound Attach op.
type AttachHandler func(msg types.AttachMessage, local bool, localMeta any) error

// AliasHandler processes an inbound Alias op.
type AliasHandler func(msg types.AliasMessage, local bool, localMeta any) error

// Router is the OpRouter, dispatching by container message type.
type Router struct {
	table    *contexttable.Table
	gcSink   types.GCSink
	config   types.Config
	onAttach AttachHandler
	onAlias  AliasHandler
}

// New constructs a Router.
func New(table *contexttable.Table, gcSink types.GCSink, config types.Config, onAttach AttachHandler, onAlias AliasHandler) *Router {
	return &Router{table: table, gcSink: gcSink, config: config, onAttach: onAttach, onAlias: onAlias}
}

// Dispatch routes one inbound container message by its wire type.
func (r *Router) Dispatch(msgType string, raw json.RawMessage, local bool, localMeta any) error {
	switch msgType {
	case types.MessageAttach:
		var msg types.AttachMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return types.NewDataCorruptionError("router.dispatch", fmt.Errorf("malformed attach message: %w", err))
		}
		return r.onAttach(msg, local, localMeta)

	case types.MessageAlias:
		var msg types.AliasMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return types.NewDataCorruptionError("router.dispatch", fmt.Errorf("malformed alias message: %w", err))
		}
		return r.onAlias(msg, local, localMeta)

	case types.MessageDataStoreOp:
		var env types.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return types.NewDataCorruptionError("router.dispatch", fmt.Errorf("malformed envelope: %w", err))
		}
		return r.dispatchDataStoreOp(env, local, localMeta)

	default:
		return types.NewInternalConsistencyError("router.dispatch", fmt.Errorf("unknown container message type %q", msgType))
	}
}

// DispatchSignal routes a signal by the envelope address it carries.
func (r *Router) DispatchSignal(address string, content any, local bool) error {
	c, ok := r.table.Get(address)
	if !ok {
		if r.table.WasDeleted(address) {
			return nil
		}
		log.WithStoreID(address).Warn().Msg("signal addressed to unknown store, dropping")
		return nil
	}
	if c.IsDeleted() {
		return nil
	}
	return c.ProcessSignal(content, local)
}

func (r *Router) dispatchDataStoreOp(env types.Envelope, local bool, localMeta any) error {
	c, ok := r.table.Get(env.Address)
	if !ok {
		if r.table.WasDeleted(env.Address) {
			log.WithStoreID(env.Address).Error().Msg("op addressed to deleted context, dropping")
			return nil
		}
		metrics.RequestsTotal.WithLabelValues("no_context").Inc()
		return types.NewDataProcessingError("channel_op_pipeline",
			fmt.Errorf("NoContext: op addressed to unknown store %s: %+v", env.Address, env.Contents))
	}
	if c.IsDeleted() {
		log.WithStoreID(env.Address).Error().Msg("op addressed to deleted context, dropping")
		return nil
	}

	if err := c.Process(env.Contents, local, localMeta); err != nil {
		return err
	}

	if !r.config.DetectOutboundRoutesViaDDSKey {
		r.detectOutboundReferences(env)
	}

	r.gcSink.NodeUpdated("/"+env.Address, "Changed", time.Now())
	return nil
}

// detectOutboundReferences implements step 5 of §4.F: walk the op
// contents recursively, recording every url under a
// {type: "__fluid_handle__", url: string} shape as an outbound target,
// and the first "address" property encountered as the DDS sub-path.
func (r *Router) detectOutboundReferences(env types.Envelope) {
	targets := DetectHandleURLs(env.Contents.Content)
	if len(targets) == 0 {
		return
	}

	ddsAddress := firstAddressProperty(env.Contents.Content)
	from := "/" + env.Address
	if ddsAddress != "" {
		from = from + "/" + ddsAddress
	}

	for _, target := range targets {
		r.gcSink.AddedOutboundReference(from, target)
		metrics.GCOutboundReferencesTotal.Inc()
	}
}
