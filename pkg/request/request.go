// Package request implements RequestRouter (§4.J): resolving
// "/{alias-or-id}/subpath" requests against the alias table and context
// table before forwarding the remainder of the path to the realized
// channel.
package request

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fluidmesh/chancol/pkg/contexttable"
	"github.com/fluidmesh/chancol/pkg/metrics"
	"github.com/fluidmesh/chancol/pkg/types"
)

// AliasResolver is the subset of alias.Protocol the router depends on.
type AliasResolver interface {
	WaitIfPendingAlias(ctx context.Context, aliasName string) (types.AliasResult, error)
	Resolve(aliasOrID string) string
}

// Router is the RequestRouter.
type Router struct {
	table  *contexttable.Table
	alias  AliasResolver
	gcSink types.GCSink
}

// New constructs a RequestRouter.
func New(table *contexttable.Table, alias AliasResolver, gcSink types.GCSink) *Router {
	return &Router{table: table, alias: alias, gcSink: gcSink}
}

// Dispatch resolves and forwards one inbound request, per §4.J.
func (r *Router) Dispatch(ctx context.Context, path string, headers types.RequestHeaders) (types.Response, error) {
	timer := metrics.NewTimer()
	outcome := "ok"
	defer func() {
		timer.ObserveDurationVec(metrics.RequestDuration, outcome)
		metrics.RequestsTotal.WithLabelValues(outcome).Inc()
	}()

	id, subPath := splitPath(path)

	if _, err := r.alias.WaitIfPendingAlias(ctx, id); err != nil {
		outcome = "alias_wait_failed"
		return types.Response{}, err
	}
	internalID := r.alias.Resolve(id)

	allowTombstone := headers.AllowTombstone || subPath != ""

	c, ok := r.table.GetBoundOrRemoted(ctx, internalID, headers.Wait)
	if !ok {
		outcome = "not_found"
		return types.Response{}, types.NewNotFoundError("request.dispatch",
			fmt.Errorf("no context addressable for %q", id))
	}

	if c.IsTombstoned() && !allowTombstone && !headers.AllowInactive {
		outcome = "tombstoned"
		return types.Response{}, types.NewDataProcessingError("request.dispatch",
			fmt.Errorf("context %s is tombstoned", internalID))
	}

	trimmedURL := "/" + id
	if subPath != "" {
		trimmedURL += "/" + subPath
	}
	r.gcSink.NodeUpdated(trimmedURL, "Loaded", time.Now())

	ch, err := c.Realize()
	if err != nil {
		outcome = "realize_failed"
		return types.Response{}, err
	}

	resp, err := ch.Request(types.RequestObject{Path: subPath, Headers: headers})
	if err != nil {
		outcome = "channel_error"
	}
	return resp, err
}

// splitPath separates the leading alias-or-id segment from the rest of
// the path.
func splitPath(path string) (id string, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return parts[0], ""
}
