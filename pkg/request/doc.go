// Package request resolves "/{alias-or-id}/subpath" requests: it waits
// out any pending alias reservation for the leading segment, resolves
// it to an internal id, fetches the addressable context, and forwards
// the remaining path to the realized channel.
package request
