// Package storage provides bbolt-backed persistence for the channel
// collection: content-addressed blobs (the storage.fetch seam data store
// channels read through) and the flattened snapshot trees written at
// attach and summarize time, bucketed by subtree so a migration between
// the legacy and current layout is a bucket copy rather than a key
// rewrite.
package storage
