// Package alias implements the alias-reservation protocol: local
// reservation through a Future-backed promise, and inbound commit
// enforcing global alias uniqueness against both existing internal ids
// and prior aliases.
package alias
