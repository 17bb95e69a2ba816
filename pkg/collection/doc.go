// Package collection is the composition root: it owns construction
// order for every other package in this module and is the only place
// that imports all of them at once.
package collection
