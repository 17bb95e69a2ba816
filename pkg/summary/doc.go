// Package summary builds both summary flavors a container needs: the
// steady-state operational summary over Attached contexts, and the
// one-shot fixed-point attach summary a still-detached container
// assembles from its locally bound children before going visible.
package summary
