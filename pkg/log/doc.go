// Package log provides structured logging for the channel collection using
// zerolog. Components acquire a tagged child logger via WithComponent and
// the other With* helpers rather than logging through the bare global
// Logger, so every line carries enough context to trace back to the data
// store, alias, or route it concerns.
package log
