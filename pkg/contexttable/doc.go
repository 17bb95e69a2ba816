// Package contexttable implements the two leaf components everything
// else in the collection is built on: ContextTable (the indexed,
// partitioned set of stores) and DataStoreContext (one store's state
// machine). Neither component knows about Attach, Alias, or GC wire
// formats — those live in sibling packages and operate on a Context
// through the accessors here.
package contexttable
