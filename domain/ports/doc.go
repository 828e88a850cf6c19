// Package ports defines the interfaces the bridge consumes from its external
// collaborators: the managed runtime and the transport to a remote peer.
// Domain logic depends on these abstractions; infrastructure adapters
// implement them.
package ports
