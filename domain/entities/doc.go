// Package entities provides the core domain types of the bridge: type
// descriptors, parameters, feature descriptions and invocation messages.
// These types carry no behavior tied to a particular runtime or transport.
package entities
