// Package binding resolves which locked provider satisfies each capability
// port a bundle requires and how it is reached from the runtime host.
//
// A Resolution is one of three variants, matched exhaustively:
//   - Local: the provider runs on the runtime host
//   - Delegated: the provider runs on another host reached through a route
//   - Unreachable: no host the provider supports can be reached
//
// Activation validates the lockfile, checks host API alignment, matches
// every requirement to exactly one locked provider whose contract hash
// agrees, and produces a Plan with one resolution per (portId, portVersion).
package binding
