// Package kernel implements the gooi execution kernel.
//
// The kernel takes one invocation (entrypoint kind and id, a surface request
// or direct input, an untrusted principal, an optional idempotency key) and
// drives it through a fixed stage list against a compiled bundle, producing
// exactly one ResultEnvelope.
//
// ARCHITECTURE:
//
// Published Stage List:
// StageList(kind, idempotent) is the orchestration contract, versioned by
// ContractVersion. Invoke executes that list and nothing else. Each stage
// either advances or ends the invocation with a typed *ir.Error whose Stage
// names it. A failed stage aborts every later stage.
//
// Invocation Flow:
//  1. Host ports are resolved and validated; the replay TTL is checked
//  2. The envelope is initialized from the clock and identity ports
//  3. The bundle manifest is verified (artifact hash, lanes, references)
//  4. The surface request is bound, schema-checked, and scalar-checked
//  5. The access gate evaluates the principal's effective roles
//  6. The semantic engine executes; queries are checked for effects
//  7. The envelope is completed with output, signals, affected queries
//
// Idempotent mutations add scope resolution and replay lookup before
// execution and persist the successful envelope after it.
//
// Errors:
// Domain failures never surface as Go errors; they are carried on the
// envelope as {ok:false, error}. Invoke returns a Go error only when the
// replay store fails. A persist failure returns the envelope as well.
//
// CRITICAL PATTERNS:
//
// Ports Only:
// The kernel reads time, ids, principals, and capabilities exclusively
// through hostport.Set. Nothing here calls time.Now or a random source.
//
// Scope Serialization:
// When the replay store implements idempotency.ScopeLocker, the scope lock
// is held from idempotency.scope.resolve until Invoke returns, so concurrent
// duplicates execute once and the rest replay.
//
// Replay Delivery:
// Replayed envelopes are returned with meta.replayed=true and are not
// re-delivered to the SignalSink.
package kernel
