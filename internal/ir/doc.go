// Package ir defines the canonical artifact and wire types for gooi and the
// stable-hash codec every integrity check relies on.
//
// All other internal packages import ir; ir imports nothing internal. This
// keeps the artifact model the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Content hashes are SHA-256 over RFC 8785 canonical JSON (StableStringify)
//   - Integral numbers always normalize to Int; 3 and 3.0 hash identically
//   - Artifact JSON tags use camelCase (the published wire shapes)
//   - Nothing in ir reads a clock or a random source
package ir
