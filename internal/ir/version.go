package ir

// Version constants for artifacts, the compiler, and wire envelopes.
const (
	// ArtifactVersion is the Compiled Entrypoint Bundle schema version.
	ArtifactVersion = "1"

	// CompilerVersion is stamped into every bundle.
	CompilerVersion = "0.1.0"

	// EnvelopeVersion must match exactly when parsing result envelopes.
	EnvelopeVersion = "gooi.result/v1"

	// HostAPIVersion is the host API this runtime implements. Runtime,
	// binding plan, and lockfile host API versions must be string-equal.
	HostAPIVersion = "1.0.0"
)
