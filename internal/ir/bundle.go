package ir

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrArtifactHashMismatch is returned when a bundle's recorded hash does not
// match its content. A bundle failing this check must not be used at all.
var ErrArtifactHashMismatch = errors.New("artifact hash mismatch")

// ComputeArtifactHash hashes the bundle with ArtifactHash cleared.
func ComputeArtifactHash(b *Bundle) (string, error) {
	unsealed := *b
	unsealed.ArtifactHash = ""
	h, err := StableHash(unsealed)
	if err != nil {
		return "", fmt.Errorf("compute artifact hash: %w", err)
	}
	return h, nil
}

// SealBundle stamps b.ArtifactHash.
func SealBundle(b *Bundle) error {
	h, err := ComputeArtifactHash(b)
	if err != nil {
		return err
	}
	b.ArtifactHash = h
	return nil
}

// VerifyBundleHash recomputes the artifact hash and compares it to the
// recorded one.
func VerifyBundleHash(b *Bundle) error {
	if b.ArtifactHash == "" {
		return fmt.Errorf("%w: bundle is not sealed", ErrArtifactHashMismatch)
	}
	h, err := ComputeArtifactHash(b)
	if err != nil {
		return err
	}
	if h != b.ArtifactHash {
		return fmt.Errorf("%w: recorded %s, computed %s", ErrArtifactHashMismatch, b.ArtifactHash, h)
	}
	return nil
}

// ComputeLaneDigests hashes each lane of the bundle.
func ComputeLaneDigests(b *Bundle) (map[string]LaneDigest, error) {
	out := make(map[string]LaneDigest, len(AllLanes))
	for _, lane := range AllLanes {
		content, err := b.LaneContent(lane)
		if err != nil {
			return nil, err
		}
		h, err := StableHash(content)
		if err != nil {
			return nil, fmt.Errorf("hash lane %s: %w", lane, err)
		}
		out[lane] = LaneDigest{Hash: h}
	}
	return out, nil
}

// VerifyLanes checks every recorded lane digest against the lane content.
// A missing lane is a mismatch.
func VerifyLanes(b *Bundle) error {
	computed, err := ComputeLaneDigests(b)
	if err != nil {
		return err
	}
	for _, lane := range AllLanes {
		recorded, ok := b.SchemaArtifacts.Lanes[lane]
		if !ok {
			return fmt.Errorf("%w: lane %s has no recorded digest", ErrArtifactHashMismatch, lane)
		}
		if recorded.Hash != computed[lane].Hash {
			return fmt.Errorf("%w: lane %s recorded %s, computed %s", ErrArtifactHashMismatch, lane, recorded.Hash, computed[lane].Hash)
		}
	}
	return nil
}

// MarshalBundle serializes a sealed bundle as indented JSON for storage.
// The indentation is cosmetic: ParseBundle re-canonicalizes before hashing.
func MarshalBundle(b *Bundle) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// ParseBundle decodes and verifies a bundle. Unknown fields are rejected and
// any hash mismatch is a hard failure; no partially trusted bundle is ever
// returned.
func ParseBundle(data []byte) (*Bundle, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	if b.ArtifactVersion != ArtifactVersion {
		return nil, fmt.Errorf("parse bundle: unsupported artifactVersion %q (want %q)", b.ArtifactVersion, ArtifactVersion)
	}
	if err := VerifyBundleHash(&b); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	return &b, nil
}
