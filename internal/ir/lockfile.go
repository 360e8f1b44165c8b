package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Lockfile pins the providers a deployment may use. LockHash, when present,
// is the StableHash of the lockfile with LockHash cleared.
type Lockfile struct {
	AppID          string           `json:"appId" yaml:"appId"`
	Environment    string           `json:"environment" yaml:"environment"`
	HostAPIVersion string           `json:"hostApiVersion" yaml:"hostApiVersion"`
	Providers      []LockedProvider `json:"providers" yaml:"providers"`
	LockHash       string           `json:"lockHash,omitempty" yaml:"lockHash,omitempty"`
}

// LockedProvider is one pinned provider build.
type LockedProvider struct {
	ProviderID      string             `json:"providerId" yaml:"providerId"`
	ProviderVersion string             `json:"providerVersion" yaml:"providerVersion"`
	Integrity       string             `json:"integrity" yaml:"integrity"`
	Capabilities    []LockedCapability `json:"capabilities" yaml:"capabilities"`
}

// LockedCapability is a capability port a locked provider implements.
type LockedCapability struct {
	PortID       string `json:"portId" yaml:"portId"`
	PortVersion  string `json:"portVersion" yaml:"portVersion"`
	ContractHash string `json:"contractHash" yaml:"contractHash"`
}

// ComputeLockHash hashes the lockfile with LockHash cleared.
func ComputeLockHash(l *Lockfile) (string, error) {
	unsealed := *l
	unsealed.LockHash = ""
	h, err := StableHash(unsealed)
	if err != nil {
		return "", fmt.Errorf("compute lock hash: %w", err)
	}
	return h, nil
}

// SealLockfile stamps l.LockHash.
func SealLockfile(l *Lockfile) error {
	h, err := ComputeLockHash(l)
	if err != nil {
		return err
	}
	l.LockHash = h
	return nil
}

// ParseLockfile decodes a JSON lockfile. If it carries a lockHash, the hash
// is verified; a mismatch is a hard failure.
func ParseLockfile(data []byte) (*Lockfile, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var l Lockfile
	if err := dec.Decode(&l); err != nil {
		return nil, fmt.Errorf("parse lockfile: %w", err)
	}
	if l.LockHash != "" {
		h, err := ComputeLockHash(&l)
		if err != nil {
			return nil, fmt.Errorf("parse lockfile: %w", err)
		}
		if h != l.LockHash {
			return nil, fmt.Errorf("parse lockfile: %w: recorded %s, computed %s", ErrArtifactHashMismatch, l.LockHash, h)
		}
	}
	return &l, nil
}
