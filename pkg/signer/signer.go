// Package signer defines the signing plug-in contract (spec.md §6) and
// ships a concrete secp256k1 Schnorr implementation for tests and the demo
// protocol in example/simple. Production embedders are expected to supply
// their own Signer/Verifier backed by whatever key material they manage;
// the core uses only the Signer/Verifier interfaces from this package,
// never the Schnorr implementation.
package signer

import "github.com/taurusgroup/byzantine-protocol/pkg/party"

// Signer produces a detached signature over a pre-hashed digest. Sign must
// be deterministic for a given (key, digest) pair is not required, but
// Verify must always agree with a signature produced by the matching
// Signer.
type Signer interface {
	ID() party.ID
	Sign(digest []byte) ([]byte, error)
}

// Verifier checks a detached signature produced by the Signer belonging to
// verifierID.
type Verifier interface {
	Verify(verifierID party.ID, digest []byte, signature []byte) bool
}
