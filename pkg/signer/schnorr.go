package signer

import (
	"errors"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v3"

	"github.com/taurusgroup/byzantine-protocol/pkg/hash"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
)

// Schnorr is a secp256k1 Schnorr Signer, used by tests and the demo
// protocol in example/simple. The challenge-response structure mirrors the
// Schnorr proof of knowledge the teacher implements for zero-knowledge
// proofs (pkg/zk/sch), turned into a plain signature scheme: the public
// value being proven is the digest itself rather than a protocol artifact.
//
// This is demonstration code. The core engine never uses this type; it
// only depends on the Signer/Verifier interfaces.
type Schnorr struct {
	id   party.ID
	priv *secp256k1.PrivateKey
}

// NewSchnorr generates a fresh keypair bound to id.
func NewSchnorr(id party.ID) (*Schnorr, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	return &Schnorr{id: id, priv: priv}, nil
}

func (s *Schnorr) ID() party.ID { return s.id }

// PublicKey returns the compressed public key, to be distributed to peers
// so they can construct a matching entry in a SchnorrVerifier.
func (s *Schnorr) PublicKey() []byte {
	return s.priv.PubKey().SerializeCompressed()
}

// Sign produces a detached 96-byte signature (R.x || R.y || s) over digest.
func (s *Schnorr) Sign(digest []byte) ([]byte, error) {
	nonceHash := hash.New()
	if err := nonceHash.WriteBytes("schnorr-nonce-key", s.priv.Serialize()); err != nil {
		return nil, err
	}
	if err := nonceHash.WriteBytes("schnorr-nonce-msg", digest); err != nil {
		return nil, err
	}

	var k secp256k1.ModNScalar
	k.SetBytes(arr32(nonceHash.Sum()))
	if k.IsZero() {
		return nil, errors.New("signer: degenerate nonce")
	}

	var r secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&k, &r)
	r.ToAffine()

	pub := s.priv.PubKey()
	e := challenge(&r, pub, digest)

	var d secp256k1.ModNScalar
	d.SetByteSlice(s.priv.Serialize())

	var ed secp256k1.ModNScalar
	ed.Mul2(&e, &d)
	var sig secp256k1.ModNScalar
	sig.Add2(&k, &ed)

	out := make([]byte, 0, 96)
	out = append(out, fieldBytes(&r.X)...)
	out = append(out, fieldBytes(&r.Y)...)
	out = append(out, scalarBytes(&sig)...)
	return out, nil
}

// SchnorrVerifier checks Schnorr signatures produced by Schnorr, keyed by
// the party ID whose public key was registered.
type SchnorrVerifier struct {
	keys map[party.ID]*secp256k1.PublicKey
}

// NewSchnorrVerifier returns an empty verifier; call Register for every
// party whose signatures must be checked.
func NewSchnorrVerifier() *SchnorrVerifier {
	return &SchnorrVerifier{keys: make(map[party.ID]*secp256k1.PublicKey)}
}

// Register associates id with a compressed public key, as produced by
// Schnorr.PublicKey.
func (v *SchnorrVerifier) Register(id party.ID, compressedPubKey []byte) error {
	pub, err := secp256k1.ParsePubKey(compressedPubKey)
	if err != nil {
		return err
	}
	v.keys[id] = pub
	return nil
}

// Verify reports whether signature is a valid Schnorr signature by id over
// digest.
func (v *SchnorrVerifier) Verify(id party.ID, digest []byte, signature []byte) bool {
	pub, ok := v.keys[id]
	if !ok || len(signature) != 96 {
		return false
	}

	var r secp256k1.JacobianPoint
	r.X.SetBytes(arr32(signature[0:32]))
	r.Y.SetBytes(arr32(signature[32:64]))
	r.Z.SetInt(1)

	var s secp256k1.ModNScalar
	s.SetBytes(arr32(signature[64:96]))

	e := challenge(&r, pub, digest)

	var sG secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&s, &sG)

	var pubJacobian secp256k1.JacobianPoint
	pub.AsJacobian(&pubJacobian)

	var eP secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&e, &pubJacobian, &eP)

	var rhs secp256k1.JacobianPoint
	secp256k1.AddNonConst(&r, &eP, &rhs)

	sG.ToAffine()
	rhs.ToAffine()

	return sG.X.Equals(&rhs.X) && sG.Y.Equals(&rhs.Y)
}

func challenge(r *secp256k1.JacobianPoint, pub *secp256k1.PublicKey, digest []byte) secp256k1.ModNScalar {
	h := hash.New()
	_ = h.WriteBytes("schnorr-challenge-Rx", fieldBytes(&r.X))
	_ = h.WriteBytes("schnorr-challenge-Ry", fieldBytes(&r.Y))
	_ = h.WriteBytes("schnorr-challenge-Px", fieldBytes(&pub.X))
	_ = h.WriteBytes("schnorr-challenge-Py", fieldBytes(&pub.Y))
	_ = h.WriteBytes("schnorr-challenge-m", digest)

	var e secp256k1.ModNScalar
	e.SetBytes(arr32(h.Sum()))
	return e
}

func fieldBytes(f *secp256k1.FieldVal) []byte {
	b := f.Bytes()
	return b[:]
}

func scalarBytes(s *secp256k1.ModNScalar) []byte {
	b := s.Bytes()
	return b[:]
}

func arr32(b []byte) *[32]byte {
	var out [32]byte
	copy(out[:], b)
	return &out
}
