package round

import (
	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/hash"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
	"github.com/taurusgroup/byzantine-protocol/pkg/signer"
)

// MessagePart is the absent-or-present payload of one message slot
// (direct, echo broadcast, or normal broadcast). The distinction between
// "no part" and "an empty part" is load-bearing: a round that declares a
// slot absent for every sender but receives a present (even zero-length)
// one from some sender has been sent a message outside the round's
// contract, which is evidence of a fault (spec.md §4.1, §4.6).
type MessagePart struct {
	present bool
	bytes   []byte
}

// NoMessage is the absent value for a message slot.
func NoMessage() MessagePart { return MessagePart{} }

// EncodePart serializes v with c and wraps it as a present MessagePart.
func EncodePart(c codec.Codec, v interface{}) (MessagePart, error) {
	b, err := c.Serialize(v)
	if err != nil {
		return MessagePart{}, err
	}
	return MessagePart{present: true, bytes: b}, nil
}

// RawPart wraps already-serialized bytes as a present MessagePart.
func RawPart(b []byte) MessagePart {
	return MessagePart{present: true, bytes: b}
}

// IsNone reports whether this slot is absent.
func (p MessagePart) IsNone() bool { return !p.present }

// Bytes returns the raw serialized bytes, or nil if IsNone.
func (p MessagePart) Bytes() []byte { return p.bytes }

// Decode deserializes the part's bytes with c into out. It is an error to
// call Decode on an absent part.
func (p MessagePart) Decode(c codec.Codec, out interface{}) error {
	if !p.present {
		return &LocalError{Err: errString("round: Decode called on an absent message part")}
	}
	return c.Deserialize(p.bytes, out)
}

type errString string

func (e errString) Error() string { return string(e) }

// PartKind distinguishes the three message slots for signing purposes.
type PartKind uint8

const (
	PartDirect PartKind = iota
	PartEchoBroadcast
	PartNormalBroadcast
)

// Metadata identifies where a signed message part belongs: which session,
// which round, who sent it, and — for direct messages only — who it was
// addressed to (spec.md §4.2).
type Metadata struct {
	SessionID   []byte
	RoundID     RoundID
	Sender      party.ID
	Destination party.ID // empty unless Kind == PartDirect
}

// SignedMessage is a message part together with the metadata and detached
// signature that make it a self-contained, replayable unit of evidence
// (spec.md §3, §4.2).
type SignedMessage struct {
	Metadata  Metadata
	Kind      PartKind
	Part      MessagePart
	Signature []byte
}

// preHash computes the domain-separated digest that gets signed: the
// session id, round id, sender, destination (if any), slot kind and part bytes
// (if present) are each written under their own domain tag, so that no
// combination of attacker-chosen field values can be reinterpreted as a
// different message (see pkg/hash and SPEC_FULL.md §2).
func preHash(meta Metadata, kind PartKind, part MessagePart) ([]byte, error) {
	h := hash.New()
	if err := h.WriteBytes("signed-message-session-id", meta.SessionID); err != nil {
		return nil, err
	}
	if err := h.WriteBytes("signed-message-round-id", []byte(meta.RoundID.String())); err != nil {
		return nil, err
	}
	if err := h.WriteBytes("signed-message-sender", []byte(meta.Sender)); err != nil {
		return nil, err
	}
	if err := h.WriteBytes("signed-message-destination", []byte(meta.Destination)); err != nil {
		return nil, err
	}
	if err := h.WriteBytes("signed-message-kind", []byte{byte(kind)}); err != nil {
		return nil, err
	}
	if part.IsNone() {
		if err := h.WriteBytes("signed-message-part-absent", nil); err != nil {
			return nil, err
		}
	} else {
		if err := h.WriteBytes("signed-message-part-present", part.Bytes()); err != nil {
			return nil, err
		}
	}
	return h.Sum(), nil
}

// Sign builds a SignedMessage over part, signed by s.
func Sign(s signer.Signer, meta Metadata, kind PartKind, part MessagePart) (SignedMessage, error) {
	meta.Sender = s.ID()
	digest, err := preHash(meta, kind, part)
	if err != nil {
		return SignedMessage{}, err
	}
	sig, err := s.Sign(digest)
	if err != nil {
		return SignedMessage{}, err
	}
	return SignedMessage{Metadata: meta, Kind: kind, Part: part, Signature: sig}, nil
}

// Verify reports whether the message's signature is valid for its claimed
// sender, under v's view of the world.
func (m SignedMessage) Verify(v signer.Verifier) bool {
	digest, err := preHash(m.Metadata, m.Kind, m.Part)
	if err != nil {
		return false
	}
	return v.Verify(m.Metadata.Sender, digest, m.Signature)
}

// Bundle is the full set of signed parts a sender produces in one round:
// one per destination's direct message, plus one shared echo broadcast and
// one shared normal broadcast (identical, bitwise, across every
// destination — spec.md §4.2 "echo consistency is signature-enforced").
type Bundle struct {
	Directs         map[party.ID]SignedMessage
	EchoBroadcast   *SignedMessage
	NormalBroadcast *SignedMessage
}
