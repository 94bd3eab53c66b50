package round

import "github.com/taurusgroup/byzantine-protocol/pkg/party"

// The three error shapes a Round's ReceiveMessage or Finalize may return,
// per spec.md §4.6 and SPEC_FULL.md's error taxonomy: Local aborts the
// whole session with no attribution, Unprovable bans the sender locally
// with no evidence other peers would accept, and a ProvableError bans the
// sender and produces Evidence any peer can independently check.

// LocalError signals a bug or local-environment failure (I/O, RNG
// exhaustion): the session aborts and nothing is attributed to any peer.
type LocalError struct {
	Err error
}

func (e *LocalError) Error() string { return "local error: " + e.Err.Error() }
func (e *LocalError) Unwrap() error { return e.Err }

// UnprovableError signals that the local party is convinced a peer
// misbehaved, but cannot construct evidence a third party would accept
// (e.g. the party failed to respond at all). The sender is banned for
// the rest of this session only.
type UnprovableError struct {
	Reason string
}

func (e *UnprovableError) Error() string { return "unprovable fault: " + e.Reason }

// ProvableError is returned by ReceiveMessage or Finalize when a round
// detects a fault it can justify to any third party holding the same
// signed messages. The engine wraps it together with those messages into
// an Evidence value (spec.md §4.6).
type ProvableError interface {
	error

	// RequiredMessages declares which signed message parts — from this
	// round, from earlier rounds, or combined echo packs — the fault needs
	// for VerifyEvidence to be replayed without any other party-local
	// state. The session engine attaches only the ThisRound parts to the
	// resulting Evidence; PreviousRounds and CombinedEchos are not
	// attached.
	RequiredMessages() RequiredMessages

	// VerifyEvidence replays the fault check using only the attached
	// messages, shared randomness, and shared protocol data (no
	// party-local secrets). It must return nil exactly when the fault it
	// claims genuinely holds.
	VerifyEvidence(roundID RoundID, guilty party.ID, sharedRandomness []byte, sharedData interface{}, messages EvidenceMessages) error
}

// RequiredMessageParts selects which of a round's three slots an Evidence
// must attach for a given RoundID.
type RequiredMessageParts struct {
	Direct          bool
	EchoBroadcast   bool
	NormalBroadcast bool
}

// DirectMessagePart requires the direct message slot.
func DirectMessagePart() RequiredMessageParts { return RequiredMessageParts{Direct: true} }

// EchoBroadcastPart requires the echo broadcast slot.
func EchoBroadcastPart() RequiredMessageParts { return RequiredMessageParts{EchoBroadcast: true} }

// NormalBroadcastPart requires the normal broadcast slot.
func NormalBroadcastPart() RequiredMessageParts { return RequiredMessageParts{NormalBroadcast: true} }

// And merges in another slot requirement.
func (r RequiredMessageParts) And(other RequiredMessageParts) RequiredMessageParts {
	return RequiredMessageParts{
		Direct:          r.Direct || other.Direct,
		EchoBroadcast:   r.EchoBroadcast || other.EchoBroadcast,
		NormalBroadcast: r.NormalBroadcast || other.NormalBroadcast,
	}
}

// IsEmpty reports whether no slot is required.
func (r RequiredMessageParts) IsEmpty() bool {
	return !r.Direct && !r.EchoBroadcast && !r.NormalBroadcast
}

// RequiredMessages is the full set of signed messages an Evidence for a
// ProvableError must attach.
type RequiredMessages struct {
	ThisRound      RequiredMessageParts
	PreviousRounds map[RoundID]RequiredMessageParts
	CombinedEchos  map[RoundID]bool
}

// WithPreviousRound declares that parts of an earlier round must also be
// attached.
func (r RequiredMessages) WithPreviousRound(id RoundID, parts RequiredMessageParts) RequiredMessages {
	if r.PreviousRounds == nil {
		r.PreviousRounds = make(map[RoundID]RequiredMessageParts)
	}
	r.PreviousRounds[id] = r.PreviousRounds[id].And(parts)
	return r
}

// WithCombinedEcho declares that the full cross-checked echo pack for id
// must be attached.
func (r RequiredMessages) WithCombinedEcho(id RoundID) RequiredMessages {
	if r.CombinedEchos == nil {
		r.CombinedEchos = make(map[RoundID]bool)
	}
	r.CombinedEchos[id] = true
	return r
}

// EvidenceMessages gives a ProvableError's VerifyEvidence read access to
// the signed messages an Evidence attached, already identified as
// belonging to the accused party (the engine checks every attached
// message's signature before calling VerifyEvidence — spec.md §4.6 step
// 2).
type EvidenceMessages struct {
	ThisRound         MessageParts
	ThisRoundMetadata Metadata
	PreviousRounds    map[RoundID]MessageParts
	CombinedEchos     map[RoundID]map[party.ID]MessagePart
}
