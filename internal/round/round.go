// Package round holds the protocol-author contract described in spec.md
// §4.1: the Round interface every protocol round implements, the
// transition/communication metadata the session engine uses to drive the
// round graph, and the message-part / signing / evidence machinery that
// makes every deviation from that contract attributable.
//
// This package is intentionally free of any concrete protocol: it is the
// load-bearing "core" of spec.md §1, imported by the session engine in
// pkg/session and by every protocol author.
package round

import (
	"io"

	"github.com/taurusgroup/byzantine-protocol/pkg/party"
)

// RoundID identifies a round's position in the protocol graph: a small
// integer number, an echo flag distinguishing the auto-inserted echo
// sub-round from the round that produced it, and an optional group prefix
// used when a sub-protocol is composed into a larger one (spec.md §3,
// §9 "Round grouping").
type RoundID struct {
	group  string
	number uint8
	echo   bool
}

// NewRoundID returns the (non-echo, ungrouped) id for round number n.
func NewRoundID(n uint8) RoundID {
	return RoundID{number: n}
}

// Number returns the round number.
func (r RoundID) Number() uint8 { return r.number }

// IsEcho reports whether this id names the echo sub-round following the
// round of the same number.
func (r RoundID) IsEcho() bool { return r.echo }

// Echo returns the id of the echo sub-round following r.
func (r RoundID) Echo() RoundID {
	r.echo = true
	return r
}

// NonEcho returns the id of the round that produced this echo sub-round.
func (r RoundID) NonEcho() RoundID {
	r.echo = false
	return r
}

// GroupUnder nests r under a named group, for composing this round graph
// as a sub-protocol of a larger one.
func (r RoundID) GroupUnder(group string) RoundID {
	if r.group == "" {
		r.group = group
	} else {
		r.group = group + "/" + r.group
	}
	return r
}

// String renders a RoundID for logging and as a map/hash key component.
func (r RoundID) String() string {
	s := ""
	if r.group != "" {
		s += r.group + ":"
	}
	s += itoa(r.number)
	if r.echo {
		s += "e"
	}
	return s
}

func itoa(n uint8) string {
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// TransitionInfo describes this round's position in the state transition
// graph (spec.md §4.1). PossibleNextRound must be a superset of the ids
// the round actually returns from Finalize at runtime: the engine uses it
// to decide whether an out-of-order message should be cached or rejected.
type TransitionInfo struct {
	ID                RoundID
	PossibleNextRound []RoundID
	MayProduceResult  bool
}

// IsPossibleNext reports whether id is among the round's declared possible
// successors.
func (t TransitionInfo) IsPossibleNext(id RoundID) bool {
	for _, next := range t.PossibleNextRound {
		if next == id {
			return true
		}
	}
	return false
}

// EchoParticipationKind selects how a round participates in the echo
// sub-round that follows it, for rounds where not every party both sends
// and receives echo broadcasts (spec.md §4.1, SPEC_FULL.md §4).
type EchoParticipationKind int

const (
	// EchoDefault is correct when every node sends echo broadcasts to
	// every other one, or the round does not use echo broadcasts at all.
	EchoDefault EchoParticipationKind = iota
	// EchoSendOnly means this node's echo broadcast must be cross-checked
	// by others, but it does not itself receive or check anyone else's.
	EchoSendOnly
	// EchoReceiveOnly means this node cross-checks echoes from Targets
	// but does not send one of its own.
	EchoReceiveOnly
	// EchoNone disables echo-round participation entirely for this node,
	// even if the round produces an echo broadcast for others.
	EchoNone
)

// EchoParticipation is the value type describing the above.
type EchoParticipation struct {
	Kind    EchoParticipationKind
	Targets party.IDSlice // only meaningful when Kind == EchoReceiveOnly
}

// QuorumFunc decides whether a round can finalize given the set of senders
// whose payload has been accepted so far. The default (AllOf) requires
// every expected sender to have responded; threshold protocols may supply
// a k-of-n predicate instead (spec.md §9 "Quorum").
type QuorumFunc func(expecting party.IDSlice, responded map[party.ID]struct{}) bool

// AllOf is the default, non-threshold quorum: every expected sender must
// have an accepted payload.
func AllOf(expecting party.IDSlice, responded map[party.ID]struct{}) bool {
	for _, id := range expecting {
		if _, ok := responded[id]; !ok {
			return false
		}
	}
	return true
}

// ThresholdOf builds a QuorumFunc requiring at least t+1 of the expected
// senders to have responded.
func ThresholdOf(t int) QuorumFunc {
	return func(expecting party.IDSlice, responded map[party.ID]struct{}) bool {
		count := 0
		for _, id := range expecting {
			if _, ok := responded[id]; ok {
				count++
			}
		}
		return count >= t+1
	}
}

// CommunicationInfo describes the messages a round sends and expects
// (spec.md §4.1).
type CommunicationInfo struct {
	MessageDestinations   party.IDSlice
	ExpectingMessagesFrom party.IDSlice
	Quorum                QuorumFunc
	EchoParticipation     EchoParticipation
}

// Regular builds the common case: send to and expect from every other
// party, default echo participation, all-or-nothing quorum.
func Regular(otherParties party.IDSlice) CommunicationInfo {
	return CommunicationInfo{
		MessageDestinations:   otherParties,
		ExpectingMessagesFrom: otherParties,
		Quorum:                AllOf,
		EchoParticipation:     EchoParticipation{Kind: EchoDefault},
	}
}

// Payload is party-local state derived from a received message, consumed
// at Finalize. Its concrete type is known only to the round that produced
// it.
type Payload interface{}

// Artifact is party-local state produced alongside an outgoing direct
// message, consumed at Finalize.
type Artifact interface{}

// FinalizeOutcome is what Round.Finalize returns on success: either a
// transition to another round, or a terminal protocol result.
type FinalizeOutcome struct {
	next   Round
	result interface{}
	isDone bool
}

// AnotherRound wraps the next round to transition to.
func AnotherRound(next Round) FinalizeOutcome {
	return FinalizeOutcome{next: next}
}

// Result wraps the terminal protocol result.
func Result(value interface{}) FinalizeOutcome {
	return FinalizeOutcome{result: value, isDone: true}
}

// IsResult reports whether this outcome carries a terminal result.
func (f FinalizeOutcome) IsResult() bool { return f.isDone }

// NextRound returns the round to transition to; only valid if !IsResult().
func (f FinalizeOutcome) NextRound() Round { return f.next }

// ResultValue returns the terminal result; only valid if IsResult().
func (f FinalizeOutcome) ResultValue() interface{} { return f.result }

// MessageParts bundles the three message-part shapes delivered to
// ReceiveMessage for a single sender in a single round.
type MessageParts struct {
	Direct          MessagePart
	EchoBroadcast   MessagePart
	NormalBroadcast MessagePart
}

// Round is the per-round interface a protocol author implements
// (spec.md §4.1). A round may assume: message authenticity (signature
// verified by the engine), metadata matching this round, senders within
// CommunicationInfo().ExpectingMessagesFrom, and at most one payload per
// sender.
type Round interface {
	TransitionInfo() TransitionInfo
	CommunicationInfo() CommunicationInfo

	// MakeDirectMessage returns the direct message for dest and the
	// artifact to retain until Finalize. Return a none MessagePart and a
	// nil artifact if this round sends no direct messages; this must be
	// consistent across every destination.
	MakeDirectMessage(rng io.Reader, dest party.ID) (MessagePart, Artifact, error)

	// MakeEchoBroadcast returns the echo broadcast for this round, or a
	// none MessagePart if this round has none. Returning a non-none part
	// schedules an echo sub-round automatically after this one.
	MakeEchoBroadcast(rng io.Reader) (MessagePart, error)

	// MakeNormalBroadcast returns the normal broadcast for this round, or
	// a none MessagePart if this round has none.
	MakeNormalBroadcast(rng io.Reader) (MessagePart, error)

	// ReceiveMessage validates and processes one sender's contribution.
	// The returned error, if any, should be a *LocalError, an
	// *UnprovableError, or a ProvableError value — see errors.go.
	ReceiveMessage(from party.ID, parts MessageParts) (Payload, error)

	// Finalize consumes this round's accumulated payloads and artifacts
	// and produces the next round or a terminal result.
	Finalize(rng io.Reader, payloads map[party.ID]Payload, artifacts map[party.ID]Artifact) (FinalizeOutcome, error)
}
