// Package accum implements the per-round mutable state the session engine
// folds message processing results into (spec.md §4.4): who is still
// expected, who is mid-flight, accepted payloads and artifacts, the
// broadcasts needed to build an echo pack, and the faults that rule out
// ever reaching quorum.
package accum

import (
	"sync"

	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
)

// CanFinalize is the three-valued answer to "can this round finalize now"
// (spec.md §4.4): Yes (quorum already met), NotYet (still possible), or
// Never (some already-faulted sender makes quorum unreachable even in the
// best remaining case).
type CanFinalize int

const (
	CanFinalizeNotYet CanFinalize = iota
	CanFinalizeYes
	CanFinalizeNever
)

func (c CanFinalize) String() string {
	switch c {
	case CanFinalizeYes:
		return "yes"
	case CanFinalizeNever:
		return "never"
	default:
		return "not-yet"
	}
}

// Accumulator is the mutable state for a single round. It is safe for
// concurrent MarkProcessing/Unmark calls from a worker pool; the result of
// each processed message must still be folded in by AddProcessedMessage
// from a single goroutine at a time (the session engine does this
// serially after each pool task completes — see pkg/session).
type Accumulator struct {
	mu sync.Mutex

	roundID   round.RoundID
	comm      round.CommunicationInfo
	expecting party.IDSlice

	inProgress map[party.ID]struct{}
	payloads   map[party.ID]round.Payload
	artifacts  map[party.ID]round.Artifact

	directMessages   map[party.ID]round.SignedMessage
	echoBroadcasts   map[party.ID]round.SignedMessage
	normalBroadcasts map[party.ID]round.SignedMessage

	faults map[party.ID]error

	cached map[party.ID][]round.SignedMessage
}

// New returns an empty Accumulator for the given round.
func New(roundID round.RoundID, comm round.CommunicationInfo, expecting party.IDSlice) *Accumulator {
	return &Accumulator{
		roundID:          roundID,
		comm:             comm,
		expecting:        expecting,
		inProgress:       make(map[party.ID]struct{}),
		payloads:         make(map[party.ID]round.Payload),
		artifacts:        make(map[party.ID]round.Artifact),
		directMessages:   make(map[party.ID]round.SignedMessage),
		echoBroadcasts:   make(map[party.ID]round.SignedMessage),
		normalBroadcasts: make(map[party.ID]round.SignedMessage),
		faults:           make(map[party.ID]error),
		cached:           make(map[party.ID][]round.SignedMessage),
	}
}

// MarkProcessing claims sender for processing. It returns false if sender
// already has an accepted payload, a recorded fault, or is already being
// processed by another in-flight task — the caller must treat that as a
// message to drop, not to process twice.
func (a *Accumulator) MarkProcessing(sender party.ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, done := a.payloads[sender]; done {
		return false
	}
	if _, faulted := a.faults[sender]; faulted {
		return false
	}
	if _, active := a.inProgress[sender]; active {
		return false
	}
	a.inProgress[sender] = struct{}{}
	return true
}

// UnmarkProcessing releases the claim taken by MarkProcessing, whether or
// not processing succeeded.
func (a *Accumulator) UnmarkProcessing(sender party.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inProgress, sender)
}

// AddProcessedMessage records a successfully processed sender's payload
// together with whichever signed parts were present, for later echo-pack
// construction and evidence attachment.
func (a *Accumulator) AddProcessedMessage(sender party.ID, payload round.Payload, direct, echo, normal *round.SignedMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.payloads[sender] = payload
	if direct != nil {
		a.directMessages[sender] = *direct
	}
	if echo != nil {
		a.echoBroadcasts[sender] = *echo
	}
	if normal != nil {
		a.normalBroadcasts[sender] = *normal
	}
	delete(a.inProgress, sender)
}

// AddArtifact records the artifact produced alongside the direct message
// this party sent to dest.
func (a *Accumulator) AddArtifact(dest party.ID, artifact round.Artifact) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.artifacts[dest] = artifact
}

// RecordFault marks sender as faulted for this round: they will never
// contribute an accepted payload, which CanFinalize must account for.
func (a *Accumulator) RecordFault(sender party.ID, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults[sender] = err
	delete(a.inProgress, sender)
}

// Faults returns a copy of the faults recorded so far this round.
func (a *Accumulator) Faults() map[party.ID]error {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[party.ID]error, len(a.faults))
	for id, err := range a.faults {
		out[id] = err
	}
	return out
}

// CacheMessage stashes a signed message that arrived for a round other
// than the one this accumulator tracks, to be replayed once that round
// becomes current (spec.md §4.5 "next-round message caching").
func (a *Accumulator) CacheMessage(sender party.ID, msg round.SignedMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached[sender] = append(a.cached[sender], msg)
}

// TakeCached returns and clears every message cached for sender.
func (a *Accumulator) TakeCached(sender party.ID) []round.SignedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.cached[sender]
	delete(a.cached, sender)
	return out
}

// CanFinalize reports whether this round's quorum is met, could still be
// met, or can never be met given the faults recorded so far.
func (a *Accumulator) CanFinalize() CanFinalize {
	a.mu.Lock()
	defer a.mu.Unlock()

	responded := make(map[party.ID]struct{}, len(a.payloads))
	for id := range a.payloads {
		responded[id] = struct{}{}
	}
	quorum := a.comm.Quorum
	if quorum == nil {
		quorum = round.AllOf
	}
	if quorum(a.expecting, responded) {
		return CanFinalizeYes
	}

	bestCase := make(map[party.ID]struct{}, len(a.expecting))
	for id := range responded {
		bestCase[id] = struct{}{}
	}
	for _, id := range a.expecting {
		if _, faulted := a.faults[id]; faulted {
			continue
		}
		bestCase[id] = struct{}{}
	}
	if !quorum(a.expecting, bestCase) {
		return CanFinalizeNever
	}
	return CanFinalizeNotYet
}

// Payloads returns a copy of the accepted payloads, keyed by sender.
func (a *Accumulator) Payloads() map[party.ID]round.Payload {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[party.ID]round.Payload, len(a.payloads))
	for id, p := range a.payloads {
		out[id] = p
	}
	return out
}

// Artifacts returns a copy of the recorded artifacts, keyed by
// destination.
func (a *Accumulator) Artifacts() map[party.ID]round.Artifact {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[party.ID]round.Artifact, len(a.artifacts))
	for id, art := range a.artifacts {
		out[id] = art
	}
	return out
}

// EchoBroadcasts returns a copy of the echo broadcasts received so far,
// keyed by sender — the raw material for building this round's echo pack.
func (a *Accumulator) EchoBroadcasts() map[party.ID]round.SignedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[party.ID]round.SignedMessage, len(a.echoBroadcasts))
	for id, m := range a.echoBroadcasts {
		out[id] = m
	}
	return out
}

// DirectMessage returns the signed direct message received from sender,
// if any, for evidence attachment.
func (a *Accumulator) DirectMessage(sender party.ID) (round.SignedMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.directMessages[sender]
	return m, ok
}

// NormalBroadcast returns the signed normal broadcast received from
// sender, if any.
func (a *Accumulator) NormalBroadcast(sender party.ID) (round.SignedMessage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.normalBroadcasts[sender]
	return m, ok
}

// DirectMessages returns a copy of every direct message received so far,
// keyed by sender — the raw material for a transcript round record.
func (a *Accumulator) DirectMessages() map[party.ID]round.SignedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[party.ID]round.SignedMessage, len(a.directMessages))
	for id, m := range a.directMessages {
		out[id] = m
	}
	return out
}

// NormalBroadcasts returns a copy of every normal broadcast received so
// far, keyed by sender — the raw material for a transcript round record.
func (a *Accumulator) NormalBroadcasts() map[party.ID]round.SignedMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[party.ID]round.SignedMessage, len(a.normalBroadcasts))
	for id, m := range a.normalBroadcasts {
		out[id] = m
	}
	return out
}

// Missing returns the senders this round expected but who neither produced
// an accepted payload nor a recorded fault: peers who simply never sent
// anything by the time this round finalized (spec.md §3 "missing-sender
// set").
func (a *Accumulator) Missing() party.IDSlice {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(party.IDSlice, 0)
	for _, id := range a.expecting {
		if _, ok := a.payloads[id]; ok {
			continue
		}
		if _, ok := a.faults[id]; ok {
			continue
		}
		out = append(out, id)
	}
	return out
}

// RoundID returns the round this accumulator tracks.
func (a *Accumulator) RoundID() round.RoundID { return a.roundID }
