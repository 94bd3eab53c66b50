// Package echo implements the echo sub-round the session engine inserts
// automatically after any round whose MakeEchoBroadcast returns a
// present part (spec.md §4.3). Every party redistributes the full set of
// echo broadcasts it received as its normal broadcast for this sub-round;
// every recipient then cross-checks that everyone saw byte-identical
// broadcasts from every sender, producing InvalidEchoPack or
// MismatchedBroadcasts evidence on any discrepancy.
package echo

import (
	"bytes"
	"io"

	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
	"github.com/taurusgroup/byzantine-protocol/pkg/signer"
)

// Pack is the wire shape of an echo round's normal broadcast: everything
// this party directly received as echo broadcasts in the round being
// verified, keyed by original sender.
type Pack map[party.ID]round.SignedMessage

// Round wraps the round whose echo broadcasts are being cross-checked. It
// is itself a round.Round, installed by the session engine as
// innerRoundID.Echo().
type Round struct {
	inner        round.Round
	innerID      round.RoundID
	myID         party.ID
	received     Pack // what this party saw directly in the inner round
	expecting    party.IDSlice
	sendPack     bool
	checkOthers  bool
	checkTargets party.IDSlice // nil means check all of `expecting`
	codec        codec.Codec
	verifier     signer.Verifier

	innerPayloads  map[party.ID]round.Payload
	innerArtifacts map[party.ID]round.Artifact
}

// New builds the echo sub-round following inner, given what this party
// directly received as echo broadcasts and the already-accumulated
// payloads/artifacts from the inner round, which Finalize will pass
// straight through to inner.Finalize once every pack checks out.
func New(
	inner round.Round,
	innerID round.RoundID,
	myID party.ID,
	received Pack,
	expecting party.IDSlice,
	participation round.EchoParticipation,
	c codec.Codec,
	v signer.Verifier,
	innerPayloads map[party.ID]round.Payload,
	innerArtifacts map[party.ID]round.Artifact,
) *Round {
	r := &Round{
		inner:          inner,
		innerID:        innerID,
		myID:           myID,
		received:       received,
		expecting:      expecting,
		sendPack:       true,
		checkOthers:    true,
		codec:          c,
		verifier:       v,
		innerPayloads:  innerPayloads,
		innerArtifacts: innerArtifacts,
	}
	switch participation.Kind {
	case round.EchoSendOnly:
		r.checkOthers = false
	case round.EchoReceiveOnly:
		r.sendPack = false
		r.checkTargets = participation.Targets
	case round.EchoNone:
		r.sendPack = false
		r.checkOthers = false
	}
	return r
}

func (r *Round) checkSet() party.IDSlice {
	if r.checkTargets != nil {
		return r.checkTargets
	}
	return r.expecting
}

// TransitionInfo mirrors the inner round's declared transitions: once
// cross-checking passes, the echo round delegates straight to
// inner.Finalize, so it can reach exactly the states inner could.
func (r *Round) TransitionInfo() round.TransitionInfo {
	inner := r.inner.TransitionInfo()
	return round.TransitionInfo{
		ID:                r.innerID.Echo(),
		PossibleNextRound: inner.PossibleNextRound,
		MayProduceResult:  inner.MayProduceResult,
	}
}

func (r *Round) CommunicationInfo() round.CommunicationInfo {
	dests := r.expecting
	expecting := party.IDSlice(nil)
	if r.checkOthers {
		expecting = r.checkSet()
	}
	if !r.sendPack {
		dests = nil
	}
	return round.CommunicationInfo{
		MessageDestinations:   dests,
		ExpectingMessagesFrom: expecting,
		Quorum:                round.AllOf,
		EchoParticipation:     round.EchoParticipation{Kind: round.EchoNone},
	}
}

func (r *Round) MakeDirectMessage(rng io.Reader, dest party.ID) (round.MessagePart, round.Artifact, error) {
	return round.NoMessage(), nil, nil
}

func (r *Round) MakeEchoBroadcast(rng io.Reader) (round.MessagePart, error) {
	return round.NoMessage(), nil
}

func (r *Round) MakeNormalBroadcast(rng io.Reader) (round.MessagePart, error) {
	if !r.sendPack {
		return round.NoMessage(), nil
	}
	return round.EncodePart(r.codec, r.received)
}

// ReceiveMessage decodes from's reported pack and cross-checks every
// entry this round expects against what this party directly received.
// Any discrepancy is reported as a ProvableError carrying exactly the
// evidence an independent third party would need to confirm it.
func (r *Round) ReceiveMessage(from party.ID, parts round.MessageParts) (round.Payload, error) {
	var pack Pack
	if err := parts.NormalBroadcast.Decode(r.codec, &pack); err != nil {
		return nil, &InvalidPackError{Guilty: from, Reason: "malformed echo pack: " + err.Error()}
	}

	for _, sender := range r.checkSet() {
		if sender == r.myID {
			continue
		}
		mine, haveMine := r.received[sender]
		theirs, haveTheirs := pack[sender]

		if !haveMine {
			continue
		}
		if !haveTheirs {
			return nil, &InvalidPackError{
				Guilty: from, Accused: sender, Missing: true,
				Reason: "pack omits an entry for a sender this party echoed",
			}
		}
		if theirs.Metadata.Sender != sender || theirs.Metadata.RoundID != r.innerID || !bytes.Equal(theirs.Metadata.SessionID, mine.Metadata.SessionID) {
			return nil, &InvalidPackError{
				Guilty: from, Accused: sender, Entry: theirs, HaveEntry: true,
				Reason: "pack attributes mismatched metadata to a sender",
			}
		}
		if !theirs.Verify(r.verifier) {
			return nil, &InvalidPackError{
				Guilty: from, Accused: sender, Entry: theirs, HaveEntry: true,
				Reason: "pack entry's signature does not verify for its claimed sender",
			}
		}
		if !bytes.Equal(mine.Part.Bytes(), theirs.Part.Bytes()) || mine.Part.IsNone() != theirs.Part.IsNone() {
			return nil, &MismatchedBroadcastsError{
				Equivocator: sender, SeenByMe: mine, SeenByOther: theirs, FromPeer: from,
			}
		}
	}
	return struct{}{}, nil
}

// Finalize passes straight through to the wrapped round's Finalize, using
// the payloads and artifacts the inner round itself accumulated: by the
// time every expected pack has passed ReceiveMessage, the inner round's
// result is already fully determined.
func (r *Round) Finalize(rng io.Reader, _ map[party.ID]round.Payload, _ map[party.ID]round.Artifact) (round.FinalizeOutcome, error) {
	return r.inner.Finalize(rng, r.innerPayloads, r.innerArtifacts)
}
