// Package simple is a minimal, fully worked protocol exercising the
// engine end to end: two rounds where every party learns everyone else's
// position in a shared, sorted ordering and the result is the sum of all
// positions counted twice (once per round). It is grounded directly on
// manul's own "simple" example protocol (original_source/examples/src/simple.rs):
// same round shapes, same fault the direct message can be caught
// committing (a wrong "your position" claim), same two-round sum.
//
// Round 1 additionally produces an echo broadcast, so a run of this
// protocol always exercises internal/echo too.
package simple

import (
	"io"

	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
)

// Protocol implements round.Protocol for SimpleProtocol's two rounds, so
// that evidence produced against either one can be checked by a party
// holding no local round state.
type Protocol struct {
	Codec codec.Codec
}

func (p Protocol) VerifyDirectMessageIsInvalid(roundID round.RoundID, part round.MessagePart) error {
	switch roundID.Number() {
	case 1:
		var m Round1Message
		return checkDecodeFails(p.Codec, part, &m)
	case 2:
		var m Round2Message
		return checkDecodeFails(p.Codec, part, &m)
	}
	return errUnknownRound
}

func (p Protocol) VerifyEchoBroadcastIsInvalid(roundID round.RoundID, part round.MessagePart) error {
	if roundID.Number() == 1 {
		var m Round1Echo
		return checkDecodeFails(p.Codec, part, &m)
	}
	if part.IsNone() {
		return errEvidenceInvalid
	}
	return nil
}

func (p Protocol) VerifyNormalBroadcastIsInvalid(roundID round.RoundID, part round.MessagePart) error {
	if roundID.Number() == 1 {
		var m Round1Broadcast
		return checkDecodeFails(p.Codec, part, &m)
	}
	if part.IsNone() {
		return errEvidenceInvalid
	}
	return nil
}

func (p Protocol) DecodeProvableError(roundID round.RoundID, data []byte) (round.ProvableError, error) {
	switch roundID.Number() {
	case 1:
		var e Round1ProvableError
		if err := p.Codec.Deserialize(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	case 2:
		var e Round2ProvableError
		if err := p.Codec.Deserialize(data, &e); err != nil {
			return nil, err
		}
		return e, nil
	}
	return nil, errUnknownRound
}

func checkDecodeFails(c codec.Codec, part round.MessagePart, out interface{}) error {
	if part.IsNone() {
		return nil
	}
	if err := part.Decode(c, out); err != nil {
		return nil
	}
	return errEvidenceInvalid
}

var errUnknownRound = roundErr("simple: unknown round id")
var errEvidenceInvalid = roundErr("simple: message part is well-formed, evidence does not hold")

type roundErr string

func (e roundErr) Error() string { return string(e) }

// context is the state shared by both rounds.
type context struct {
	id        party.ID
	otherIDs  party.IDSlice
	positions map[party.ID]uint8
	codec     codec.Codec
}

func newContext(id party.ID, allIDs party.IDSlice, c codec.Codec) context {
	sorted := party.NewIDSlice(allIDs)
	positions := make(map[party.ID]uint8, len(sorted))
	for i, p := range sorted {
		positions[p] = uint8(i)
	}
	return context{id: id, otherIDs: sorted.Remove(id), positions: positions, codec: c}
}

// Round1Message is the direct message of round 1.
type Round1Message struct {
	MyPosition   uint8
	YourPosition uint8
}

// Round1Echo is round 1's echo broadcast.
type Round1Echo struct {
	MyPosition uint8
}

// Round1Broadcast is round 1's normal broadcast.
type Round1Broadcast struct {
	X          uint8
	MyPosition uint8
}

// Round1Payload is what round 1 hands to Finalize for each sender.
type Round1Payload struct {
	X uint8
}

// Round1ProvableError is returned when a peer's round-1 direct message
// claims the wrong position for its recipient.
type Round1ProvableError struct{}

func (Round1ProvableError) Error() string { return "invalid position claimed in round 1" }

func (Round1ProvableError) RequiredMessages() round.RequiredMessages {
	return round.RequiredMessages{ThisRound: round.DirectMessagePart()}
}

func (Round1ProvableError) VerifyEvidence(roundID round.RoundID, guilty party.ID, sharedRandomness []byte, sharedData interface{}, messages round.EvidenceMessages) error {
	positions, _ := sharedData.(map[party.ID]uint8)
	var m Round1Message
	if err := messages.ThisRound.Direct.Decode(codec.CBOR{}, &m); err != nil {
		return err
	}
	recipientPosition, ok := positions[messages.ThisRoundMetadata.Destination]
	if !ok {
		return errEvidenceInvalid
	}
	if m.YourPosition != recipientPosition {
		return nil
	}
	return errEvidenceInvalid
}

// Round1 is the entry round: every party sends every other party its own
// position and the position it assigns to the recipient.
type Round1 struct {
	ctx context
}

// New builds the entry round for id, given the full participant set.
func New(id party.ID, allIDs party.IDSlice, c codec.Codec) round.Round {
	return &Round1{ctx: newContext(id, allIDs, c)}
}

func (r *Round1) TransitionInfo() round.TransitionInfo {
	return round.TransitionInfo{
		ID:                round.NewRoundID(1),
		PossibleNextRound: []round.RoundID{round.NewRoundID(2), round.NewRoundID(1).Echo()},
	}
}

func (r *Round1) CommunicationInfo() round.CommunicationInfo {
	return round.Regular(r.ctx.otherIDs)
}

func (r *Round1) MakeDirectMessage(rng io.Reader, dest party.ID) (round.MessagePart, round.Artifact, error) {
	part, err := round.EncodePart(r.ctx.codec, Round1Message{
		MyPosition:   r.ctx.positions[r.ctx.id],
		YourPosition: r.ctx.positions[dest],
	})
	return part, nil, err
}

func (r *Round1) MakeEchoBroadcast(rng io.Reader) (round.MessagePart, error) {
	return round.EncodePart(r.ctx.codec, Round1Echo{MyPosition: r.ctx.positions[r.ctx.id]})
}

func (r *Round1) MakeNormalBroadcast(rng io.Reader) (round.MessagePart, error) {
	return round.EncodePart(r.ctx.codec, Round1Broadcast{X: 0, MyPosition: r.ctx.positions[r.ctx.id]})
}

func (r *Round1) ReceiveMessage(from party.ID, parts round.MessageParts) (round.Payload, error) {
	var m Round1Message
	if err := parts.Direct.Decode(r.ctx.codec, &m); err != nil {
		return nil, &round.LocalError{Err: err}
	}
	if m.YourPosition != r.ctx.positions[r.ctx.id] {
		return nil, Round1ProvableError{}
	}
	return Round1Payload{X: m.MyPosition}, nil
}

func (r *Round1) Finalize(rng io.Reader, payloads map[party.ID]round.Payload, artifacts map[party.ID]round.Artifact) (round.FinalizeOutcome, error) {
	sum := r.ctx.positions[r.ctx.id]
	for _, p := range payloads {
		sum += p.(Round1Payload).X
	}
	return round.AnotherRound(&Round2{ctx: r.ctx, round1Sum: sum}), nil
}

// Round2Message is the direct message of round 2 — structurally the same
// shape as Round1Message, proven distinct by its RoundID.
type Round2Message struct {
	MyPosition   uint8
	YourPosition uint8
}

// Round2ProvableError is the round-2 analogue of Round1ProvableError; it
// also lists round 1's cross-checked echo pack among its required
// messages. Its VerifyEvidence checks only the round-2 direct message.
type Round2ProvableError struct{}

func (Round2ProvableError) Error() string { return "invalid position claimed in round 2" }

func (Round2ProvableError) RequiredMessages() round.RequiredMessages {
	return round.RequiredMessages{ThisRound: round.DirectMessagePart()}.
		WithCombinedEcho(round.NewRoundID(1))
}

func (Round2ProvableError) VerifyEvidence(roundID round.RoundID, guilty party.ID, sharedRandomness []byte, sharedData interface{}, messages round.EvidenceMessages) error {
	var m Round2Message
	if err := messages.ThisRound.Direct.Decode(codec.CBOR{}, &m); err != nil {
		return err
	}
	positions, _ := sharedData.(map[party.ID]uint8)
	recipientPosition, ok := positions[messages.ThisRoundMetadata.Destination]
	if !ok {
		return errEvidenceInvalid
	}
	if m.YourPosition != recipientPosition {
		return nil
	}
	return errEvidenceInvalid
}

// Round2 finalizes the protocol with the sum of every position, counted
// once per round.
type Round2 struct {
	ctx       context
	round1Sum uint8
}

func (r *Round2) TransitionInfo() round.TransitionInfo {
	return round.TransitionInfo{ID: round.NewRoundID(2), MayProduceResult: true}
}

func (r *Round2) CommunicationInfo() round.CommunicationInfo {
	return round.Regular(r.ctx.otherIDs)
}

func (r *Round2) MakeDirectMessage(rng io.Reader, dest party.ID) (round.MessagePart, round.Artifact, error) {
	part, err := round.EncodePart(r.ctx.codec, Round2Message{
		MyPosition:   r.ctx.positions[r.ctx.id],
		YourPosition: r.ctx.positions[dest],
	})
	return part, nil, err
}

func (r *Round2) MakeEchoBroadcast(rng io.Reader) (round.MessagePart, error) {
	return round.NoMessage(), nil
}

func (r *Round2) MakeNormalBroadcast(rng io.Reader) (round.MessagePart, error) {
	return round.NoMessage(), nil
}

func (r *Round2) ReceiveMessage(from party.ID, parts round.MessageParts) (round.Payload, error) {
	var m Round2Message
	if err := parts.Direct.Decode(r.ctx.codec, &m); err != nil {
		return nil, &round.LocalError{Err: err}
	}
	if m.YourPosition != r.ctx.positions[r.ctx.id] {
		return nil, Round2ProvableError{}
	}
	return Round1Payload{X: m.MyPosition}, nil
}

func (r *Round2) Finalize(rng io.Reader, payloads map[party.ID]round.Payload, artifacts map[party.ID]round.Artifact) (round.FinalizeOutcome, error) {
	sum := r.ctx.positions[r.ctx.id]
	for _, p := range payloads {
		sum += p.(Round1Payload).X
	}
	return round.Result(sum + r.round1Sum), nil
}

// SharedData returns the position assignment derived from allIDs, to be
// passed as a Session's SharedData so evidence verification can recheck
// position claims without any party-local state.
func SharedData(allIDs party.IDSlice) map[party.ID]uint8 {
	sorted := party.NewIDSlice(allIDs)
	positions := make(map[party.ID]uint8, len(sorted))
	for i, p := range sorted {
		positions[p] = uint8(i)
	}
	return positions
}
