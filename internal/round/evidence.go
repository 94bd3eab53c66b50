package round

import (
	"bytes"
	"errors"

	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
	"github.com/taurusgroup/byzantine-protocol/pkg/signer"
)

// EvidenceKind is the closed set of fault shapes the engine can attribute
// (spec.md §4.6, SPEC_FULL.md §1): exactly one of these six, never a
// freeform reason string, so that every piece of evidence can be checked
// mechanically by a party that has never run the session.
type EvidenceKind uint8

const (
	EvidenceInvalidDirectMessage EvidenceKind = iota
	EvidenceInvalidEchoBroadcast
	EvidenceInvalidNormalBroadcast
	EvidenceProtocolError
	EvidenceInvalidEchoPack
	EvidenceMismatchedBroadcasts
)

// SignedParts groups the (at most three) signed message slots attached for
// one round, all claimed to come from the same sender.
type SignedParts struct {
	Direct          *SignedMessage
	EchoBroadcast   *SignedMessage
	NormalBroadcast *SignedMessage
}

func (p SignedParts) toMessageParts() MessageParts {
	var out MessageParts
	if p.Direct != nil {
		out.Direct = p.Direct.Part
	}
	if p.EchoBroadcast != nil {
		out.EchoBroadcast = p.EchoBroadcast.Part
	}
	if p.NormalBroadcast != nil {
		out.NormalBroadcast = p.NormalBroadcast.Part
	}
	return out
}

func (p SignedParts) verify(v signer.Verifier, sender party.ID, sessionID []byte) bool {
	check := func(m *SignedMessage) bool {
		if m == nil {
			return true
		}
		if m.Metadata.Sender != sender {
			return false
		}
		if !bytes.Equal(m.Metadata.SessionID, sessionID) {
			return false
		}
		return m.Verify(v)
	}
	return check(p.Direct) && check(p.EchoBroadcast) && check(p.NormalBroadcast)
}

// Evidence is a self-contained, replayable accusation against Guilty:
// everything VerifyEvidence needs to reach the same verdict is attached,
// with no dependence on the verifying party's local session state
// (spec.md §4.6).
type Evidence struct {
	Guilty      party.ID
	Kind        EvidenceKind
	RoundID     RoundID
	Description string

	ThisRound      SignedParts
	PreviousRounds map[RoundID]SignedParts

	// ErrorData is the serialized ProvableError for EvidenceProtocolError.
	ErrorData []byte

	// AccusedSender, Pack and AccusedMissing are used by
	// EvidenceInvalidEchoPack: Guilty's ThisRound.NormalBroadcast is the
	// echo-round pack; Pack[AccusedSender] is the entry Guilty's pack
	// attributes to AccusedSender (absent when AccusedMissing).
	AccusedSender  party.ID
	Pack           map[party.ID]SignedMessage
	AccusedMissing bool

	// Conflicting is the second signed message for
	// EvidenceMismatchedBroadcasts: two differently-valued but
	// individually-valid broadcasts from Guilty for the same round,
	// proving Guilty equivocated.
	Conflicting *SignedMessage
}

// Verify replays the fault check using only the data Evidence carries.
// It returns nil exactly when the accusation holds.
func (e Evidence) Verify(protocol Protocol, v signer.Verifier, c codec.Codec, sessionID []byte, sharedRandomness []byte, sharedData interface{}) error {
	if !e.ThisRound.verify(v, e.Guilty, sessionID) {
		return errors.New("evidence invalid: this-round signature or metadata mismatch")
	}
	for _, parts := range e.PreviousRounds {
		if !parts.verify(v, e.Guilty, sessionID) {
			return errors.New("evidence invalid: previous-round signature or metadata mismatch")
		}
	}

	switch e.Kind {
	case EvidenceInvalidDirectMessage:
		if e.ThisRound.Direct == nil {
			return errors.New("evidence invalid: missing direct message")
		}
		return protocol.VerifyDirectMessageIsInvalid(e.RoundID, e.ThisRound.Direct.Part)

	case EvidenceInvalidEchoBroadcast:
		if e.ThisRound.EchoBroadcast == nil {
			return errors.New("evidence invalid: missing echo broadcast")
		}
		return protocol.VerifyEchoBroadcastIsInvalid(e.RoundID, e.ThisRound.EchoBroadcast.Part)

	case EvidenceInvalidNormalBroadcast:
		if e.ThisRound.NormalBroadcast == nil {
			return errors.New("evidence invalid: missing normal broadcast")
		}
		return protocol.VerifyNormalBroadcastIsInvalid(e.RoundID, e.ThisRound.NormalBroadcast.Part)

	case EvidenceProtocolError:
		inner, err := protocol.DecodeProvableError(e.RoundID, e.ErrorData)
		if err != nil {
			return err
		}
		messages := EvidenceMessages{
			ThisRound:      e.ThisRound.toMessageParts(),
			PreviousRounds: make(map[RoundID]MessageParts, len(e.PreviousRounds)),
		}
		if e.ThisRound.Direct != nil {
			messages.ThisRoundMetadata = e.ThisRound.Direct.Metadata
		} else if e.ThisRound.EchoBroadcast != nil {
			messages.ThisRoundMetadata = e.ThisRound.EchoBroadcast.Metadata
		} else if e.ThisRound.NormalBroadcast != nil {
			messages.ThisRoundMetadata = e.ThisRound.NormalBroadcast.Metadata
		}
		for id, parts := range e.PreviousRounds {
			messages.PreviousRounds[id] = parts.toMessageParts()
		}
		return inner.VerifyEvidence(e.RoundID, e.Guilty, sharedRandomness, sharedData, messages)

	case EvidenceInvalidEchoPack:
		return e.verifyInvalidEchoPack(v, sessionID)

	case EvidenceMismatchedBroadcasts:
		return e.verifyMismatchedBroadcasts(v, sessionID)

	default:
		return errors.New("evidence invalid: unknown kind")
	}
}

func (e Evidence) verifyInvalidEchoPack(v signer.Verifier, sessionID []byte) error {
	entry, ok := e.Pack[e.AccusedSender]
	originalRound := e.RoundID.NonEcho()

	if e.AccusedMissing {
		if ok {
			return errors.New("evidence invalid: accused sender's entry is present in the pack")
		}
		return nil
	}
	if !ok {
		return errors.New("evidence invalid: claimed-present entry is absent from the pack")
	}
	if entry.Metadata.Sender != e.AccusedSender || !bytes.Equal(entry.Metadata.SessionID, sessionID) || entry.Metadata.RoundID != originalRound {
		return nil
	}
	if entry.Verify(v) {
		return errors.New("evidence invalid: pack entry is a valid, correctly-attributed broadcast")
	}
	return nil
}

func (e Evidence) verifyMismatchedBroadcasts(v signer.Verifier, sessionID []byte) error {
	first := e.ThisRound.EchoBroadcast
	if first == nil {
		first = e.ThisRound.NormalBroadcast
	}
	if first == nil || e.Conflicting == nil {
		return errors.New("evidence invalid: missing one of the two conflicting broadcasts")
	}
	second := *e.Conflicting
	if second.Metadata.Sender != e.Guilty || !bytes.Equal(second.Metadata.SessionID, sessionID) {
		return errors.New("evidence invalid: conflicting message not attributed to the accused")
	}
	if !second.Verify(v) {
		return errors.New("evidence invalid: conflicting message signature does not verify")
	}
	if first.Metadata.RoundID != second.Metadata.RoundID {
		return errors.New("evidence invalid: conflicting messages are not for the same round")
	}
	if bytes.Equal(first.Part.Bytes(), second.Part.Bytes()) && first.Part.IsNone() == second.Part.IsNone() {
		return errors.New("evidence invalid: the two broadcasts are identical")
	}
	return nil
}
