package session_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
	"github.com/taurusgroup/byzantine-protocol/pkg/session"
	"github.com/taurusgroup/byzantine-protocol/pkg/signer"
)

// echoingRound is a minimal two-round stub: round 1 accepts any direct
// message and hands round 2 its payload, round 2 produces a result.
type echoingRound struct {
	id    round.RoundID
	peers party.IDSlice
	final bool
}

func (r *echoingRound) TransitionInfo() round.TransitionInfo {
	t := round.TransitionInfo{ID: r.id, MayProduceResult: r.final}
	if !r.final {
		t.PossibleNextRound = []round.RoundID{round.NewRoundID(2), round.NewRoundID(1).Echo()}
	}
	return t
}

func (r *echoingRound) CommunicationInfo() round.CommunicationInfo {
	return round.Regular(r.peers)
}

func (r *echoingRound) MakeDirectMessage(rng io.Reader, dest party.ID) (round.MessagePart, round.Artifact, error) {
	return round.EncodePart(codec.CBOR{}, "ping")
}

func (r *echoingRound) MakeEchoBroadcast(rng io.Reader) (round.MessagePart, error) {
	if r.id.Number() == 1 {
		return round.EncodePart(codec.CBOR{}, "echo")
	}
	return round.NoMessage(), nil
}

func (r *echoingRound) MakeNormalBroadcast(rng io.Reader) (round.MessagePart, error) {
	return round.NoMessage(), nil
}

func (r *echoingRound) ReceiveMessage(from party.ID, parts round.MessageParts) (round.Payload, error) {
	var s string
	if err := parts.Direct.Decode(codec.CBOR{}, &s); err != nil {
		return nil, &round.LocalError{Err: err}
	}
	return s, nil
}

func (r *echoingRound) Finalize(rng io.Reader, payloads map[party.ID]round.Payload, artifacts map[party.ID]round.Artifact) (round.FinalizeOutcome, error) {
	if r.final {
		return round.Result(len(payloads)), nil
	}
	return round.AnotherRound(&echoingRound{id: round.NewRoundID(2), peers: r.peers, final: true}), nil
}

func newSignedSession(t *testing.T, id party.ID, peers party.IDSlice, sessionID []byte) (*session.Session, *signer.Schnorr, *signer.SchnorrVerifier) {
	t.Helper()
	s, err := signer.NewSchnorr(id)
	require.NoError(t, err)
	v := signer.NewSchnorrVerifier()
	require.NoError(t, v.Register(id, s.PublicKey()))

	sess, err := session.New(session.Config{
		MyID: id, Parties: append(peers, id), Signer: s, Verifier: v, Codec: codec.CBOR{},
	}, sessionID, &echoingRound{id: round.NewRoundID(1), peers: peers})
	require.NoError(t, err)
	return sess, s, v
}

func TestPreprocessMessageRejectsWrongSessionID(t *testing.T) {
	sess, _, _ := newSignedSession(t, "me", party.NewIDSlice([]party.ID{"other"}), []byte("session-a"))

	other, err := signer.NewSchnorr("other")
	require.NoError(t, err)
	part, err := round.EncodePart(codec.CBOR{}, "ping")
	require.NoError(t, err)
	meta := round.Metadata{SessionID: []byte("session-b"), RoundID: round.NewRoundID(1), Destination: "me"}
	msg, err := round.Sign(other, meta, round.PartDirect, part)
	require.NoError(t, err)

	class, err := sess.PreprocessMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, session.ClassRejected, class)
}

func TestPreprocessMessageCachesFutureRound(t *testing.T) {
	sessionID := []byte("session-a")
	sess, _, _ := newSignedSession(t, "me", party.NewIDSlice([]party.ID{"other"}), sessionID)

	other, err := signer.NewSchnorr("other")
	require.NoError(t, err)
	part, err := round.EncodePart(codec.CBOR{}, "ping")
	require.NoError(t, err)
	meta := round.Metadata{SessionID: sessionID, RoundID: round.NewRoundID(2), Destination: "me"}
	msg, err := round.Sign(other, meta, round.PartDirect, part)
	require.NoError(t, err)

	class, err := sess.PreprocessMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, session.ClassCached, class)
}

func TestPreprocessMessageRejectsBadSignature(t *testing.T) {
	sessionID := []byte("session-a")
	sess, _, _ := newSignedSession(t, "me", party.NewIDSlice([]party.ID{"other"}), sessionID)

	mallory, err := signer.NewSchnorr("mallory")
	require.NoError(t, err)
	part, err := round.EncodePart(codec.CBOR{}, "ping")
	require.NoError(t, err)
	meta := round.Metadata{SessionID: sessionID, RoundID: round.NewRoundID(1), Destination: "me"}
	msg, err := round.Sign(mallory, meta, round.PartDirect, part)
	require.NoError(t, err)
	msg.Metadata.Sender = "other" // claim to be `other` without `other`'s key

	class, err := sess.PreprocessMessage(msg)
	require.Error(t, err)
	assert.Equal(t, session.ClassRejected, class)
	_, ok := err.(*round.UnprovableError)
	assert.True(t, ok)
}
