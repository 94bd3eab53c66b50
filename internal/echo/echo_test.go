package echo_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/byzantine-protocol/internal/echo"
	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
	"github.com/taurusgroup/byzantine-protocol/pkg/signer"
)

type stubRound struct {
	id round.RoundID
}

func (s stubRound) TransitionInfo() round.TransitionInfo {
	return round.TransitionInfo{ID: s.id, MayProduceResult: true}
}
func (s stubRound) CommunicationInfo() round.CommunicationInfo { return round.CommunicationInfo{} }
func (s stubRound) MakeDirectMessage(io.Reader, party.ID) (round.MessagePart, round.Artifact, error) {
	return round.NoMessage(), nil, nil
}
func (s stubRound) MakeEchoBroadcast(io.Reader) (round.MessagePart, error) { return round.NoMessage(), nil }
func (s stubRound) MakeNormalBroadcast(io.Reader) (round.MessagePart, error) {
	return round.NoMessage(), nil
}
func (s stubRound) ReceiveMessage(party.ID, round.MessageParts) (round.Payload, error) { return nil, nil }
func (s stubRound) Finalize(io.Reader, map[party.ID]round.Payload, map[party.ID]round.Artifact) (round.FinalizeOutcome, error) {
	return round.Result("done"), nil
}

func signedEcho(t *testing.T, s *signer.Schnorr, sessionID []byte, id round.RoundID, content string) round.SignedMessage {
	t.Helper()
	part, err := round.EncodePart(codec.CBOR{}, content)
	require.NoError(t, err)
	signed, err := round.Sign(s, round.Metadata{SessionID: sessionID, RoundID: id}, round.PartEchoBroadcast, part)
	require.NoError(t, err)
	return signed
}

func TestEchoRoundAcceptsMatchingPack(t *testing.T) {
	sessionID := []byte("s")
	innerID := round.NewRoundID(1)

	a, _ := signer.NewSchnorr("a")
	b, _ := signer.NewSchnorr("b")
	v := signer.NewSchnorrVerifier()
	require.NoError(t, v.Register("a", a.PublicKey()))
	require.NoError(t, v.Register("b", b.PublicKey()))

	echoFromA := signedEcho(t, a, sessionID, innerID, "hello")
	echoFromB := signedEcho(t, b, sessionID, innerID, "world")

	received := echo.Pack{"a": echoFromA, "b": echoFromB}
	inner := stubRound{id: innerID}
	r := echo.New(inner, innerID, "me", received, party.NewIDSlice([]party.ID{"a", "b"}), round.EchoParticipation{Kind: round.EchoDefault}, codec.CBOR{}, v, nil, nil)

	otherPack := echo.Pack{"a": echoFromA, "b": echoFromB}
	part, err := round.EncodePart(codec.CBOR{}, otherPack)
	require.NoError(t, err)

	payload, err := r.ReceiveMessage("b", round.MessageParts{NormalBroadcast: part})
	require.NoError(t, err)
	assert.NotNil(t, payload)
}

func TestEchoRoundDetectsMismatch(t *testing.T) {
	sessionID := []byte("s")
	innerID := round.NewRoundID(1)

	a, _ := signer.NewSchnorr("a")
	b, _ := signer.NewSchnorr("b")
	v := signer.NewSchnorrVerifier()
	require.NoError(t, v.Register("a", a.PublicKey()))
	require.NoError(t, v.Register("b", b.PublicKey()))

	echoFromA := signedEcho(t, a, sessionID, innerID, "hello")
	tamperedFromA := signedEcho(t, a, sessionID, innerID, "tampered")

	received := echo.Pack{"a": echoFromA}
	inner := stubRound{id: innerID}
	r := echo.New(inner, innerID, "me", received, party.NewIDSlice([]party.ID{"a", "b"}), round.EchoParticipation{Kind: round.EchoDefault}, codec.CBOR{}, v, nil, nil)

	badPack := echo.Pack{"a": tamperedFromA}
	part, err := round.EncodePart(codec.CBOR{}, badPack)
	require.NoError(t, err)

	_, err = r.ReceiveMessage("b", round.MessageParts{NormalBroadcast: part})
	require.Error(t, err)
	mismatch, ok := err.(*echo.MismatchedBroadcastsError)
	require.True(t, ok)
	assert.Equal(t, party.ID("a"), mismatch.Equivocator)
}

// TestEchoRoundDetectsForgedEntry covers a relaying peer fabricating a pack
// entry under someone else's name: the entry must be blamed on the relayer
// (from), not on the party it falsely attributes the content to.
func TestEchoRoundDetectsForgedEntry(t *testing.T) {
	sessionID := []byte("s")
	innerID := round.NewRoundID(1)

	a, _ := signer.NewSchnorr("a")
	mallory, _ := signer.NewSchnorr("mallory")
	v := signer.NewSchnorrVerifier()
	require.NoError(t, v.Register("a", a.PublicKey()))

	echoFromA := signedEcho(t, a, sessionID, innerID, "hello")
	forged := signedEcho(t, mallory, sessionID, innerID, "hello")
	forged.Metadata.Sender = "a" // claim to be `a` without `a`'s key

	received := echo.Pack{"a": echoFromA}
	inner := stubRound{id: innerID}
	r := echo.New(inner, innerID, "me", received, party.NewIDSlice([]party.ID{"a", "b"}), round.EchoParticipation{Kind: round.EchoDefault}, codec.CBOR{}, v, nil, nil)

	badPack := echo.Pack{"a": forged}
	part, err := round.EncodePart(codec.CBOR{}, badPack)
	require.NoError(t, err)

	_, err = r.ReceiveMessage("b", round.MessageParts{NormalBroadcast: part})
	require.Error(t, err)
	invalid, ok := err.(*echo.InvalidPackError)
	require.True(t, ok)
	assert.Equal(t, party.ID("b"), invalid.Guilty)
	assert.Equal(t, party.ID("a"), invalid.Accused)
}

func TestEchoRoundDetectsMissingEntry(t *testing.T) {
	sessionID := []byte("s")
	innerID := round.NewRoundID(1)
	a, _ := signer.NewSchnorr("a")
	v := signer.NewSchnorrVerifier()
	require.NoError(t, v.Register("a", a.PublicKey()))
	echoFromA := signedEcho(t, a, sessionID, innerID, "hello")

	received := echo.Pack{"a": echoFromA}
	inner := stubRound{id: innerID}
	r := echo.New(inner, innerID, "me", received, party.NewIDSlice([]party.ID{"a", "b"}), round.EchoParticipation{Kind: round.EchoDefault}, codec.CBOR{}, v, nil, nil)

	badPack := echo.Pack{}
	part, err := round.EncodePart(codec.CBOR{}, badPack)
	require.NoError(t, err)

	_, err = r.ReceiveMessage("b", round.MessageParts{NormalBroadcast: part})
	require.Error(t, err)
	invalid, ok := err.(*echo.InvalidPackError)
	require.True(t, ok)
	assert.True(t, invalid.Missing)
	assert.Equal(t, party.ID("a"), invalid.Accused)
}
