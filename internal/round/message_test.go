package round_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
	"github.com/taurusgroup/byzantine-protocol/pkg/signer"
)

func newSigner(t *testing.T, id party.ID) (*signer.Schnorr, *signer.SchnorrVerifier) {
	t.Helper()
	s, err := signer.NewSchnorr(id)
	require.NoError(t, err)
	v := signer.NewSchnorrVerifier()
	require.NoError(t, v.Register(id, s.PublicKey()))
	return s, v
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	s, v := newSigner(t, "alice")
	part, err := round.EncodePart(codec.CBOR{}, map[string]int{"x": 1})
	require.NoError(t, err)

	meta := round.Metadata{SessionID: []byte("session-1"), RoundID: round.NewRoundID(1), Destination: "bob"}
	signed, err := round.Sign(s, meta, round.PartDirect, part)
	require.NoError(t, err)

	assert.True(t, signed.Verify(v))
	assert.Equal(t, party.ID("alice"), signed.Metadata.Sender)
}

func TestVerifyRejectsTamperedPart(t *testing.T) {
	s, v := newSigner(t, "alice")
	part, err := round.EncodePart(codec.CBOR{}, 42)
	require.NoError(t, err)
	meta := round.Metadata{SessionID: []byte("session-1"), RoundID: round.NewRoundID(1)}
	signed, err := round.Sign(s, meta, round.PartNormalBroadcast, part)
	require.NoError(t, err)

	tamperedPart, err := round.EncodePart(codec.CBOR{}, 43)
	require.NoError(t, err)
	signed.Part = tamperedPart

	assert.False(t, signed.Verify(v))
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	_, v := newSigner(t, "alice")
	mallory, _ := newSigner(t, "mallory")

	part := round.NoMessage()
	meta := round.Metadata{SessionID: []byte("s"), RoundID: round.NewRoundID(1)}
	signed, err := round.Sign(mallory, meta, round.PartEchoBroadcast, part)
	require.NoError(t, err)
	signed.Metadata.Sender = "alice"

	assert.False(t, signed.Verify(v))
}

func TestNoneMessagePartIsDistinctFromEmpty(t *testing.T) {
	none := round.NoMessage()
	empty, err := round.EncodePart(codec.CBOR{}, []byte{})
	require.NoError(t, err)

	assert.True(t, none.IsNone())
	assert.False(t, empty.IsNone())
}

func TestRoundIDEchoAndGroup(t *testing.T) {
	r := round.NewRoundID(3)
	assert.False(t, r.IsEcho())
	assert.True(t, r.Echo().IsEcho())
	assert.Equal(t, r, r.Echo().NonEcho())

	grouped := r.GroupUnder("sub")
	assert.NotEqual(t, r.String(), grouped.String())
}
