package simple

import (
	"crypto/rand"
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

func newParties(t *testing.T, n int) (party.IDSlice, map[party.ID]signer.Signer, *signer.SchnorrVerifier) {
	t.Helper()
	ids := make(party.IDSlice, 0, n)
	signers := make(map[party.ID]signer.Signer, n)
	verifier := signer.NewSchnorrVerifier()
	for i := 0; i < n; i++ {
		id := party.ID(rune('a' + i))
		s, err := signer.NewSchnorr(id)
		require.NoError(t, err)
		require.NoError(t, verifier.Register(id, s.PublicKey()))
		ids = append(ids, id)
		signers[id] = s
	}
	return party.NewIDSlice(ids), signers, verifier
}

func TestHappyPath(t *testing.T) {
	ids, signers, verifier := newParties(t, 3)

	reports, err := RunSync(rand.Reader, ids, signers, verifier, codec.CBOR{})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	for id, report := range reports {
		require.NotNil(t, report, "party %v never terminated", id)
		assert.Equal(t, session.OutcomeResult, report.Outcome)
		assert.Equal(t, uint8(6), report.Result, "party %v", id)
		assert.Empty(t, report.Banned)
	}
}

// cheatingRound1 wraps an honest Round1 but lies about the recipient's
// position in every direct message it sends, exercising the
// Round1ProvableError path end to end.
type cheatingRound1 struct {
	*Round1
}

func (c *cheatingRound1) MakeDirectMessage(rng io.Reader, dest party.ID) (round.MessagePart, round.Artifact, error) {
	part, err := round.EncodePart(c.ctx.codec, Round1Message{
		MyPosition:   c.ctx.positions[c.ctx.id],
		YourPosition: c.ctx.positions[dest] + 1, // deliberately wrong
	})
	return part, nil, err
}

func TestCheatingSenderIsBannedWithEvidence(t *testing.T) {
	ids, signers, verifier := newParties(t, 3)
	attacker := ids[0]

	sid := SessionID(ids)
	positions := SharedData(ids)
	prot := Protocol{Codec: codec.CBOR{}}

	sessions := make(map[party.ID]*session.Session, len(ids))
	for _, id := range ids {
		var first round.Round = New(id, ids, codec.CBOR{})
		if id == attacker {
			first = &cheatingRound1{Round1: first.(*Round1)}
		}
		cfg := session.Config{
			MyID: id, Parties: ids, Signer: signers[id], Verifier: verifier,
			Codec: codec.CBOR{}, Protocol: prot, SharedData: positions,
		}
		sess, err := session.New(cfg, sid, first)
		require.NoError(t, err)
		sessions[id] = sess
	}

	madeFor := make(map[party.ID]round.RoundID)
	for iter := 0; iter < 64; iter++ {
		allDone := true
		for id, sess := range sessions {
			if sess.Terminated() {
				continue
			}
			allDone = false
			if madeFor[id] == sess.CurrentRoundID() {
				continue
			}
			madeFor[id] = sess.CurrentRoundID()
			for _, dest := range sess.MessageDestinations() {
				bundle, err := sess.MakeMessage(rand.Reader, dest)
				require.NoError(t, err)
				for _, m := range []*round.SignedMessage{bundle.Direct, bundle.EchoBroadcast, bundle.NormalBroadcast} {
					if m == nil {
						continue
					}
					_, _ = sessions[dest].PreprocessMessage(*m)
				}
			}
		}
		for _, sess := range sessions {
			if sess.Terminated() {
				continue
			}
			for _, sender := range sess.PendingSenders() {
				result, err := sess.ProcessMessage(rand.Reader, sender)
				if err != nil {
					continue
				}
				require.NoError(t, sess.AddProcessedMessage(result))
			}
		}
		for _, sess := range sessions {
			if sess.Terminated() {
				continue
			}
			_, err := sess.FinalizeRound(rand.Reader)
			require.NoError(t, err)
		}
		if allDone {
			break
		}
	}

	for id, sess := range sessions {
		if id == attacker {
			continue
		}
		require.True(t, sess.IsBanned(attacker), "party %v should have banned the cheater", id)
		report := sess.Report()
		if report != nil {
			reason, ok := report.Banned[attacker]
			assert.True(t, ok)
			assert.NotEmpty(t, reason)
			ev, hasEvidence := report.Evidence[attacker]
			if hasEvidence {
				assert.Equal(t, round.EvidenceProtocolError, ev.Kind)
				assert.Equal(t, attacker, ev.Guilty)
			}
		}
	}
}
