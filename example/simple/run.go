package simple

import (
	"io"

	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/hash"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
	"github.com/taurusgroup/byzantine-protocol/pkg/session"
	"github.com/taurusgroup/byzantine-protocol/pkg/signer"
)

// SessionID derives the binding session identifier from the participant
// set, the same way every real deployment would: a domain-separated hash
// of the sorted party list (spec.md §3).
func SessionID(allIDs party.IDSlice) []byte {
	h := hash.New()
	sorted := party.NewIDSlice(allIDs)
	for _, id := range sorted {
		_ = h.WriteBytes("simple-session-party", []byte(id))
	}
	return h.Sum()
}

// RunSync drives one in-process run of the protocol to completion for
// every party, emulating a fully synchronous, always-delivered network —
// a test and demonstration harness, not a transport (spec.md explicitly
// leaves the network out of scope). It returns each party's terminal
// Report.
func RunSync(rng io.Reader, allIDs party.IDSlice, signers map[party.ID]signer.Signer, verifier signer.Verifier, c codec.Codec) (map[party.ID]*session.Report, error) {
	sid := SessionID(allIDs)
	positions := SharedData(allIDs)
	protocol := Protocol{Codec: c}

	sessions := make(map[party.ID]*session.Session, len(allIDs))
	madeFor := make(map[party.ID]round.RoundID)

	for _, id := range allIDs {
		cfg := session.Config{
			MyID: id, Parties: allIDs,
			Signer: signers[id], Verifier: verifier,
			Codec: c, Protocol: protocol, SharedData: positions,
		}
		sess, err := session.New(cfg, sid, New(id, allIDs, c))
		if err != nil {
			return nil, err
		}
		sessions[id] = sess
	}

	deliver := func(dest *session.Session, b session.Bundle) error {
		for _, m := range []*round.SignedMessage{b.Direct, b.EchoBroadcast, b.NormalBroadcast} {
			if m == nil {
				continue
			}
			if _, err := dest.PreprocessMessage(*m); err != nil {
				if _, ok := err.(*round.UnprovableError); !ok {
					return err
				}
			}
		}
		return nil
	}

	for iter := 0; iter < 64; iter++ {
		allDone := true
		for id, sess := range sessions {
			if sess.Terminated() {
				continue
			}
			allDone = false
			cur := sess.CurrentRoundID()
			if madeFor[id] == cur {
				continue
			}
			madeFor[id] = cur
			for _, dest := range sess.MessageDestinations() {
				bundle, err := sess.MakeMessage(rng, dest)
				if err != nil {
					return nil, err
				}
				if err := deliver(sessions[dest], bundle); err != nil {
					return nil, err
				}
			}
		}
		for _, sess := range sessions {
			if sess.Terminated() {
				continue
			}
			for _, sender := range sess.PendingSenders() {
				result, err := sess.ProcessMessage(rng, sender)
				if err != nil {
					continue
				}
				if err := sess.AddProcessedMessage(result); err != nil {
					return nil, err
				}
			}
		}
		for _, sess := range sessions {
			if sess.Terminated() {
				continue
			}
			if _, err := sess.FinalizeRound(rng); err != nil {
				return nil, err
			}
		}
		if allDone {
			break
		}
	}

	out := make(map[party.ID]*session.Report, len(sessions))
	for id, sess := range sessions {
		out[id] = sess.Report()
	}
	return out, nil
}
