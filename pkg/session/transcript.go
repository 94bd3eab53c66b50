package session

import (
	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
)

// banEntry records why a party was banned and, when available, the
// Evidence a third party could use to reach the same verdict
// independently (spec.md §3 "Transcript").
type banEntry struct {
	reason   string
	evidence *round.Evidence
}

// RoundRecord is one round's contribution to the transcript (spec.md §3
// "Transcript"): every accepted signed part for that round, keyed by
// sender, plus whoever the round expected but never heard from by the time
// it finalized. The transcript grows by one RoundRecord per round the
// session actually finalizes (including the round it stalls at), never
// fewer.
type RoundRecord struct {
	RoundID         round.RoundID
	Direct          map[party.ID]round.SignedMessage
	EchoBroadcast   map[party.ID]round.SignedMessage
	NormalBroadcast map[party.ID]round.SignedMessage
	MissingSenders  party.IDSlice
}

// Transcript accumulates every ban decided over the life of a Session, in
// the order they happened, together with a RoundRecord for every round the
// session has finalized past.
type Transcript struct {
	order   party.IDSlice
	entries map[party.ID]banEntry
	rounds  []RoundRecord
}

func newTranscript() *Transcript {
	return &Transcript{entries: make(map[party.ID]banEntry)}
}

// recordRound appends rec to the transcript. Rounds are recorded in the
// order they finalize, so the slice never needs reordering or dedup.
func (t *Transcript) recordRound(rec RoundRecord) {
	t.rounds = append(t.rounds, rec)
}

// roundRecords returns a copy of every RoundRecord appended so far.
func (t *Transcript) roundRecords() []RoundRecord {
	return append([]RoundRecord(nil), t.rounds...)
}

func (t *Transcript) recordBan(id party.ID, reason string, evidence *round.Evidence) {
	if _, already := t.entries[id]; already {
		return
	}
	t.order = append(t.order, id)
	t.entries[id] = banEntry{reason: reason, evidence: evidence}
}

func (t *Transcript) banned() map[party.ID]string {
	out := make(map[party.ID]string, len(t.entries))
	for id, e := range t.entries {
		out[id] = e.reason
	}
	return out
}

func (t *Transcript) evidenceBySender() map[party.ID]round.Evidence {
	out := make(map[party.ID]round.Evidence)
	for id, e := range t.entries {
		if e.evidence != nil {
			out[id] = *e.evidence
		}
	}
	return out
}
