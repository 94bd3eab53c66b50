package echo

import (
	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
)

// InvalidPackError and MismatchedBroadcastsError are always provable: the
// session engine recognizes them by type (rather than going through a
// protocol's ProvableError dispatch) and builds an EvidenceInvalidEchoPack
// or EvidenceMismatchedBroadcasts directly, since the verification logic
// for both lives in round.Evidence itself (spec.md §4.3, §4.6).

// InvalidPackError reports that Guilty's redistributed echo pack is
// malformed: either it fails to decode at all, omits an entry the
// reporting party expected, attributes mismatched metadata to Accused, or
// carries an entry for Accused whose signature does not verify.
type InvalidPackError struct {
	Guilty    party.ID
	Accused   party.ID
	Missing   bool
	HaveEntry bool
	Entry     round.SignedMessage
	Reason    string
}

func (e *InvalidPackError) Error() string { return "invalid echo pack: " + e.Reason }

// MismatchedBroadcastsError reports that Equivocator signed two different
// echo broadcasts for the same round: one seen directly by this party,
// one redistributed by FromPeer.
type MismatchedBroadcastsError struct {
	Equivocator party.ID
	SeenByMe    round.SignedMessage
	SeenByOther round.SignedMessage
	FromPeer    party.ID
}

func (e *MismatchedBroadcastsError) Error() string {
	return "mismatched broadcasts from " + string(e.Equivocator)
}
