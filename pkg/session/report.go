package session

import (
	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
)

// Outcome is the closed set of ways a Session can terminate (spec.md §3
// "Report"): either it reached a protocol result, or it stalled because
// quorum became unreachable in some round.
type Outcome int

const (
	OutcomeResult Outcome = iota
	OutcomeStalled
)

// Report is the terminal summary of a Session: the result (if any), every
// ban decided along the way with its reason, and the Evidence an outside
// party could use to check each provable one independently.
type Report struct {
	Outcome Outcome

	// Result is set only when Outcome == OutcomeResult.
	Result interface{}

	// StalledAtRound and MissingSenders describe the round the session
	// stalled at; set only when Outcome == OutcomeStalled. Rounds carries
	// the same information (and more) for every round the session ever
	// finalized past, including the stalled one.
	StalledAtRound round.RoundID
	MissingSenders party.IDSlice
	Rounds         []RoundRecord

	Banned   map[party.ID]string
	Evidence map[party.ID]round.Evidence
}
