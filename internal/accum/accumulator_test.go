package accum_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taurusgroup/byzantine-protocol/internal/accum"
	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
)

func TestCanFinalizeTransitionsNotYetToYes(t *testing.T) {
	expecting := party.NewIDSlice([]party.ID{"a", "b", "c"})
	comm := round.Regular(expecting)
	a := accum.New(round.NewRoundID(1), comm, expecting)

	assert.Equal(t, accum.CanFinalizeNotYet, a.CanFinalize())

	a.AddProcessedMessage("a", struct{}{}, nil, nil, nil)
	a.AddProcessedMessage("b", struct{}{}, nil, nil, nil)
	assert.Equal(t, accum.CanFinalizeNotYet, a.CanFinalize())

	a.AddProcessedMessage("c", struct{}{}, nil, nil, nil)
	assert.Equal(t, accum.CanFinalizeYes, a.CanFinalize())
}

func TestCanFinalizeNeverOnceQuorumUnreachable(t *testing.T) {
	expecting := party.NewIDSlice([]party.ID{"a", "b", "c"})
	comm := round.Regular(expecting)
	a := accum.New(round.NewRoundID(1), comm, expecting)

	a.AddProcessedMessage("a", struct{}{}, nil, nil, nil)
	a.RecordFault("b", errors.New("bad"))
	assert.Equal(t, accum.CanFinalizeNever, a.CanFinalize())
}

func TestThresholdQuorumAllowsYesWithoutEveryone(t *testing.T) {
	expecting := party.NewIDSlice([]party.ID{"a", "b", "c", "d"})
	comm := round.CommunicationInfo{
		MessageDestinations: expecting, ExpectingMessagesFrom: expecting,
		Quorum: round.ThresholdOf(2),
	}
	a := accum.New(round.NewRoundID(1), comm, expecting)

	a.AddProcessedMessage("a", struct{}{}, nil, nil, nil)
	a.AddProcessedMessage("b", struct{}{}, nil, nil, nil)
	a.AddProcessedMessage("c", struct{}{}, nil, nil, nil)
	assert.Equal(t, accum.CanFinalizeYes, a.CanFinalize())
}

func TestMarkProcessingPreventsDoubleClaim(t *testing.T) {
	expecting := party.NewIDSlice([]party.ID{"a", "b"})
	a := accum.New(round.NewRoundID(1), round.Regular(expecting), expecting)

	assert.True(t, a.MarkProcessing("a"))
	assert.False(t, a.MarkProcessing("a"))
	a.UnmarkProcessing("a")
	assert.True(t, a.MarkProcessing("a"))
}
