package round

// Protocol lets an Evidence be re-verified by a party holding no
// party-local round state at all, only the round graph's static shape
// (spec.md §4.6, §9 "typed round erased in engine"). A protocol author
// implements this once per protocol by dispatching on RoundID to the
// concrete round type that id names.
type Protocol interface {
	// VerifyDirectMessageIsInvalid reports nil if part could not possibly
	// have come from an honest party.MakeDirectMessage call for roundID:
	// either it fails to deserialize as the round's declared direct
	// message type, or the round declares the slot absent and part is
	// present (or vice versa).
	VerifyDirectMessageIsInvalid(roundID RoundID, part MessagePart) error

	// VerifyEchoBroadcastIsInvalid is the same check for the echo
	// broadcast slot.
	VerifyEchoBroadcastIsInvalid(roundID RoundID, part MessagePart) error

	// VerifyNormalBroadcastIsInvalid is the same check for the normal
	// broadcast slot.
	VerifyNormalBroadcastIsInvalid(roundID RoundID, part MessagePart) error

	// DecodeProvableError deserializes data into the concrete
	// ProvableError type the round named by roundID returns from
	// ReceiveMessage or Finalize, so that its VerifyEvidence method can
	// be invoked.
	DecodeProvableError(roundID RoundID, data []byte) (ProvableError, error)
}
