// Package session implements the protocol-agnostic engine described in
// spec.md §4.5: it drives a graph of internal/round.Round values to
// completion, verifying every signature, classifying every message by
// round, inserting the internal/echo sub-round automatically whenever a
// round produces an echo broadcast, and turning every detected fault into
// either a local ban or replayable internal/round.Evidence.
//
// The engine is single-threaded and cooperative: MakeMessage and
// ProcessMessage are pure functions of the session's current round and
// may be dispatched to pkg/pool workers by the caller, but every mutation
// of session state happens inside the methods below, called serially.
package session

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/taurusgroup/byzantine-protocol/internal/accum"
	"github.com/taurusgroup/byzantine-protocol/internal/echo"
	"github.com/taurusgroup/byzantine-protocol/internal/round"
	"github.com/taurusgroup/byzantine-protocol/pkg/codec"
	"github.com/taurusgroup/byzantine-protocol/pkg/party"
	"github.com/taurusgroup/byzantine-protocol/pkg/signer"
)

// Config bundles everything a Session needs that is independent of any
// specific protocol run: identity, signing, wire format, the protocol's
// evidence-replay hooks, and shared protocol inputs.
type Config struct {
	MyID             party.ID
	Parties          party.IDSlice
	Signer           signer.Signer
	Verifier         signer.Verifier
	Codec            codec.Codec
	Protocol         round.Protocol
	SharedRandomness []byte
	SharedData       interface{}
}

// Bundle is everything MakeMessage produces for one destination: the
// direct message meant only for them, plus this round's echo and normal
// broadcasts, which are identical (bitwise, signature included) across
// every destination.
type Bundle struct {
	Direct          *round.SignedMessage
	EchoBroadcast   *round.SignedMessage
	NormalBroadcast *round.SignedMessage
}

// MessageClass is PreprocessMessage's verdict on an incoming signed
// message (spec.md §4.5 "preprocess_message").
type MessageClass int

const (
	// ClassRejected means the message was dropped. With a nil error it
	// is not addressed to this party's current session or round
	// contract, or its sender is already banned. With an
	// UnprovableError, PreprocessMessage's doc says whether the sender
	// was also banned.
	ClassRejected MessageClass = iota
	// ClassAccepted means the message matches the current round and its
	// signature verified; it is now queued for ProcessMessage.
	ClassAccepted
	// ClassCached means the message is for a declared-possible future
	// round and has been stored for replay once that round becomes
	// current.
	ClassCached
)

// ProcessResult is the pure output of ProcessMessage: the caller merges it
// into the session with AddProcessedMessage.
type ProcessResult struct {
	Sender          party.ID
	Payload         round.Payload
	Direct          *round.SignedMessage
	EchoBroadcast   *round.SignedMessage
	NormalBroadcast *round.SignedMessage
	Err             error
}

// FinalizeStatus is FinalizeRound's verdict.
type FinalizeStatus int

const (
	FinalizeNotReady FinalizeStatus = iota
	FinalizeAdvanced
	FinalizeResult
	FinalizeStalled
)

type pending struct {
	direct, echoBC, normalBC *round.SignedMessage
}

// Session drives one run of a round graph for one local party.
type Session struct {
	cfg       Config
	sessionID []byte

	currentRound   round.Round
	currentRoundID round.RoundID
	currentComm    round.CommunicationInfo
	accumulator    *accum.Accumulator

	echoBroadcast   *round.SignedMessage
	normalBroadcast *round.SignedMessage
	broadcastsMade  bool

	pendingParts map[party.ID]*pending
	echoSeen     map[party.ID]round.SignedMessage

	futureCache map[round.RoundID]map[party.ID][]round.SignedMessage

	banned    map[party.ID]struct{}
	transcript *Transcript

	done   bool
	report *Report
}

// New starts a session for the first round, first, under the given
// session id (spec.md §3: the session id binds every signature to one run
// so messages cannot be replayed across sessions). The id is used as
// passed; New does not derive it.
func New(cfg Config, sessionID []byte, first round.Round) (*Session, error) {
	if len(sessionID) == 0 {
		return nil, errors.New("session: empty session id")
	}
	s := &Session{
		cfg:         cfg,
		sessionID:   append([]byte(nil), sessionID...),
		banned:      make(map[party.ID]struct{}),
		transcript:  newTranscript(),
		futureCache: make(map[round.RoundID]map[party.ID][]round.SignedMessage),
	}
	s.transitionTo(first.TransitionInfo().ID, first)
	return s, nil
}

// SessionID returns the session's binding identifier.
func (s *Session) SessionID() []byte { return append([]byte(nil), s.sessionID...) }

// CurrentRoundID returns the round currently being driven.
func (s *Session) CurrentRoundID() round.RoundID { return s.currentRoundID }

// Terminated reports whether the session has reached a result or stalled.
func (s *Session) Terminated() bool { return s.done }

// Report returns the terminal report, or nil if the session has not
// finished.
func (s *Session) Report() *Report { return s.report }

// IsBanned reports whether id has been banned, in this round or any
// earlier one: once banned, a party stays banned for the rest of the
// session (DESIGN.md records how this open question was resolved).
func (s *Session) IsBanned(id party.ID) bool {
	_, ok := s.banned[id]
	return ok
}

// MessageDestinations returns who this round's outgoing messages must go
// to, excluding anyone already banned.
func (s *Session) MessageDestinations() party.IDSlice {
	out := make(party.IDSlice, 0, len(s.currentComm.MessageDestinations))
	for _, id := range s.currentComm.MessageDestinations {
		if !s.IsBanned(id) {
			out = append(out, id)
		}
	}
	return out
}

// PendingSenders returns the senders with at least one this-round part
// accepted, including senders ProcessMessage has already resolved (for
// those, ProcessMessage returns an error instead of running the round).
func (s *Session) PendingSenders() party.IDSlice {
	out := make(party.IDSlice, 0, len(s.pendingParts))
	for id := range s.pendingParts {
		out = append(out, id)
	}
	return party.NewIDSlice(out)
}

func (s *Session) ensureBroadcastsMade(rng io.Reader) error {
	if s.broadcastsMade {
		return nil
	}
	s.broadcastsMade = true

	echoPart, err := s.currentRound.MakeEchoBroadcast(rng)
	if err != nil {
		return &round.LocalError{Err: err}
	}
	if !echoPart.IsNone() {
		meta := round.Metadata{SessionID: s.sessionID, RoundID: s.currentRoundID, Sender: s.cfg.MyID}
		signed, err := round.Sign(s.cfg.Signer, meta, round.PartEchoBroadcast, echoPart)
		if err != nil {
			return &round.LocalError{Err: err}
		}
		s.echoBroadcast = &signed
		s.echoSeen[s.cfg.MyID] = signed
	}

	normalPart, err := s.currentRound.MakeNormalBroadcast(rng)
	if err != nil {
		return &round.LocalError{Err: err}
	}
	if !normalPart.IsNone() {
		meta := round.Metadata{SessionID: s.sessionID, RoundID: s.currentRoundID, Sender: s.cfg.MyID}
		signed, err := round.Sign(s.cfg.Signer, meta, round.PartNormalBroadcast, normalPart)
		if err != nil {
			return &round.LocalError{Err: err}
		}
		s.normalBroadcast = &signed
	}
	return nil
}

// MakeMessage produces the bundle to send to dest for the current round
// (spec.md §4.5 "make_message"). Calling it for several destinations is
// safe to parallelize via pkg/pool: the echo/normal broadcasts are
// computed once and memoized, and each destination's artifact is recorded
// independently.
func (s *Session) MakeMessage(rng io.Reader, dest party.ID) (Bundle, error) {
	if s.done {
		return Bundle{}, errors.New("session: already terminated")
	}
	if err := s.ensureBroadcastsMade(rng); err != nil {
		return Bundle{}, err
	}

	part, artifact, err := s.currentRound.MakeDirectMessage(rng, dest)
	if err != nil {
		return Bundle{}, &round.LocalError{Err: err}
	}
	var direct *round.SignedMessage
	if !part.IsNone() {
		meta := round.Metadata{SessionID: s.sessionID, RoundID: s.currentRoundID, Sender: s.cfg.MyID, Destination: dest}
		signed, err := round.Sign(s.cfg.Signer, meta, round.PartDirect, part)
		if err != nil {
			return Bundle{}, &round.LocalError{Err: err}
		}
		direct = &signed
	}
	if artifact != nil {
		s.accumulator.AddArtifact(dest, artifact)
	}
	return Bundle{Direct: direct, EchoBroadcast: s.echoBroadcast, NormalBroadcast: s.normalBroadcast}, nil
}

func (s *Session) expecting(id party.ID) bool {
	for _, p := range s.currentComm.ExpectingMessagesFrom {
		if p == id {
			return true
		}
	}
	return false
}

// PreprocessMessage classifies an incoming signed message: rejects
// messages from banned senders or with incoherent metadata, verifies the
// signature for this-round messages, and caches messages for a
// declared-possible future round (spec.md §4.5 "preprocess_message").
// A this-round message whose signature does not verify, or a message for
// a round this session cannot reach, bans its claimed sender and returns
// an UnprovableError. A broadcast carrying a destination, or a message
// from a sender this round does not expect, returns an UnprovableError
// without a ban.
func (s *Session) PreprocessMessage(msg round.SignedMessage) (MessageClass, error) {
	rejectAndBan := func(reason string) (MessageClass, error) {
		err := &round.UnprovableError{Reason: reason}
		s.ban(msg.Metadata.Sender, err.Error(), nil)
		s.accumulator.RecordFault(msg.Metadata.Sender, err)
		return ClassRejected, err
	}
	if s.done {
		return ClassRejected, errors.New("session: already terminated")
	}
	if s.IsBanned(msg.Metadata.Sender) {
		return ClassRejected, nil
	}
	if !bytes.Equal(msg.Metadata.SessionID, s.sessionID) {
		return ClassRejected, nil
	}
	if msg.Kind != round.PartDirect && msg.Metadata.Destination != "" {
		return ClassRejected, &round.UnprovableError{Reason: "broadcast message carries a destination"}
	}
	if msg.Kind == round.PartDirect && msg.Metadata.Destination != s.cfg.MyID {
		return ClassRejected, nil
	}

	if msg.Metadata.RoundID == s.currentRoundID {
		if !s.expecting(msg.Metadata.Sender) {
			return ClassRejected, &round.UnprovableError{Reason: "message from a sender this round does not expect"}
		}
		if !msg.Verify(s.cfg.Verifier) {
			return rejectAndBan("signature does not verify")
		}
		s.storeAccepted(msg)
		return ClassAccepted, nil
	}

	if s.currentRound.TransitionInfo().IsPossibleNext(msg.Metadata.RoundID) || msg.Metadata.RoundID == s.currentRoundID.Echo() {
		if s.futureCache[msg.Metadata.RoundID] == nil {
			s.futureCache[msg.Metadata.RoundID] = make(map[party.ID][]round.SignedMessage)
		}
		s.futureCache[msg.Metadata.RoundID][msg.Metadata.Sender] = append(s.futureCache[msg.Metadata.RoundID][msg.Metadata.Sender], msg)
		return ClassCached, nil
	}

	return rejectAndBan("message for an unreachable round")
}

func (s *Session) storeAccepted(msg round.SignedMessage) {
	p := s.pendingParts[msg.Metadata.Sender]
	if p == nil {
		p = &pending{}
		s.pendingParts[msg.Metadata.Sender] = p
	}
	switch msg.Kind {
	case round.PartDirect:
		m := msg
		p.direct = &m
	case round.PartEchoBroadcast:
		m := msg
		p.echoBC = &m
		s.echoSeen[msg.Metadata.Sender] = msg
	case round.PartNormalBroadcast:
		m := msg
		p.normalBC = &m
	}
}

// ProcessMessage runs the current round's ReceiveMessage for sender
// against whatever this-round parts have been accepted so far (spec.md
// §4.5 "process_message"). This is the operation safe to dispatch to a
// pkg/pool worker: its only accumulator write is the mutex-guarded
// MarkProcessing claim on sender; the result is merged later by
// AddProcessedMessage.
func (s *Session) ProcessMessage(rng io.Reader, sender party.ID) (ProcessResult, error) {
	if !s.accumulator.MarkProcessing(sender) {
		return ProcessResult{}, errAlreadyInFlight
	}
	p := s.pendingParts[sender]
	var parts round.MessageParts
	var direct, echoBC, normalBC *round.SignedMessage
	if p != nil {
		direct, echoBC, normalBC = p.direct, p.echoBC, p.normalBC
		if p.direct != nil {
			parts.Direct = p.direct.Part
		}
		if p.echoBC != nil {
			parts.EchoBroadcast = p.echoBC.Part
		}
		if p.normalBC != nil {
			parts.NormalBroadcast = p.normalBC.Part
		}
	}

	payload, err := s.currentRound.ReceiveMessage(sender, parts)
	return ProcessResult{
		Sender: sender, Payload: payload,
		Direct: direct, EchoBroadcast: echoBC, NormalBroadcast: normalBC,
		Err: err,
	}, nil
}

var errAlreadyInFlight = errors.New("session: message already being processed or already resolved")

// AddProcessedMessage merges a ProcessResult into the accumulator, or —
// if it carries a fault — bans the sender, recording Evidence for any
// fault the round attributes with a ProvableError, and remembers the ban
// for every later round too (spec.md §4.5 "add_processed_message").
func (s *Session) AddProcessedMessage(result ProcessResult) error {
	s.accumulator.UnmarkProcessing(result.Sender)

	if result.Err == nil {
		s.accumulator.AddProcessedMessage(result.Sender, result.Payload, result.Direct, result.EchoBroadcast, result.NormalBroadcast)
		return nil
	}

	switch e := result.Err.(type) {
	case *round.LocalError:
		return e
	case *round.UnprovableError:
		s.ban(result.Sender, e.Error(), nil)
		s.accumulator.RecordFault(result.Sender, e)
		return nil
	case *echo.InvalidPackError:
		ev := s.buildInvalidEchoPackEvidence(e, result)
		s.ban(e.Guilty, e.Error(), &ev)
		s.accumulator.RecordFault(e.Guilty, e)
		return nil
	case *echo.MismatchedBroadcastsError:
		ev := s.buildMismatchedBroadcastsEvidence(e)
		s.ban(e.Equivocator, e.Error(), &ev)
		s.accumulator.RecordFault(e.Equivocator, e)
		return nil
	case round.ProvableError:
		ev := s.buildProtocolErrorEvidence(e, result)
		s.ban(result.Sender, e.Error(), &ev)
		s.accumulator.RecordFault(result.Sender, e)
		return nil
	default:
		s.ban(result.Sender, e.Error(), nil)
		s.accumulator.RecordFault(result.Sender, e)
		return nil
	}
}

func (s *Session) ban(id party.ID, reason string, evidence *round.Evidence) {
	s.banned[id] = struct{}{}
	s.transcript.recordBan(id, reason, evidence)
}

// buildProtocolErrorEvidence attaches the this-round parts e requires.
// Earlier-round parts and combined echo packs named in e's
// RequiredMessages are not attached.
func (s *Session) buildProtocolErrorEvidence(e round.ProvableError, result ProcessResult) round.Evidence {
	req := e.RequiredMessages()
	data, _ := s.cfg.Codec.Serialize(e)
	ev := round.Evidence{
		Guilty: result.Sender, Kind: round.EvidenceProtocolError,
		RoundID: s.currentRoundID, Description: e.Error(), ErrorData: data,
	}
	if req.ThisRound.Direct {
		ev.ThisRound.Direct = result.Direct
	}
	if req.ThisRound.EchoBroadcast {
		ev.ThisRound.EchoBroadcast = result.EchoBroadcast
	}
	if req.ThisRound.NormalBroadcast {
		ev.ThisRound.NormalBroadcast = result.NormalBroadcast
	}
	return ev
}

func (s *Session) buildInvalidEchoPackEvidence(e *echo.InvalidPackError, result ProcessResult) round.Evidence {
	ev := round.Evidence{
		Guilty: e.Guilty, Kind: round.EvidenceInvalidEchoPack,
		RoundID: s.currentRoundID, Description: e.Error(),
		AccusedSender: e.Accused, AccusedMissing: e.Missing,
	}
	if result.NormalBroadcast != nil {
		ev.ThisRound.NormalBroadcast = result.NormalBroadcast
	}
	if e.HaveEntry {
		ev.Pack = map[party.ID]round.SignedMessage{e.Accused: e.Entry}
	}
	return ev
}

func (s *Session) buildMismatchedBroadcastsEvidence(e *echo.MismatchedBroadcastsError) round.Evidence {
	conflicting := e.SeenByOther
	return round.Evidence{
		Guilty: e.Equivocator, Kind: round.EvidenceMismatchedBroadcasts,
		RoundID: s.currentRoundID.NonEcho(), Description: e.Error(),
		ThisRound:   round.SignedParts{EchoBroadcast: &e.SeenByMe},
		Conflicting: &conflicting,
	}
}

// FinalizeRound attempts to advance past the current round (spec.md §4.5
// "finalize_round"). It inserts the echo sub-round automatically when the
// just-completed round produced an echo broadcast.
func (s *Session) FinalizeRound(rng io.Reader) (FinalizeStatus, error) {
	if s.done {
		return FinalizeStalled, errors.New("session: already terminated")
	}
	switch s.accumulator.CanFinalize() {
	case accum.CanFinalizeNever:
		s.transcript.recordRound(s.snapshotRound())
		s.finishStalled()
		return FinalizeStalled, nil
	case accum.CanFinalizeNotYet:
		return FinalizeNotReady, nil
	}
	// Quorum is met: this round's contribution to the transcript is final
	// (spec.md §4.5 step (a) — accepted parts, errors, and missing senders
	// are recorded before the round is ever left behind).
	s.transcript.recordRound(s.snapshotRound())

	if !s.currentRoundID.IsEcho() && s.echoBroadcast != nil {
		er := echo.New(
			s.currentRound, s.currentRoundID, s.cfg.MyID,
			echo.Pack(s.echoSeen),
			append(party.IDSlice(nil), s.currentComm.ExpectingMessagesFrom...),
			s.currentComm.EchoParticipation,
			s.cfg.Codec,
			s.cfg.Verifier,
			s.accumulator.Payloads(), s.accumulator.Artifacts(),
		)
		s.transitionTo(s.currentRoundID.Echo(), er)
		return FinalizeAdvanced, nil
	}

	outcome, err := s.currentRound.Finalize(rng, s.accumulator.Payloads(), s.accumulator.Artifacts())
	if err != nil {
		// Finalize has already seen every accepted payload pass
		// ReceiveMessage; a failure here reflects an aggregation
		// invariant the round itself could not reconcile, not a
		// single sender's fault, so it always aborts the session
		// (spec.md §4.6 "Local: bug, abort").
		s.done = true
		return FinalizeStalled, &round.LocalError{Err: err}
	}
	if outcome.IsResult() {
		s.finishResult(outcome.ResultValue())
		return FinalizeResult, nil
	}
	next := outcome.NextRound()
	nextID := next.TransitionInfo().ID
	if !s.currentRound.TransitionInfo().IsPossibleNext(nextID) {
		// spec.md §4.5 step (c): next.id must be declared reachable from
		// the round that produced it. A round claiming otherwise is a bug
		// in that round, not an attributable sender fault.
		s.done = true
		return FinalizeStalled, &round.LocalError{Err: fmt.Errorf(
			"session: round %s finalized into %s, which is not in its declared possible_next_rounds",
			s.currentRoundID, nextID,
		)}
	}
	s.transitionTo(nextID, next)
	return FinalizeAdvanced, nil
}

// snapshotRound captures the current round's transcript contribution
// before the round is finalized away: every accepted signed part, and
// whoever this round expected but never heard from (spec.md §3
// "Transcript").
func (s *Session) snapshotRound() RoundRecord {
	return RoundRecord{
		RoundID:         s.currentRoundID,
		Direct:          s.accumulator.DirectMessages(),
		EchoBroadcast:   s.accumulator.EchoBroadcasts(),
		NormalBroadcast: s.accumulator.NormalBroadcasts(),
		MissingSenders:  s.accumulator.Missing(),
	}
}

func (s *Session) transitionTo(id round.RoundID, r round.Round) {
	s.currentRound = r
	s.currentRoundID = id
	s.currentComm = r.CommunicationInfo()

	expecting := make(party.IDSlice, 0, len(s.currentComm.ExpectingMessagesFrom))
	for _, p := range s.currentComm.ExpectingMessagesFrom {
		if !s.IsBanned(p) {
			expecting = append(expecting, p)
		}
	}
	s.accumulator = accum.New(id, s.currentComm, expecting)
	s.echoBroadcast = nil
	s.normalBroadcast = nil
	s.broadcastsMade = false
	s.pendingParts = make(map[party.ID]*pending)
	s.echoSeen = make(map[party.ID]round.SignedMessage)

	for sender, msgs := range s.futureCache[id] {
		if s.IsBanned(sender) || !s.expecting(sender) {
			continue
		}
		for _, msg := range msgs {
			if msg.Verify(s.cfg.Verifier) {
				s.storeAccepted(msg)
			}
		}
	}
	delete(s.futureCache, id)
}

func (s *Session) finishResult(value interface{}) {
	s.done = true
	s.report = &Report{
		Outcome:  OutcomeResult,
		Result:   value,
		Rounds:   s.transcript.roundRecords(),
		Banned:   s.transcript.banned(),
		Evidence: s.transcript.evidenceBySender(),
	}
}

func (s *Session) finishStalled() {
	s.done = true
	s.report = &Report{
		Outcome:        OutcomeStalled,
		StalledAtRound: s.currentRoundID,
		MissingSenders: s.accumulator.Missing(),
		Rounds:         s.transcript.roundRecords(),
		Banned:         s.transcript.banned(),
		Evidence:       s.transcript.evidenceBySender(),
	}
}
