// Package session owns the current-room state machine of one client.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

type State string

const (
	Idle    State = "idle"
	Joining State = "joining"
	Joined  State = "joined"
	Leaving State = "leaving"
)

const (
	evJoin    = "join"
	evSwitch  = "switch"
	evJoined  = "joined"
	evFail    = "fail"
	evLeave   = "leave"
	evLeft    = "left"
	evDropped = "dropped"
)

// Roster receives the remote participants of the joined room.
type Roster interface {
	Initialize(participants []core.RemoteParticipant)
	Add(p core.RemoteParticipant)
	Remove(p core.RemoteParticipant)
	Loudest(p core.RemoteParticipant)
	Clear()
}

// LocalRender detaches the local published tracks from their render surfaces.
type LocalRender interface {
	Finalize()
}

// Notifier tells other clients that a room changed.
type Notifier interface {
	RoomJoined(ctx context.Context, sid domain.RoomSID) error
	RoomLeft(ctx context.Context, sid domain.RoomSID) error
}

// Transition is emitted after every state change.
type Transition struct {
	From, To State
	Room     domain.RoomSID
}

type Session struct {
	tokens  core.TokenSource
	network core.MediaNetwork
	roster  Roster
	local   LocalRender
	notify  Notifier
	logger  zerolog.Logger

	// transition serializes Join, Leave and drop handling.
	transition sync.Mutex
	machine    *fsm.FSM

	mu         sync.Mutex
	room       core.Room
	offs       []func()
	joinSeq    uint64
	joinCancel context.CancelCauseFunc

	// gate guards epoch. Room callbacks hold the read lock while applying.
	gate  sync.RWMutex
	epoch uint64

	transitions events.Emitter[Transition]
}

type Option func(*Session)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithLocalRender(l LocalRender) Option {
	return func(s *Session) { s.local = l }
}

func WithNotifier(n Notifier) Option {
	return func(s *Session) { s.notify = n }
}

func New(tokens core.TokenSource, network core.MediaNetwork, roster Roster, opts ...Option) *Session {
	s := &Session{
		tokens:  tokens,
		network: network,
		roster:  roster,
		logger:  log.With().Str("module", "app.session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.machine = fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: evJoin, Src: []string{string(Idle)}, Dst: string(Joining)},
			{Name: evSwitch, Src: []string{string(Joined)}, Dst: string(Joining)},
			{Name: evJoined, Src: []string{string(Joining)}, Dst: string(Joined)},
			{Name: evFail, Src: []string{string(Joining)}, Dst: string(Idle)},
			{Name: evLeave, Src: []string{string(Joined)}, Dst: string(Leaving)},
			{Name: evLeft, Src: []string{string(Leaving)}, Dst: string(Idle)},
			{Name: evDropped, Src: []string{string(Joined)}, Dst: string(Idle)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.logger.Debug().Str("event", e.Event).Str("from", e.Src).Str("to", e.Dst).Msg("state changed")
			},
		},
	)
	return s
}

func (s *Session) State() State { return State(s.machine.Current()) }

// Room returns the joined room, or nil.
func (s *Session) Room() core.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// OnTransition registers fn for state changes. fn runs while the transition
// is held, so it must not call Join or Leave.
func (s *Session) OnTransition(fn func(Transition)) func() {
	return s.transitions.On(fn)
}

func (s *Session) fire(op, event string, sid domain.RoomSID) error {
	from := s.State()
	if err := s.machine.Event(context.Background(), event); err != nil {
		return &core.StateConflictError{Op: op, State: string(from), Err: err}
	}
	s.transitions.Emit(Transition{From: from, To: s.State(), Room: sid})
	return nil
}

// Join connects to the room called name and publishes tracks. A joined room
// is fully left first. A later Join or a Leave supersedes a Join in flight,
// which then returns ErrJoinSuperseded. Failures are never retried.
func (s *Session) Join(ctx context.Context, name domain.RoomName, tracks []core.LocalTrack) (core.Room, error) {
	if _, err := domain.NewRoomName(string(name)); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.mu.Lock()
	if s.joinCancel != nil {
		s.joinCancel(core.ErrJoinSuperseded)
	}
	s.joinSeq++
	seq := s.joinSeq
	s.joinCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.joinSeq == seq {
			s.joinCancel = nil
		}
		s.mu.Unlock()
	}()

	s.transition.Lock()
	defer s.transition.Unlock()

	if superseded(ctx) {
		return nil, core.ErrJoinSuperseded
	}

	switch s.State() {
	case Joined:
		old := s.Room()
		if err := s.fire("join", evSwitch, old.SID()); err != nil {
			return nil, err
		}
		s.teardown(ctx, old)
	default:
		if err := s.fire("join", evJoin, ""); err != nil {
			return nil, err
		}
	}

	logger := s.logger.With().Str("room", string(name)).Logger()

	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, s.failJoin(ctx, logger, &core.ConnectionError{Room: name, Op: "token", Err: err})
	}

	room, err := s.network.Connect(ctx, token, core.ConnectOptions{
		Name:            name,
		Tracks:          tracks,
		DominantSpeaker: true,
	})
	if err != nil {
		return nil, s.failJoin(ctx, logger, &core.ConnectionError{Room: name, Op: "connect", Err: err})
	}
	if superseded(ctx) {
		room.Disconnect()
		return nil, s.failJoin(ctx, logger, nil)
	}

	epoch := s.wire(room)
	s.roster.Initialize(room.Participants())
	if err := s.fire("join", evJoined, room.SID()); err != nil {
		return nil, err
	}
	logger.Info().Str("sid", string(room.SID())).Uint64("epoch", epoch).Int("tracks", len(tracks)).Msg("joined")

	if s.notify != nil {
		if err := s.notify.RoomJoined(ctx, room.SID()); err != nil {
			logger.Warn().Err(err).Msg("announce join")
		}
	}
	return room, nil
}

func superseded(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), core.ErrJoinSuperseded)
}

// failJoin returns to Idle. A superseded join reports ErrJoinSuperseded
// instead of the connection error it ran into.
func (s *Session) failJoin(ctx context.Context, logger zerolog.Logger, cerr *core.ConnectionError) error {
	if err := s.fire("join", evFail, ""); err != nil {
		return err
	}
	if superseded(ctx) {
		logger.Debug().Msg("join superseded")
		return core.ErrJoinSuperseded
	}
	logger.Error().Err(cerr).Msg("join failed")
	return cerr
}

// wire registers the room handlers under a fresh epoch.
func (s *Session) wire(room core.Room) uint64 {
	s.gate.Lock()
	s.epoch++
	epoch := s.epoch
	s.gate.Unlock()

	offs := []func(){
		room.OnDisconnected(func(err error) { s.dropped(epoch, err) }),
		room.OnParticipantConnected(func(p core.RemoteParticipant) {
			s.apply(epoch, "participantConnected", func() { s.roster.Add(p) })
		}),
		room.OnParticipantDisconnected(func(p core.RemoteParticipant) {
			s.apply(epoch, "participantDisconnected", func() { s.roster.Remove(p) })
		}),
		room.OnDominantSpeakerChanged(func(p core.RemoteParticipant) {
			s.apply(epoch, "dominantSpeakerChanged", func() { s.roster.Loudest(p) })
		}),
	}

	s.mu.Lock()
	s.room = room
	s.offs = offs
	s.mu.Unlock()
	return epoch
}

// apply runs fn only if epoch still names the joined room.
func (s *Session) apply(epoch uint64, event string, fn func()) {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if epoch != s.epoch {
		s.logger.Debug().Str("event", event).Uint64("epoch", epoch).Msg("late callback ignored")
		return
	}
	fn()
}

func (s *Session) invalidate() {
	s.gate.Lock()
	s.epoch++
	s.gate.Unlock()
}

// teardown leaves room: handlers off, disconnect, detach local and remote
// render surfaces, then announce.
func (s *Session) teardown(ctx context.Context, room core.Room) {
	s.invalidate()

	s.mu.Lock()
	offs := s.offs
	s.offs = nil
	s.room = nil
	s.mu.Unlock()
	for _, off := range offs {
		off()
	}

	room.Disconnect()
	if s.local != nil {
		s.local.Finalize()
	}
	s.roster.Clear()
	s.logger.Info().Str("sid", string(room.SID())).Msg("left")

	if s.notify != nil {
		if err := s.notify.RoomLeft(ctx, room.SID()); err != nil {
			s.logger.Warn().Err(err).Str("sid", string(room.SID())).Msg("announce leave")
		}
	}
}

// Leave disconnects from the joined room and cancels a join in flight.
// Leaving while idle is a no-op.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.joinCancel != nil {
		s.joinCancel(core.ErrJoinSuperseded)
	}
	s.mu.Unlock()

	s.transition.Lock()
	defer s.transition.Unlock()

	if s.State() == Idle {
		return nil
	}
	room := s.Room()
	if room == nil {
		return &core.StateConflictError{Op: "leave", State: string(s.State()), Err: core.ErrNotJoined}
	}
	if err := s.fire("leave", evLeave, room.SID()); err != nil {
		return err
	}
	s.teardown(ctx, room)
	return s.fire("leave", evLeft, room.SID())
}

// dropped handles a disconnect the client did not ask for.
func (s *Session) dropped(epoch uint64, cause error) {
	s.transition.Lock()
	defer s.transition.Unlock()

	s.gate.RLock()
	current := epoch == s.epoch
	s.gate.RUnlock()
	room := s.Room()
	if !current || room == nil {
		s.logger.Debug().Uint64("epoch", epoch).Msg("late disconnected ignored")
		return
	}

	s.logger.Warn().Err(cause).Str("sid", string(room.SID())).Msg("room disconnected")
	s.teardown(context.Background(), room)
	if err := s.fire("disconnected", evDropped, room.SID()); err != nil {
		s.logger.Error().Err(err).Msg("drop transition")
	}
}
