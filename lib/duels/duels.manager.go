package duels

import (
	"arena/lib"
	"arena/lib/snapshot"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager owns every live duel session. Sessions are locked individually;
// the manager lock only guards the indexes.
type Manager struct {
	rules    Rules
	roller   Roller
	notifier Notifier
	settler  Settler
	now      func() time.Time

	mu        sync.RWMutex
	closed    bool
	sessions  map[string]*session
	by_player map[lib.PlayerID]map[string]struct{}
	purges    map[string]*time.Timer
}

func NewManager(rules Rules, roller Roller, notifier Notifier, settler Settler) *Manager {
	if roller == nil {
		roller = runtimeRoller{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if settler == nil {
		settler = nopSettler{}
	}
	return &Manager{
		rules:     rules.withDefaults(),
		roller:    roller,
		notifier:  notifier,
		settler:   settler,
		now:       time.Now,
		sessions:  make(map[string]*session),
		by_player: make(map[lib.PlayerID]map[string]struct{}),
		purges:    make(map[string]*time.Timer),
	}
}

// SetSettler replaces the settlement sink. It must be called before the
// first session opens.
func (m *Manager) SetSettler(settler Settler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settler = settler
}

func (m *Manager) Rules() Rules {
	return m.rules
}

// effects are produced under a session lock and delivered after it is released.
type effects struct {
	recipients [2]lib.PlayerID
	updates    []Update
	outcome    *Outcome
}

func newParticipant(snap snapshot.CombatSnapshot) Participant {
	return Participant{
		ID:       snap.OwnerID,
		Handle:   snap.OwnerHandle,
		Snapshot: snap,
		HP:       snap.HP,
		Energy:   snap.Energy,
	}
}

// Open creates an Active session. Live hp and energy start from the
// snapshots, not from the maximums.
func (m *Manager) Open(ctx context.Context, challenge_id string, challenger, defender snapshot.CombatSnapshot) (string, error) {
	if challenger.OwnerID == "" || defender.OwnerID == "" || challenger.OwnerID == defender.OwnerID {
		return "", ErrInvalidParticipants
	}

	s := &session{
		id:         uuid.New().String(),
		challenge:  challenge_id,
		seats:      [2]Participant{newParticipant(challenger), newParticipant(defender)},
		status:     StatusActive,
		created_at: m.now().UTC(),
		watchers:   make(map[int]chan Update),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	m.sessions[s.id] = s
	for _, p := range s.seats {
		if m.by_player[p.ID] == nil {
			m.by_player[p.ID] = make(map[string]struct{})
		}
		m.by_player[p.ID][s.id] = struct{}{}
	}
	m.mu.Unlock()

	s.mu.Lock()
	m.armIdleLocked(s)
	fx := effects{recipients: [2]lib.PlayerID{s.seats[0].ID, s.seats[1].ID}}
	fx.updates = append(fx.updates, s.update(nil))
	s.mu.Unlock()

	slog.Info("Duels : session opened",
		"session_id", s.id,
		"challenge_id", challenge_id,
		"a", challenger.OwnerID,
		"b", defender.OwnerID)
	m.dispatch(ctx, fx)
	return s.id, nil
}

// SubmitAction records the actor's action for the current turn and resolves
// the turn once both participants have acted.
func (m *Manager) SubmitAction(ctx context.Context, session_id string, action Action) (ActionResult, error) {
	s, err := m.lookup(session_id)
	if err != nil {
		return ActionResult{}, err
	}

	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return ActionResult{}, ErrSessionTerminal
	}
	seat, ok := s.seatOf(action.ActorID)
	if !ok {
		s.mu.Unlock()
		return ActionResult{}, ErrNotParticipant
	}
	if s.pending[seat] != nil {
		s.mu.Unlock()
		return ActionResult{}, ErrTurnAlreadySubmitted
	}
	planned, err := planAction(action, s.seats[seat], m.rules.Abilities)
	if err != nil {
		s.mu.Unlock()
		return ActionResult{}, err
	}

	s.seats[seat].Energy -= planned.ability.Cost
	s.seats[seat].Missed = 0
	s.pending[seat] = &planned
	turn := s.turn + 1

	var fx effects
	resolved := s.pending[1-seat] != nil
	if resolved {
		fx = m.resolveLocked(s)
	} else {
		m.armGraceLocked(s)
		m.armIdleLocked(s)
	}
	result := ActionResult{
		SessionID: s.id,
		Turn:      turn,
		Cost:      planned.ability.Cost,
		Resolved:  resolved,
		Session:   s.view(),
	}
	s.mu.Unlock()

	m.dispatch(ctx, fx)
	return result, nil
}

// Abandon ends an Active session. leaver_id may be empty when nobody is to blame.
func (m *Manager) Abandon(ctx context.Context, session_id string, leaver_id lib.PlayerID) (Session, error) {
	s, err := m.lookup(session_id)
	if err != nil {
		return Session{}, err
	}

	s.mu.Lock()
	if leaver_id != "" {
		if _, ok := s.seatOf(leaver_id); !ok {
			s.mu.Unlock()
			return Session{}, ErrNotParticipant
		}
	}
	if s.status.Terminal() {
		view := s.view()
		s.mu.Unlock()
		if view.Status == StatusAbandoned {
			return view, nil
		}
		return view, ErrSessionTerminal
	}

	m.endLocked(s, StatusAbandoned, "", leaver_id)
	fx := effects{recipients: [2]lib.PlayerID{s.seats[0].ID, s.seats[1].ID}}
	m.emitLocked(s, &fx, nil)
	view := s.view()
	s.mu.Unlock()

	slog.Info("Duels : session abandoned", "session_id", session_id, "leaver_id", leaver_id)
	m.dispatch(ctx, fx)
	return view, nil
}

// HandleDisconnect abandons every Active session of player_id with the
// player as leaver.
func (m *Manager) HandleDisconnect(ctx context.Context, player_id lib.PlayerID) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.by_player[player_id]))
	for id := range m.by_player[player_id] {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if _, err := m.Abandon(ctx, id, player_id); err != nil && !errors.Is(err, ErrSessionTerminal) && !errors.Is(err, ErrNotFound) {
			slog.Error("Duels : failed to abandon session on disconnect", "session_id", id, "error", err)
		}
	}
}

func (m *Manager) Get(session_id string) (Session, error) {
	s, err := m.lookup(session_id)
	if err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view(), nil
}

// ActiveFor lists the Active sessions player_id takes part in.
func (m *Manager) ActiveFor(player_id lib.PlayerID) []Session {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.by_player[player_id]))
	for id := range m.by_player[player_id] {
		if s, ok := m.sessions[id]; ok {
			sessions = append(sessions, s)
		}
	}
	m.mu.RUnlock()

	views := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		if !s.status.Terminal() {
			views = append(views, s.view())
		}
		s.mu.Unlock()
	}
	return views
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, ids := range m.by_player {
		for id := range ids {
			seen[id] = struct{}{}
		}
	}
	return len(seen)
}

// Watch subscribes to the updates of one session. The channel is closed
// after the final update or when cancel is called.
func (m *Manager) Watch(session_id string) (<-chan Update, func(), error) {
	s, err := m.lookup(session_id)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return nil, nil, ErrSessionTerminal
	}
	id := s.next_watch
	s.next_watch++
	ch := make(chan Update, 16)
	s.watchers[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.watchers[id]; ok {
			close(c)
			delete(s.watchers, id)
		}
	}
	return ch, cancel, nil
}

// Close stops every timer. Active sessions are left as they are.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	for _, purge := range m.purges {
		purge.Stop()
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.mu.Lock()
		s.gen++
		s.idle_gen++
		s.stopTimers()
		s.mu.Unlock()
	}
}

func (m *Manager) lookup(session_id string) (*session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[session_id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *Manager) resolveLocked(s *session) effects {
	planned := [2]plannedAction{*s.pending[0], *s.pending[1]}
	entries := resolveTurn(s.turn+1, &s.seats, planned, m.rules.Resolution, m.rules.Regen, m.roller)
	s.turn++
	s.log = append(s.log, entries...)
	s.pending = [2]*plannedAction{}
	s.gen++
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}

	a_down := s.seats[0].HP <= 0
	b_down := s.seats[1].HP <= 0
	switch {
	case a_down && b_down:
		m.endLocked(s, StatusResolvedDraw, "", "")
	case a_down:
		m.endLocked(s, StatusResolvedWin, s.seats[1].ID, "")
	case b_down:
		m.endLocked(s, StatusResolvedWin, s.seats[0].ID, "")
	default:
		for seat := range s.seats {
			if s.seats[seat].Missed >= m.rules.MaxMissedTurns {
				m.endLocked(s, StatusAbandoned, "", s.seats[seat].ID)
				break
			}
		}
	}
	if !s.status.Terminal() {
		m.armIdleLocked(s)
	}

	slog.Debug("Duels : turn resolved",
		"session_id", s.id,
		"turn", s.turn,
		"status", s.status,
		"hp_a", s.seats[0].HP,
		"hp_b", s.seats[1].HP)

	fx := effects{recipients: [2]lib.PlayerID{s.seats[0].ID, s.seats[1].ID}}
	m.emitLocked(s, &fx, entries)
	return fx
}

func (m *Manager) endLocked(s *session, status Status, winner, leaver lib.PlayerID) {
	s.status = status
	s.winner = winner
	s.leaver = leaver
	s.ended_at = m.now().UTC()
	s.pending = [2]*plannedAction{}
	s.gen++
	s.idle_gen++
	s.stopTimers()
}

// emitLocked publishes the current state and, for a terminal session, tears
// down its subscriptions and queues the outcome.
func (m *Manager) emitLocked(s *session, fx *effects, entries []LogEntry) {
	update := s.update(entries)
	s.publish(update)
	fx.updates = append(fx.updates, update)
	if s.status.Terminal() {
		s.closeWatchers()
		outcome := s.outcome()
		fx.outcome = &outcome
	}
}

func (m *Manager) armGraceLocked(s *session) {
	if s.grace != nil {
		return
	}
	gen := s.gen
	s.grace = time.AfterFunc(m.rules.TurnGrace, func() { m.onGrace(s, gen) })
}

func (m *Manager) armIdleLocked(s *session) {
	if s.idle != nil {
		s.idle.Stop()
	}
	s.idle_gen++
	gen := s.idle_gen
	s.idle = time.AfterFunc(m.rules.IdleTimeout, func() { m.onIdle(s, gen) })
}

// onGrace plays the fallback action for whoever has not acted this turn.
func (m *Manager) onGrace(s *session, gen uint64) {
	s.mu.Lock()
	if s.status.Terminal() || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.grace = nil
	for seat := range s.seats {
		if s.pending[seat] != nil {
			continue
		}
		fallback := fallbackAction(s.seats[seat])
		s.pending[seat] = &fallback
		s.seats[seat].Missed++
		slog.Info("Duels : fallback action played",
			"session_id", s.id,
			"player_id", s.seats[seat].ID,
			"missed", s.seats[seat].Missed)
	}
	fx := m.resolveLocked(s)
	s.mu.Unlock()

	m.dispatch(context.Background(), fx)
}

func (m *Manager) onIdle(s *session, gen uint64) {
	s.mu.Lock()
	if s.status.Terminal() || s.idle_gen != gen {
		s.mu.Unlock()
		return
	}
	m.endLocked(s, StatusAbandoned, "", "")
	fx := effects{recipients: [2]lib.PlayerID{s.seats[0].ID, s.seats[1].ID}}
	m.emitLocked(s, &fx, nil)
	s.mu.Unlock()

	slog.Info("Duels : idle session abandoned", "session_id", s.id)
	m.dispatch(context.Background(), fx)
}

func (m *Manager) dispatch(ctx context.Context, fx effects) {
	ctx = context.WithoutCancel(ctx)
	for _, update := range fx.updates {
		for _, recipient := range fx.recipients {
			m.notifier.DuelUpdate(ctx, recipient, update)
		}
	}
	if fx.outcome == nil {
		return
	}

	outcome := *fx.outcome
	m.mu.Lock()
	for _, p := range []Participant{outcome.A, outcome.B} {
		delete(m.by_player[p.ID], outcome.SessionID)
		if len(m.by_player[p.ID]) == 0 {
			delete(m.by_player, p.ID)
		}
	}
	if !m.closed {
		m.purges[outcome.SessionID] = time.AfterFunc(m.rules.Retention, func() { m.purge(outcome.SessionID) })
	}
	settler := m.settler
	m.mu.Unlock()

	slog.Info("Duels : session ended",
		"session_id", outcome.SessionID,
		"status", outcome.Status,
		"winner_id", outcome.WinnerID,
		"turns", outcome.Turns)
	if err := settler.Settle(ctx, outcome); err != nil {
		slog.Error("Duels : failed to hand outcome to settlement", "session_id", outcome.SessionID, "error", err)
	}
}

func (m *Manager) purge(session_id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session_id)
	delete(m.purges, session_id)
}
