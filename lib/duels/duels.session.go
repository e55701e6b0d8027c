package duels

import (
	"arena/lib"
	"slices"
	"sync"
	"time"
)

// session is the mutable duel state. Every field is guarded by mu.
type session struct {
	mu         sync.Mutex
	id         string
	challenge  string
	seats      [2]Participant
	pending    [2]*plannedAction
	turn       int
	log        []LogEntry
	status     Status
	winner     lib.PlayerID
	leaver     lib.PlayerID
	created_at time.Time
	ended_at   time.Time
	watchers   map[int]chan Update
	next_watch int
	gen        uint64
	grace      *time.Timer
	idle       *time.Timer
	idle_gen   uint64
}

func (s *session) seatOf(player_id lib.PlayerID) (int, bool) {
	for seat := range s.seats {
		if s.seats[seat].ID == player_id {
			return seat, true
		}
	}
	return 0, false
}

func (s *session) view() Session {
	return Session{
		ID:          s.id,
		ChallengeID: s.challenge,
		A:           s.seats[0],
		B:           s.seats[1],
		Turn:        s.turn,
		Log:         slices.Clone(s.log),
		Status:      s.status,
		WinnerID:    s.winner,
		LeaverID:    s.leaver,
		CreatedAt:   s.created_at,
		EndedAt:     s.ended_at,
	}
}

func (s *session) update(entries []LogEntry) Update {
	return Update{
		SessionID:    s.id,
		ChallengeID:  s.challenge,
		Turn:         s.turn,
		Status:       s.status,
		WinnerID:     s.winner,
		LeaverID:     s.leaver,
		Participants: []ParticipantState{s.seats[0].State(), s.seats[1].State()},
		Entries:      entries,
	}
}

func (s *session) outcome() Outcome {
	return Outcome{
		SessionID:   s.id,
		ChallengeID: s.challenge,
		Status:      s.status,
		WinnerID:    s.winner,
		LeaverID:    s.leaver,
		A:           s.seats[0],
		B:           s.seats[1],
		Turns:       s.turn,
		EndedAt:     s.ended_at,
	}
}

// publish fans an update out to the session's own subscribers. Slow
// subscribers miss updates rather than stall the duel.
func (s *session) publish(update Update) {
	for _, ch := range s.watchers {
		select {
		case ch <- update:
		default:
		}
	}
}

func (s *session) closeWatchers() {
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
}

func (s *session) stopTimers() {
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	if s.idle != nil {
		s.idle.Stop()
		s.idle = nil
	}
}
