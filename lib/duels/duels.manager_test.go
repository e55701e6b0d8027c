package duels

import (
	"arena/lib"
	"arena/lib/snapshot"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedRoller always rolls the same value, clamped into range.
type fixedRoller int

func (f fixedRoller) IntN(n int) int { return min(int(f), n-1) }

type recordingSettler struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (r *recordingSettler) Settle(_ context.Context, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
	return nil
}

func (r *recordingSettler) all() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	updates map[lib.PlayerID][]Update
}

func (r *recordingNotifier) DuelUpdate(_ context.Context, recipient lib.PlayerID, update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updates == nil {
		r.updates = make(map[lib.PlayerID][]Update)
	}
	r.updates[recipient] = append(r.updates[recipient], update)
}

func (r *recordingNotifier) received(id lib.PlayerID) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates[id]...)
}

func fighter(id lib.PlayerID, hp, energy, attack int) snapshot.CombatSnapshot {
	return snapshot.CombatSnapshot{
		OwnerID:     id,
		OwnerHandle: string(id),
		HP:          hp,
		MaxHP:       100,
		Energy:      energy,
		MaxEnergy:   50,
		AttackPower: attack,
		Level:       1,
	}
}

func newTestManager(t *testing.T, rules Rules) (*Manager, *recordingNotifier, *recordingSettler) {
	t.Helper()
	notifier := &recordingNotifier{}
	settler := &recordingSettler{}
	manager := NewManager(rules, fixedRoller(0), notifier, settler)
	t.Cleanup(manager.Close)
	return manager, notifier, settler
}

func basic(actor lib.PlayerID) Action {
	return Action{ActorID: actor, Kind: KindBasic}
}

func playTurn(t *testing.T, manager *Manager, session_id string, a, b Action) ActionResult {
	t.Helper()
	_, err := manager.SubmitAction(context.Background(), session_id, a)
	require.NoError(t, err)
	result, err := manager.SubmitAction(context.Background(), session_id, b)
	require.NoError(t, err)
	require.True(t, result.Resolved)
	return result
}

func TestOpenStartsFromSnapshots(t *testing.T) {
	t.Parallel()

	manager, notifier, _ := newTestManager(t, Rules{})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 70, 20, 10), fighter("bob", 40, 35, 10))
	require.NoError(t, err)

	session, err := manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, session.Status)
	assert.Equal(t, "c1", session.ChallengeID)
	assert.Equal(t, 70, session.A.HP)
	assert.Equal(t, 20, session.A.Energy)
	assert.Equal(t, 40, session.B.HP)
	assert.Equal(t, 35, session.B.Energy)
	assert.Equal(t, 0, session.Turn)

	require.Len(t, notifier.received("alice"), 1)
	require.Len(t, notifier.received("bob"), 1)
	assert.Equal(t, 1, manager.ActiveCount())
}

func TestOpenRejectsSamePlayer(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, Rules{})
	_, err := manager.Open(context.Background(), "c1", fighter("alice", 70, 20, 10), fighter("alice", 70, 20, 10))
	assert.ErrorIs(t, err, ErrInvalidParticipants)
}

func TestHigherHPSideWinsAfterTwoTurns(t *testing.T) {
	t.Parallel()

	manager, _, settler := newTestManager(t, Rules{Resolution: ResolutionSequential})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 30, 50, 15), fighter("bob", 25, 50, 15))
	require.NoError(t, err)

	first := playTurn(t, manager, id, basic("alice"), basic("bob"))
	assert.Equal(t, StatusActive, first.Session.Status)
	assert.Equal(t, 15, first.Session.A.HP)
	assert.Equal(t, 10, first.Session.B.HP)

	second := playTurn(t, manager, id, basic("alice"), basic("bob"))
	session := second.Session
	assert.Equal(t, StatusResolvedWin, session.Status)
	assert.Equal(t, lib.PlayerID("alice"), session.WinnerID)
	assert.Equal(t, 2, session.Turn)
	assert.Equal(t, 15, session.A.HP)
	assert.Equal(t, 0, session.B.HP)

	require.Len(t, session.Log, 4)
	assert.Equal(t, 2, session.Log[3].Turn)
	assert.True(t, session.Log[3].Skipped)

	outcomes := settler.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, lib.PlayerID("bob"), outcomes[0].LoserID())
}

func TestChallengerSeatStrikesFirst(t *testing.T) {
	t.Parallel()

	manager, _, settler := newTestManager(t, Rules{Resolution: ResolutionSequential})
	id, err := manager.Open(context.Background(), "c1", fighter("bob", 25, 50, 15), fighter("alice", 30, 50, 15))
	require.NoError(t, err)

	// the defender submitting first does not change who acts first
	playTurn(t, manager, id, basic("alice"), basic("bob"))
	result := playTurn(t, manager, id, basic("alice"), basic("bob"))

	session := result.Session
	assert.Equal(t, StatusResolvedWin, session.Status)
	assert.Equal(t, lib.PlayerID("bob"), session.WinnerID)
	assert.Equal(t, 10, session.A.HP)
	assert.Equal(t, 0, session.B.HP)
	assert.True(t, session.Log[3].Skipped)
	assert.Equal(t, lib.PlayerID("alice"), session.Log[3].ActorID)

	outcomes := settler.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, lib.PlayerID("alice"), outcomes[0].LoserID())
}

func TestSimultaneousKnockoutIsDraw(t *testing.T) {
	t.Parallel()

	manager, _, settler := newTestManager(t, Rules{Resolution: ResolutionSimultaneous})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 30, 50, 15), fighter("bob", 25, 50, 15))
	require.NoError(t, err)

	playTurn(t, manager, id, basic("alice"), basic("bob"))
	result := playTurn(t, manager, id, basic("alice"), basic("bob"))

	assert.Equal(t, StatusResolvedDraw, result.Session.Status)
	assert.Empty(t, result.Session.WinnerID)
	assert.Equal(t, 0, result.Session.A.HP)
	assert.Equal(t, 0, result.Session.B.HP)

	outcomes := settler.all()
	require.Len(t, outcomes, 1)
	assert.Empty(t, outcomes[0].LoserID())
}

func TestInsufficientEnergyLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, Rules{})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 80, 50, 10), fighter("bob", 80, 50, 10))
	require.NoError(t, err)

	before, err := manager.Get(id)
	require.NoError(t, err)

	_, err = manager.SubmitAction(context.Background(), id, Action{ActorID: "alice", Kind: KindBasic, DeclaredCost: 60})
	assert.ErrorIs(t, err, ErrInsufficientEnergy)

	after, err := manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// a cheaper retry in the same turn is still allowed
	_, err = manager.SubmitAction(context.Background(), id, basic("alice"))
	assert.NoError(t, err)
}

func TestAbilityCostIsPaidOnAcceptance(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, Rules{})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 80, 30, 10), fighter("bob", 95, 50, 10))
	require.NoError(t, err)

	result, err := manager.SubmitAction(context.Background(), id, Action{ActorID: "alice", Kind: KindAbility, Ability: AbilityStrike})
	require.NoError(t, err)
	assert.False(t, result.Resolved)
	assert.Equal(t, 10, result.Cost)
	assert.Equal(t, 20, result.Session.A.Energy)

	result, err = manager.SubmitAction(context.Background(), id, Action{ActorID: "bob", Kind: KindHeal})
	require.NoError(t, err)
	require.True(t, result.Resolved)

	session := result.Session
	// strike 20, then mend 30 capped at max hp, then +5 regen
	assert.Equal(t, 100, session.B.HP)
	assert.Equal(t, 50-20+5, session.B.Energy)
	assert.Equal(t, 20+5, session.A.Energy)
	assert.Equal(t, 20, session.Log[0].Damage)
	assert.Equal(t, AbilityMend, session.Log[1].Ability)
}

func TestSubmitActionRejections(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, Rules{})
	ctx := context.Background()
	id, err := manager.Open(ctx, "c1", fighter("alice", 80, 50, 10), fighter("bob", 80, 50, 10))
	require.NoError(t, err)

	_, err = manager.SubmitAction(ctx, "missing", basic("alice"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = manager.SubmitAction(ctx, id, basic("carol"))
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = manager.SubmitAction(ctx, id, Action{ActorID: "alice", Kind: KindAbility, Ability: "meteor"})
	assert.ErrorIs(t, err, ErrUnknownAbility)

	_, err = manager.SubmitAction(ctx, id, Action{ActorID: "alice", Kind: "dance"})
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = manager.SubmitAction(ctx, id, basic("alice"))
	require.NoError(t, err)
	_, err = manager.SubmitAction(ctx, id, basic("alice"))
	assert.ErrorIs(t, err, ErrTurnAlreadySubmitted)
}

func TestTerminalSessionIsImmutable(t *testing.T) {
	t.Parallel()

	manager, _, settler := newTestManager(t, Rules{})
	ctx := context.Background()
	id, err := manager.Open(ctx, "c1", fighter("alice", 80, 50, 10), fighter("bob", 80, 50, 10))
	require.NoError(t, err)

	ended, err := manager.Abandon(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, ended.Status)
	assert.Equal(t, lib.PlayerID("bob"), ended.LeaverID)

	_, err = manager.SubmitAction(ctx, id, basic("alice"))
	assert.ErrorIs(t, err, ErrSessionTerminal)

	again, err := manager.Abandon(ctx, id, "bob")
	require.NoError(t, err)
	assert.Equal(t, ended, again)

	current, err := manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, ended, current)
	assert.Len(t, settler.all(), 1)
	assert.Equal(t, 0, manager.ActiveCount())
}

func TestHandleDisconnectAbandonsOnce(t *testing.T) {
	t.Parallel()

	manager, notifier, settler := newTestManager(t, Rules{})
	ctx := context.Background()
	id, err := manager.Open(ctx, "c1", fighter("alice", 80, 50, 10), fighter("bob", 80, 50, 10))
	require.NoError(t, err)

	manager.HandleDisconnect(ctx, "alice")
	manager.HandleDisconnect(ctx, "alice")

	session, err := manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, session.Status)
	assert.Equal(t, lib.PlayerID("alice"), session.LeaverID)
	assert.Len(t, settler.all(), 1)

	updates := notifier.received("bob")
	require.NotEmpty(t, updates)
	assert.Equal(t, StatusAbandoned, updates[len(updates)-1].Status)
	assert.Empty(t, manager.ActiveFor("bob"))
}

func TestGraceTimerPlaysFallback(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, Rules{TurnGrace: 20 * time.Millisecond})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 80, 50, 10), fighter("bob", 80, 50, 12))
	require.NoError(t, err)

	_, err = manager.SubmitAction(context.Background(), id, basic("alice"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, err := manager.Get(id)
		return err == nil && session.Turn == 1
	}, time.Second, 5*time.Millisecond)

	session, err := manager.Get(id)
	require.NoError(t, err)
	require.Len(t, session.Log, 2)
	assert.False(t, session.Log[0].Fallback)
	assert.True(t, session.Log[1].Fallback)
	assert.Equal(t, 12, session.Log[1].Damage)
	assert.Equal(t, 1, session.B.Missed)
	assert.Equal(t, StatusActive, session.Status)
}

func TestMissedTurnsAbandonWithLaggardAsLeaver(t *testing.T) {
	t.Parallel()

	manager, _, settler := newTestManager(t, Rules{TurnGrace: 10 * time.Millisecond, MaxMissedTurns: 2})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 100, 50, 1), fighter("bob", 100, 50, 1))
	require.NoError(t, err)

	for turn := 1; turn <= 2; turn++ {
		_, err = manager.SubmitAction(context.Background(), id, basic("alice"))
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			session, err := manager.Get(id)
			return err == nil && session.Turn == turn
		}, time.Second, 5*time.Millisecond)
	}

	session, err := manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusAbandoned, session.Status)
	assert.Equal(t, lib.PlayerID("bob"), session.LeaverID)
	require.Len(t, settler.all(), 1)
}

func TestIdleSessionIsAbandoned(t *testing.T) {
	t.Parallel()

	manager, _, settler := newTestManager(t, Rules{IdleTimeout: 20 * time.Millisecond})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 100, 50, 1), fighter("bob", 100, 50, 1))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		session, err := manager.Get(id)
		return err == nil && session.Status == StatusAbandoned
	}, time.Second, 5*time.Millisecond)

	session, err := manager.Get(id)
	require.NoError(t, err)
	assert.Empty(t, session.LeaverID)
	require.Len(t, settler.all(), 1)
}

func TestWatchReceivesUpdatesUntilTerminal(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t, Rules{})
	id, err := manager.Open(context.Background(), "c1", fighter("alice", 10, 50, 15), fighter("bob", 100, 50, 1))
	require.NoError(t, err)

	updates, cancel, err := manager.Watch(id)
	require.NoError(t, err)
	defer cancel()

	playTurn(t, manager, id, basic("alice"), basic("bob"))
	playTurn(t, manager, id, basic("alice"), basic("bob"))

	// bob wins only after many turns, so abandon to end it
	_, err = manager.Abandon(context.Background(), id, "alice")
	require.NoError(t, err)

	var got []Update
	for update := range updates {
		got = append(got, update)
	}
	require.Len(t, got, 3)
	assert.Equal(t, 1, got[0].Turn)
	assert.Len(t, got[0].Entries, 2)
	assert.Equal(t, StatusAbandoned, got[2].Status)

	_, _, err = manager.Watch(id)
	assert.ErrorIs(t, err, ErrSessionTerminal)
}

func TestResourcesStayWithinBounds(t *testing.T) {
	t.Parallel()

	for _, mode := range []Resolution{ResolutionSequential, ResolutionSimultaneous} {
		notifier := &recordingNotifier{}
		manager := NewManager(Rules{Resolution: mode}, NewSeededRoller(7), notifier, nil)
		t.Cleanup(manager.Close)

		id, err := manager.Open(context.Background(), "c1", fighter("alice", 100, 50, 4), fighter("bob", 100, 50, 4))
		require.NoError(t, err)

		moves := []Action{
			{Kind: KindAbility, Ability: AbilityStrike},
			{Kind: KindHeal},
			{Kind: KindBasic},
		}
		for turn := 0; turn < 200; turn++ {
			session, err := manager.Get(id)
			require.NoError(t, err)
			if session.Status.Terminal() {
				break
			}
			for i, actor := range []lib.PlayerID{"alice", "bob"} {
				action := moves[(turn+i)%len(moves)]
				action.ActorID = actor
				if _, err := manager.SubmitAction(context.Background(), id, action); err != nil {
					require.ErrorIs(t, err, ErrInsufficientEnergy)
					_, err = manager.SubmitAction(context.Background(), id, basic(actor))
					require.NoError(t, err)
				}
			}
		}

		session, err := manager.Get(id)
		require.NoError(t, err)
		for _, entry := range session.Log {
			assert.GreaterOrEqual(t, entry.HPA, 0)
			assert.LessOrEqual(t, entry.HPA, 100)
			assert.GreaterOrEqual(t, entry.HPB, 0)
			assert.LessOrEqual(t, entry.HPB, 100)
			assert.GreaterOrEqual(t, entry.EnergyA, 0)
			assert.LessOrEqual(t, entry.EnergyA, 50)
			assert.GreaterOrEqual(t, entry.EnergyB, 0)
			assert.LessOrEqual(t, entry.EnergyB, 50)
		}
	}
}
