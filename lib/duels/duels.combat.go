package duels

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

const (
	AbilityStrike = "strike"
	AbilityMend   = "mend"

	// basicSpread makes a basic attack deal AttackPower + [0, 5].
	basicSpread = 6
)

// Roller is the random source for damage rolls.
type Roller interface {
	IntN(n int) int
}

type runtimeRoller struct{}

func (runtimeRoller) IntN(n int) int { return rand.IntN(n) }

type seededRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededRoller returns a goroutine-safe roller that replays the same
// sequence for the same seed.
func NewSeededRoller(seed uint64) Roller {
	return &seededRoller{rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

func (r *seededRoller) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.IntN(n)
}

type Ability struct {
	Name    string `json:"name"`
	Cost    int    `json:"cost"`
	Damage  int    `json:"damage"`
	Spread  int    `json:"spread"`
	Healing int    `json:"healing"`
}

type Catalogue map[string]Ability

func DefaultAbilities() Catalogue {
	return Catalogue{
		AbilityStrike: {Name: AbilityStrike, Cost: 10, Damage: 20, Spread: 6},
		AbilityMend:   {Name: AbilityMend, Cost: 20, Healing: 30},
	}
}

type plannedAction struct {
	kind     ActionKind
	ability  Ability
	fallback bool
}

type effect struct {
	damage  int
	healing int
}

// planAction validates action against the actor's current energy and returns
// what will be resolved for it. It never changes state.
func planAction(action Action, actor Participant, catalogue Catalogue) (plannedAction, error) {
	if action.DeclaredCost < 0 {
		return plannedAction{}, fmt.Errorf("%w: negative cost", ErrInvalidAction)
	}

	planned := plannedAction{kind: action.Kind}
	switch action.Kind {
	case KindBasic, "":
		planned.kind = KindBasic
		planned.ability = basicAttack(actor)
	case KindAbility:
		ability, ok := catalogue[action.Ability]
		if !ok {
			return plannedAction{}, fmt.Errorf("%w: %q", ErrUnknownAbility, action.Ability)
		}
		planned.ability = ability
	case KindHeal:
		ability, ok := catalogue[AbilityMend]
		if !ok {
			return plannedAction{}, fmt.Errorf("%w: %q", ErrUnknownAbility, AbilityMend)
		}
		planned.ability = ability
	default:
		return plannedAction{}, fmt.Errorf("%w: kind %q", ErrInvalidAction, action.Kind)
	}

	cost := max(planned.ability.Cost, action.DeclaredCost)
	if cost > actor.Energy {
		return plannedAction{}, fmt.Errorf("%w: cost %d, energy %d", ErrInsufficientEnergy, cost, actor.Energy)
	}
	planned.ability.Cost = cost
	return planned, nil
}

// fallbackAction is the scripted move played for a participant who missed
// the turn grace period.
func fallbackAction(actor Participant) plannedAction {
	return plannedAction{kind: KindBasic, ability: basicAttack(actor), fallback: true}
}

func basicAttack(actor Participant) Ability {
	return Ability{Damage: actor.Snapshot.AttackPower, Spread: basicSpread}
}

func (p plannedAction) roll(roller Roller) effect {
	fx := effect{damage: p.ability.Damage, healing: p.ability.Healing}
	if p.ability.Spread > 0 {
		fx.damage += roller.IntN(p.ability.Spread)
	}
	return fx
}

func (p plannedAction) entry(turn int, actor Participant) LogEntry {
	return LogEntry{
		Turn:     turn,
		ActorID:  actor.ID,
		Kind:     p.kind,
		Ability:  p.ability.Name,
		Cost:     p.ability.Cost,
		Fallback: p.fallback,
	}
}

// resolveTurn applies both planned actions in seat order, then regenerates
// energy. Costs were already paid when the actions were accepted.
func resolveTurn(turn int, seats *[2]Participant, planned [2]plannedAction, mode Resolution, regen int, roller Roller) []LogEntry {
	entries := make([]LogEntry, 2)
	var rolled [2]effect

	for seat := 0; seat < 2; seat++ {
		entries[seat] = planned[seat].entry(turn, seats[seat])
		if mode == ResolutionSequential && seats[seat].HP <= 0 {
			entries[seat].Skipped = true
			stamp(&entries[seat], seats)
			continue
		}

		rolled[seat] = planned[seat].roll(roller)
		entries[seat].Damage = rolled[seat].damage
		entries[seat].Healing = rolled[seat].healing
		if mode == ResolutionSequential {
			heal(&seats[seat], rolled[seat].healing)
			hit(&seats[1-seat], rolled[seat].damage)
			stamp(&entries[seat], seats)
		}
	}

	if mode == ResolutionSimultaneous {
		// healing lands before damage so nobody rises from 0 hp
		for seat := 0; seat < 2; seat++ {
			heal(&seats[seat], rolled[seat].healing)
		}
		for seat := 0; seat < 2; seat++ {
			hit(&seats[1-seat], rolled[seat].damage)
		}
		for seat := 0; seat < 2; seat++ {
			stamp(&entries[seat], seats)
		}
	}

	for seat := 0; seat < 2; seat++ {
		seats[seat].Energy = min(seats[seat].Energy+regen, seats[seat].Snapshot.MaxEnergy)
	}
	return entries
}

func heal(p *Participant, amount int) {
	if amount <= 0 {
		return
	}
	p.HP = min(p.HP+amount, p.Snapshot.MaxHP)
}

func hit(p *Participant, amount int) {
	if amount <= 0 {
		return
	}
	p.HP = max(p.HP-amount, 0)
}

func stamp(entry *LogEntry, seats *[2]Participant) {
	entry.HPA = seats[0].HP
	entry.EnergyA = seats[0].Energy
	entry.HPB = seats[1].HP
	entry.EnergyB = seats[1].Energy
}
