package settlement

import (
	"arena/lib"
	"arena/lib/duels"
	"arena/lib/players"
	"fmt"
)

type Variant string

const (
	VariantRich  Variant = "rich"
	VariantLight Variant = "light"
)

// Rewards holds the payout formula. Per-level amounts scale with the
// loser's level.
type Rewards struct {
	WinGold           int64 `json:"win_gold"`
	WinGoldPerLevel   int64 `json:"win_gold_per_level"`
	WinXP             int64 `json:"win_xp"`
	WinXPPerLevel     int64 `json:"win_xp_per_level"`
	LoserPenalty      int64 `json:"loser_penalty"`
	DisconnectPenalty int64 `json:"disconnect_penalty"`
}

func RewardsFor(variant Variant) (Rewards, error) {
	switch variant {
	case VariantRich, "":
		return Rewards{WinGold: 100, WinGoldPerLevel: 20, WinXP: 50, WinXPPerLevel: 10, LoserPenalty: 50, DisconnectPenalty: 50}, nil
	case VariantLight:
		return Rewards{WinGold: 50, WinGoldPerLevel: 10, WinXP: 25, WinXPPerLevel: 5, LoserPenalty: 25, DisconnectPenalty: 25}, nil
	}
	return Rewards{}, fmt.Errorf("unknown reward variant %q", variant)
}

// Result is computed once per terminal session.
type Result struct {
	SessionID string                               `json:"session_id"`
	Status    duels.Status                         `json:"status"`
	WinnerID  lib.PlayerID                         `json:"winner_id,omitempty"`
	LoserID   lib.PlayerID                         `json:"loser_id,omitempty"`
	LeaverID  lib.PlayerID                         `json:"leaver_id,omitempty"`
	Deltas    map[lib.PlayerID]players.RewardDelta `json:"deltas"`
}

// Compute derives both participants' deltas from a terminal outcome. Every
// participant gets an entry, zero when nothing is owed.
func Compute(outcome duels.Outcome, rewards Rewards) Result {
	result := Result{
		SessionID: outcome.SessionID,
		Status:    outcome.Status,
		Deltas: map[lib.PlayerID]players.RewardDelta{
			outcome.A.ID: {},
			outcome.B.ID: {},
		},
	}

	switch outcome.Status {
	case duels.StatusResolvedWin:
		loser_id := outcome.LoserID()
		loser, _ := outcome.Participant(loser_id)
		level := int64(max(loser.Snapshot.Level, 1))

		result.WinnerID = outcome.WinnerID
		result.LoserID = loser_id
		result.Deltas[outcome.WinnerID] = players.RewardDelta{
			Gold:       rewards.WinGold + level*rewards.WinGoldPerLevel,
			Experience: rewards.WinXP + level*rewards.WinXPPerLevel,
			Wins:       1,
		}
		result.Deltas[loser_id] = players.RewardDelta{
			Gold:   -rewards.LoserPenalty,
			Losses: 1,
		}
	case duels.StatusAbandoned:
		if outcome.LeaverID != "" {
			result.LeaverID = outcome.LeaverID
			result.Deltas[outcome.LeaverID] = players.RewardDelta{
				Gold:   -rewards.DisconnectPenalty,
				Losses: 1,
			}
		}
	}
	return result
}
