package settlement

import (
	"arena/lib"
	"arena/lib/duels"
	"arena/lib/players"
	"fmt"
)

type Framing string

const (
	FramingVictory  Framing = "victory"
	FramingDefeat   Framing = "defeat"
	FramingDraw     Framing = "draw"
	FramingForfeit  Framing = "forfeit"
	FramingWalkover Framing = "walkover"
	FramingVoid     Framing = "void"
)

// Message is the per-recipient DuelResult payload.
type Message struct {
	SessionID      string              `json:"session_id"`
	Framing        Framing             `json:"framing"`
	WinnerID       lib.PlayerID        `json:"winner_id,omitempty"`
	OpponentID     lib.PlayerID        `json:"opponent_id"`
	OpponentHandle string              `json:"opponent_handle"`
	Delta          players.RewardDelta `json:"delta"`
	Turns          int                 `json:"turns"`
	Text           string              `json:"text"`
}

// Messages builds one payload per participant. The two payloads always
// differ: each names the other side.
func Messages(outcome duels.Outcome, result Result) map[lib.PlayerID]Message {
	messages := make(map[lib.PlayerID]Message, 2)
	for _, pair := range [][2]duels.Participant{{outcome.A, outcome.B}, {outcome.B, outcome.A}} {
		self, opponent := pair[0], pair[1]
		delta := result.Deltas[self.ID]
		message := Message{
			SessionID:      outcome.SessionID,
			WinnerID:       result.WinnerID,
			OpponentID:     opponent.ID,
			OpponentHandle: opponent.Handle,
			Delta:          delta,
			Turns:          outcome.Turns,
		}

		switch {
		case outcome.Status == duels.StatusResolvedWin && result.WinnerID == self.ID:
			message.Framing = FramingVictory
			message.Text = fmt.Sprintf("You defeated %s! You earned %d gold and %d experience.", opponent.Handle, delta.Gold, delta.Experience)
		case outcome.Status == duels.StatusResolvedWin:
			message.Framing = FramingDefeat
			message.Text = fmt.Sprintf("%s defeated you. You lost %d gold.", opponent.Handle, -delta.Gold)
		case outcome.Status == duels.StatusResolvedDraw:
			message.Framing = FramingDraw
			message.Text = fmt.Sprintf("You and %s fell together. Nobody wins.", opponent.Handle)
		case result.LeaverID == self.ID:
			message.Framing = FramingForfeit
			message.Text = fmt.Sprintf("You left the duel against %s and lost %d gold.", opponent.Handle, -delta.Gold)
		case result.LeaverID == opponent.ID:
			message.Framing = FramingWalkover
			message.Text = fmt.Sprintf("%s left the duel.", opponent.Handle)
		default:
			message.Framing = FramingVoid
			message.Text = fmt.Sprintf("Your duel against %s timed out.", opponent.Handle)
		}
		messages[self.ID] = message
	}
	return messages
}
