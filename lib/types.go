package lib

// PlayerID identifies a player across presence, duels and persistence.
type PlayerID string

func (id PlayerID) String() string { return string(id) }

// PlayerRef is the identity yielded by the presence service. It is never mutated.
type PlayerRef struct {
	ID     PlayerID `json:"id"`
	Handle string   `json:"handle"`
}

// PairKey returns a key for the unordered pair (a, b).
func PairKey(a, b PlayerID) string {
	if a > b {
		a, b = b, a
	}
	return string(a) + "&" + string(b)
}
