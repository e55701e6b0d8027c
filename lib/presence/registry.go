package presence

import (
	"arena/lib"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

type EventKind int

const (
	EventOnline EventKind = iota
	EventOffline
)

// Event is emitted to watchers after a membership change has been applied.
type Event struct {
	Kind   EventKind
	Player lib.PlayerRef
}

// Registry tracks which players currently hold a live, addressable connection.
// Reads run concurrently; Register and Unregister are serialized against them,
// so a lookup never observes a half applied update.
type Registry struct {
	mu       sync.RWMutex
	online   map[lib.PlayerID]lib.PlayerRef
	handles  map[string]lib.PlayerID
	watchers []func(Event)
}

func NewRegistry() *Registry {
	return &Registry{
		online:  make(map[lib.PlayerID]lib.PlayerRef),
		handles: make(map[string]lib.PlayerID),
	}
}

// Watch adds an observer called after every membership change.
// Observers run outside the registry lock and must not block.
func (r *Registry) Watch(watcher func(Event)) {
	if watcher == nil {
		return
	}
	r.mu.Lock()
	r.watchers = append(r.watchers, watcher)
	r.mu.Unlock()
}

func (r *Registry) Register(player lib.PlayerRef) {
	if player.ID == "" {
		return
	}
	r.mu.Lock()
	if previous, ok := r.online[player.ID]; ok && previous.Handle != player.Handle {
		delete(r.handles, normalizeHandle(previous.Handle))
	}
	r.online[player.ID] = player
	if player.Handle != "" {
		r.handles[normalizeHandle(player.Handle)] = player.ID
	}
	watchers := r.watchers
	r.mu.Unlock()

	slog.Debug("Presence : player online", "player_id", player.ID, "handle", player.Handle)
	notify(watchers, Event{Kind: EventOnline, Player: player})
}

func (r *Registry) Unregister(player_id lib.PlayerID) {
	r.mu.Lock()
	player, ok := r.online[player_id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.online, player_id)
	if r.handles[normalizeHandle(player.Handle)] == player_id {
		delete(r.handles, normalizeHandle(player.Handle))
	}
	watchers := r.watchers
	r.mu.Unlock()

	slog.Debug("Presence : player offline", "player_id", player_id)
	notify(watchers, Event{Kind: EventOffline, Player: player})
}

func (r *Registry) IsOnline(player_id lib.PlayerID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.online[player_id]
	return ok
}

// Lookup returns the online player with the given id.
func (r *Registry) Lookup(player_id lib.PlayerID) (lib.PlayerRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	player, ok := r.online[player_id]
	return player, ok
}

// FindByHandle resolves an online player by handle, case-insensitively.
func (r *Registry) FindByHandle(handle string) (lib.PlayerRef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	player_id, ok := r.handles[normalizeHandle(handle)]
	if !ok {
		return lib.PlayerRef{}, false
	}
	player, ok := r.online[player_id]
	return player, ok
}

// ListOnline returns every online player except excluding, sorted by handle.
func (r *Registry) ListOnline(excluding lib.PlayerID) []lib.PlayerRef {
	r.mu.RLock()
	players := make([]lib.PlayerRef, 0, len(r.online))
	for id, player := range r.online {
		if id == excluding {
			continue
		}
		players = append(players, player)
	}
	r.mu.RUnlock()

	sort.Slice(players, func(i, j int) bool {
		if players[i].Handle == players[j].Handle {
			return players[i].ID < players[j].ID
		}
		return players[i].Handle < players[j].Handle
	})
	return players
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}

func normalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}

func notify(watchers []func(Event), event Event) {
	for _, watcher := range watchers {
		watcher(event)
	}
}
