package player

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"
)

// Registry errors
var (
	ErrDuplicateName    = errors.New("player name already registered")
	ErrDuplicateID      = errors.New("player id already registered")
	ErrNotFound         = errors.New("player not found")
	ErrIDSpaceExhausted = errors.New("no unused player id available")
	ErrInvalidID        = errors.New("invalid player id")
)

// maxIDAttempts bounds how many candidates GenerateID draws before giving up
const maxIDAttempts = 64

// Registry owns all active players, indexed by id and by name.
// Both indices change together under mu; no method exposes the lock.
type Registry struct {
	mu      sync.RWMutex
	byID    map[uint32]*Player
	byName  map[string]*Player
	retired map[uint32]struct{} // never pruned: ids are not reused while the process runs

	ids    IDSource
	budget int
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry. budget is the keepalive budget in
// seconds that new players start with and every keepalive restores.
func NewRegistry(logger *slog.Logger, ids IDSource, budget int) *Registry {
	return &Registry{
		byID:    make(map[uint32]*Player),
		byName:  make(map[string]*Player),
		retired: make(map[uint32]struct{}),
		ids:     ids,
		budget:  budget,
		logger:  logger,
		now:     time.Now,
	}
}

// KeepaliveBudget returns the budget, in seconds, restored by every keepalive
func (r *Registry) KeepaliveBudget() int {
	return r.budget
}

// GenerateID returns an id that is non-zero and has never been issued by
// this registry
func (r *Registry) GenerateID() (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generateIDLocked()
}

func (r *Registry) generateIDLocked() (uint32, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := r.ids.NextID()
		if err != nil {
			return 0, fmt.Errorf("failed to generate player id: %w", err)
		}
		if id == 0 {
			continue
		}
		if _, live := r.byID[id]; live {
			continue
		}
		if _, used := r.retired[id]; used {
			continue
		}
		return id, nil
	}
	return 0, ErrIDSpaceExhausted
}

// Insert adds p to both indices. An existing entry with the same name or id
// is left untouched and the insert fails.
func (r *Registry) Insert(p Player) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(&p)
}

func (r *Registry) insertLocked(p *Player) error {
	if _, exists := r.byName[p.Name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateName, p.Name)
	}
	if p.ID == 0 {
		return ErrInvalidID
	}
	if _, exists := r.byID[p.ID]; exists {
		return fmt.Errorf("%w: %d", ErrDuplicateID, p.ID)
	}
	if _, used := r.retired[p.ID]; used {
		return fmt.Errorf("%w: %d was retired", ErrDuplicateID, p.ID)
	}

	r.byID[p.ID] = p
	r.byName[p.Name] = p
	return nil
}

// Register creates a player for name at addr with a fresh id. The duplicate
// check, id generation and insertion happen in one critical section.
func (r *Registry) Register(name string, addr netip.AddrPort) (Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return Player{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}

	id, err := r.generateIDLocked()
	if err != nil {
		return Player{}, err
	}

	now := r.now()
	p := &Player{
		ID:           id,
		Name:         name,
		Addr:         addr,
		RegisteredAt: now,
		LastActivity: now,
		Budget:       r.budget,
		State:        AwaitingClientAck,
	}
	if err := r.insertLocked(p); err != nil {
		return Player{}, err
	}

	r.logger.Debug("Player registered",
		slog.Uint64("player_id", uint64(id)),
		slog.String("name", name),
		slog.String("addr", addr.String()),
	)

	return *p, nil
}

// FindByName looks up an active player by name
func (r *Registry) FindByName(name string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.byName[name]
	if !exists {
		return Player{}, false
	}
	return *p, true
}

// FindByID looks up an active player by id
func (r *Registry) FindByID(id uint32) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.byID[id]
	if !exists {
		return Player{}, false
	}
	return *p, true
}

// Remove deletes the player with the given id from both indices and returns
// the removed entry so the caller can still address it
func (r *Registry) Remove(id uint32) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byID[id]
	if !exists {
		return Player{}, false
	}
	r.removeLocked(p)
	return *p, true
}

// RemoveByName deletes the named player from both indices
func (r *Registry) RemoveByName(name string) (Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byName[name]
	if !exists {
		return Player{}, false
	}
	r.removeLocked(p)
	return *p, true
}

func (r *Registry) removeLocked(p *Player) {
	delete(r.byID, p.ID)
	delete(r.byName, p.Name)
	r.retired[p.ID] = struct{}{}
}

// Touch restores the keepalive budget of a player and records activity
func (r *Registry) Touch(id uint32) (Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byID[id]
	if !exists {
		return Player{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	p.Budget = r.budget
	p.LastActivity = r.now()
	return *p, nil
}

// Advance applies a lifecycle event to a player. roomID is recorded on
// EventJoinRoom and ignored otherwise.
func (r *Registry) Advance(id uint32, event Event, roomID uint32) (Player, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.byID[id]
	if !exists {
		return Player{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}

	next, err := Transition(p.State, event)
	if err != nil {
		return *p, err
	}

	p.State = next
	p.LastActivity = r.now()
	if event == EventJoinRoom {
		p.RoomID = roomID
	}
	return *p, nil
}

// SweepExpired decrements every keepalive budget by decrement seconds and
// evicts players whose budget reaches zero. The whole pass holds the write
// lock. Evicted players are returned for notification.
func (r *Registry) SweepExpired(decrement int) []Player {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Player
	for _, p := range r.byID {
		p.Budget -= decrement
		if p.Budget <= 0 {
			evicted = append(evicted, *p)
		}
	}
	for i := range evicted {
		if p, exists := r.byID[evicted[i].ID]; exists {
			r.removeLocked(p)
		}
	}

	if len(evicted) > 0 {
		r.logger.Debug("Expired players evicted",
			slog.Int("evicted_count", len(evicted)),
			slog.Int("remaining", len(r.byID)),
		)
	}

	return evicted
}

// Len returns the number of active players
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// RetiredLen returns the number of ids withheld from reuse
func (r *Registry) RetiredLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.retired)
}

// Snapshot returns copies of all active players ordered by id
func (r *Registry) Snapshot() []Player {
	r.mu.RLock()
	players := make([]Player, 0, len(r.byID))
	for _, p := range r.byID {
		players = append(players, *p)
	}
	r.mu.RUnlock()

	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players
}
