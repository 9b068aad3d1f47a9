package player

import (
	"net/netip"
	"time"
)

// Player is a registered client. The registry hands out copies, so a Player
// value is a snapshot and never aliases registry state.
type Player struct {
	ID           uint32         `json:"id"`
	Name         string         `json:"name"`
	Addr         netip.AddrPort `json:"addr"`
	RegisteredAt time.Time      `json:"registered_at"`
	LastActivity time.Time      `json:"last_activity"`
	Budget       int            `json:"keepalive_budget"` // seconds until forced disconnect
	State        State          `json:"state"`
	RoomID       uint32         `json:"room_id,omitempty"`
}

// MarshalText renders the state by name in JSON output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
