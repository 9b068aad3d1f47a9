// Package player provides the player registry and lifecycle handling.
// It keeps every connected player reachable by id and by name under a single
// reader/writer lock, assigns unique ids, applies lifecycle transitions and
// evicts players whose keepalive budget runs out.
package player
