// Package protocol implements the ntetris datagram format.
// It validates raw datagrams against their declared type, decodes the
// client messages the server acts on, and builds reply datagrams.
package protocol
