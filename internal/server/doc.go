// Package server implements the UDP session server and its HTTP monitoring API.
// A single receive loop hands each datagram to a bounded worker pool, workers
// answer every datagram with exactly one reply through a single sender
// goroutine, and a sweeper evicts players whose keepalive budget runs out.
package server
