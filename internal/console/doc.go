// Package console implements the operator console: a line-oriented command
// shell for listing and kicking players while the server runs.
package console
