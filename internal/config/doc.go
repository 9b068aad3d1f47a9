// Package config provides configuration loading and validation for the ntetris server.
// It reads a YAML file over built-in defaults, applies NTETRIS_* environment
// overrides (optionally from a .env file) and validates every section.
package config
