// Package config loads the indexer's configuration from LATTICE_* environment
// variables with sensible local-development defaults, and validates the
// combinations that cannot work before anything connects.
package config
