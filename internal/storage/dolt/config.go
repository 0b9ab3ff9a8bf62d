// Package dolt is the embedded-Dolt-backed implementation of storage.Store.
// Each product gets its own Dolt database directory; the server-wide
// configuration store (products, tasks) is just another instance of the
// same backend pointed at a reserved directory.
package dolt

import "time"

// Config configures one embedded Dolt store instance.
type Config struct {
	// Path is the directory the embedded engine stores its data in. It is
	// created if missing.
	Path string

	// Database is the logical database name inside the Dolt engine.
	Database string

	CommitterName  string
	CommitterEmail string

	// ReadOnly skips schema creation/upgrade at open time; used for
	// connections that only need to query.
	ReadOnly bool

	// OpenTimeout bounds how long AcquireAccessLock waits for the
	// filesystem advisory lock before giving up.
	OpenTimeout time.Duration

	// MaxOpenConns bounds the connection pool; Dolt's embedded engine is
	// effectively single-writer so this is usually left at its default of 1
	// for write stores and higher for read-mostly ones.
	MaxOpenConns int
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.CommitterName == "" {
		cfg.CommitterName = "findingstore"
	}
	if cfg.CommitterEmail == "" {
		cfg.CommitterEmail = "findingstore@localhost"
	}
	if cfg.Database == "" {
		cfg.Database = "store"
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 1
	}
	return &cfg
}
