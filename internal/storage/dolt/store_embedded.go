//go:build cgo

package dolt

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	embedded "github.com/dolthub/driver"
)

const embeddedOpenMaxElapsed = 30 * time.Second

func newEmbeddedOpenBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = embeddedOpenMaxElapsed
	return bo
}

// DoltStore is the embedded-Dolt backed storage.Store implementation. One
// instance owns one database directory; the registry keeps one
// DoltStore per product plus one for the server-wide configuration store.
type DoltStore struct {
	mu sync.RWMutex

	db         *sql.DB
	dataDir    string
	connector  *embedded.Connector
	accessLock *AccessLock
	cfg        *Config
	closed     bool
}

// Open creates the data directory if needed, ensures the logical database
// and schema exist, and returns a ready DoltStore.
func Open(ctx context.Context, cfg *Config) (*DoltStore, error) {
	cfg = cfg.withDefaults()

	if info, err := os.Stat(cfg.Path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("database path %q is a file, not a directory", cfg.Path)
	}
	if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute path: %w", err)
	}

	var accessLock *AccessLock
	if !cfg.ReadOnly {
		accessLock, err = AcquireAccessLock(ctx, absPath, cfg.OpenTimeout)
		if err != nil {
			return nil, fmt.Errorf("acquire access lock: %w", err)
		}
	}

	initDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s", absPath, cfg.CommitterName, cfg.CommitterEmail)
	dbDSN := fmt.Sprintf("file://%s?commitname=%s&commitemail=%s&database=%s", absPath, cfg.CommitterName, cfg.CommitterEmail, cfg.Database)

	configureRetries := func(c *embedded.Config) { c.BackOff = newEmbeddedOpenBackoff() }

	if !cfg.ReadOnly {
		if err := withEmbeddedDolt(ctx, initDSN, configureRetries, func(ctx context.Context, db *sql.DB) error {
			_, err := db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", cfg.Database))
			return err
		}); err != nil {
			accessLock.Release()
			return nil, fmt.Errorf("create dolt database: %w", err)
		}

		if err := withEmbeddedDolt(ctx, dbDSN, configureRetries, func(ctx context.Context, db *sql.DB) error {
			return initSchemaOnDB(ctx, db)
		}); err != nil {
			accessLock.Release()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	db, connector, err := openEmbeddedConnection(dbDSN, cfg.MaxOpenConns)
	if err != nil {
		accessLock.Release()
		return nil, err
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		_ = connector.Close()
		accessLock.Release()
		return nil, fmt.Errorf("ping dolt database: %w", err)
	}

	doltMetrics.openTotal.Add(ctx, 1)
	return &DoltStore{db: db, dataDir: absPath, connector: connector, accessLock: accessLock, cfg: cfg}, nil
}

func openEmbeddedConnection(dsn string, maxOpen int) (*sql.DB, *embedded.Connector, error) {
	openCfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("parse dolt dsn: %w", err)
	}
	openCfg.BackOff = newEmbeddedOpenBackoff()

	connector, err := embedded.NewConnector(openCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(0)
	return db, connector, nil
}

// withEmbeddedDolt opens a short-lived connection against dsn, runs fn, and
// always closes the connection, used for the bootstrap steps (CREATE
// DATABASE, schema init) that happen before the long-lived pool exists.
func withEmbeddedDolt(ctx context.Context, dsn string, configure func(*embedded.Config), fn func(context.Context, *sql.DB) error) error {
	cfg, err := embedded.ParseDSN(dsn)
	if err != nil {
		return fmt.Errorf("parse dolt dsn: %w", err)
	}
	if configure != nil {
		configure(cfg)
	}
	connector, err := embedded.NewConnector(cfg)
	if err != nil {
		return fmt.Errorf("create dolt connector: %w", err)
	}
	db := sql.OpenDB(connector)
	defer func() {
		_ = db.Close()
		_ = connector.Close()
	}()
	return fn(ctx, db)
}

func (s *DoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []string
	if err := s.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if s.connector != nil {
		if err := s.connector.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if s.accessLock != nil {
		s.accessLock.Release()
	}
	if len(errs) > 0 {
		return fmt.Errorf("close dolt store: %s", strings.Join(errs, "; "))
	}
	return nil
}
