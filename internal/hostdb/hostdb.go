// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package hostdb stores trusted SSH host keys. The store backs the host
// key verification of the session layer: a host must be trusted once
// (cloudkey trust-host) before connections to it succeed.
package hostdb // import "github.com/toeirei/cloudkey/internal/hostdb"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "github.com/go-sql-driver/mysql"    // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib"    // PostgreSQL driver
	_ "modernc.org/sqlite"                // Pure Go SQLite driver
)

// KnownHost is one trusted host key.
type KnownHost struct {
	bun.BaseModel `bun:"table:known_hosts"`

	Hostname string    `bun:"hostname,pk"`
	Key      string    `bun:"key,notnull"`
	AddedAt  time.Time `bun:"added_at,nullzero"`
}

// Store is a bun-backed known-hosts store.
type Store struct {
	bun *bun.DB
}

// Open connects to the given database and creates the schema if needed.
// Supported types are sqlite, mysql and postgres.
func Open(ctx context.Context, dbType, dsn string) (*Store, error) {
	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory SQLite databases exist per connection; force a single
	// connection so the schema stays visible.
	if dbType == "sqlite" && dsn == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	var bunDB *bun.DB
	switch dbType {
	case "sqlite":
		bunDB = bun.NewDB(sqlDB, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		bunDB = bun.NewDB(sqlDB, mysqldialect.New())
	default:
		sqlDB.Close()
		return nil, fmt.Errorf("unsupported database type: '%s'", dbType)
	}

	if _, err := bunDB.NewCreateTable().
		Model((*KnownHost)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("failed to create known_hosts table: %w", err)
	}
	return &Store{bun: bunDB}, nil
}

// KnownHostKey retrieves the trusted public key for a given hostname.
// An unknown host yields an empty string, not an error.
func (s *Store) KnownHostKey(hostname string) (string, error) {
	var kh KnownHost
	err := s.bun.NewSelect().
		Model(&kh).
		Where("hostname = ?", hostname).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to query known_hosts: %w", err)
	}
	return kh.Key, nil
}

// Trust records the key for a host, replacing any previous one.
func (s *Store) Trust(ctx context.Context, hostname, key string) error {
	return s.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().
			Model((*KnownHost)(nil)).
			Where("hostname = ?", hostname).
			Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(&KnownHost{
			Hostname: hostname,
			Key:      key,
			AddedAt:  time.Now().UTC(),
		}).Exec(ctx)
		return err
	})
}

// Remove forgets a host.
func (s *Store) Remove(ctx context.Context, hostname string) error {
	_, err := s.bun.NewDelete().
		Model((*KnownHost)(nil)).
		Where("hostname = ?", hostname).
		Exec(ctx)
	return err
}

// All returns every trusted host, ordered by hostname.
func (s *Store) All(ctx context.Context) ([]KnownHost, error) {
	var hosts []KnownHost
	if err := s.bun.NewSelect().
		Model(&hosts).
		Order("hostname ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return hosts, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.bun.Close()
}
