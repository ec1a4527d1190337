// Package opener opens the transport connection for one replica attempt.
package opener

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/kong/redundant-db/pkg/dsn"
	"github.com/kong/redundant-db/pkg/replica"
	_ "github.com/mattn/go-sqlite3"
)

func pgxConfig(target replica.Target, timeout time.Duration) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(target.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if target.Credentials.Username != "" {
		cfg.User = target.Credentials.Username
	}
	if target.Credentials.Password != "" {
		cfg.Password = target.Credentials.Password
	}
	cfg.ConnectTimeout = timeout
	return cfg, nil
}

// PGX opens native pgx connections. Only postgres targets are accepted.
type PGX struct{}

func (PGX) Open(ctx context.Context, target replica.Target, timeout time.Duration) (*pgx.Conn, error) {
	vendor, err := dsn.Canonical(target.Vendor)
	if err != nil {
		return nil, err
	}
	if vendor != dsn.VendorPostgres {
		return nil, dsn.UnsupportedVendorError{Vendor: target.Vendor}
	}
	cfg, err := pgxConfig(target, timeout)
	if err != nil {
		return nil, err
	}
	tCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := pgx.ConnectConfig(tCtx, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SQL opens a database/sql handle for any supported vendor and verifies it with
// a ping inside timeout.
type SQL struct{}

func (SQL) Open(ctx context.Context, target replica.Target, timeout time.Duration) (*sql.DB, error) {
	db, err := openDB(target, timeout)
	if err != nil {
		return nil, err
	}
	tCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(tCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openDB(target replica.Target, timeout time.Duration) (*sql.DB, error) {
	vendor, err := dsn.Canonical(target.Vendor)
	if err != nil {
		return nil, err
	}
	switch vendor {
	case dsn.VendorPostgres:
		cfg, err := pgxConfig(target, timeout)
		if err != nil {
			return nil, err
		}
		return stdlib.OpenDB(*cfg), nil
	case dsn.VendorMySQL:
		cfg, err := mysql.ParseDSN(target.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.User = target.Credentials.Username
		cfg.Passwd = target.Credentials.Password
		cfg.Timeout = timeout
		connector, err := mysql.NewConnector(cfg)
		if err != nil {
			return nil, err
		}
		return sql.OpenDB(connector), nil
	case dsn.VendorSQLite:
		return sql.Open("sqlite3", target.DSN)
	default:
		return nil, dsn.UnsupportedVendorError{Vendor: target.Vendor}
	}
}
