// Package dsn turns a replica.Config into a vendor specific connection string.
// Credentials are not embedded; openers receive them separately.
package dsn

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/kong/redundant-db/pkg/replica"
)

const (
	VendorPostgres = "postgres"
	VendorMySQL    = "mysql"
	VendorSQLite   = "sqlite3"
)

// UnsupportedVendorError is returned for a replica type no builder is registered for.
type UnsupportedVendorError struct {
	Vendor string
}

func (e UnsupportedVendorError) Error() string {
	return fmt.Sprintf("dsn: unsupported database type %q", e.Vendor)
}

// Builder produces the connection string for one vendor.
type Builder interface {
	Build(cfg replica.Config) (string, error)
}

type BuilderFunc func(cfg replica.Config) (string, error)

func (f BuilderFunc) Build(cfg replica.Config) (string, error) {
	return f(cfg)
}

var aliases = map[string]string{
	"postgres":   VendorPostgres,
	"postgresql": VendorPostgres,
	"pgsql":      VendorPostgres,
	"pgx":        VendorPostgres,
	"mysql":      VendorMySQL,
	"mariadb":    VendorMySQL,
	"sqlite":     VendorSQLite,
	"sqlite3":    VendorSQLite,
}

// Canonical maps a configured type onto one of the Vendor constants.
func Canonical(vendor string) (string, error) {
	v, ok := aliases[strings.ToLower(strings.TrimSpace(vendor))]
	if !ok {
		return "", UnsupportedVendorError{Vendor: vendor}
	}
	return v, nil
}

// Registry dispatches on replica.Config.Type.
type Registry struct {
	builders map[string]Builder
}

// NewRegistry returns a registry with the postgres, mysql and sqlite3 builders.
func NewRegistry() *Registry {
	return &Registry{builders: map[string]Builder{
		VendorPostgres: Postgres{},
		VendorMySQL:    MySQL{},
		VendorSQLite:   SQLite{},
	}}
}

// Register replaces the builder for a canonical vendor name.
func (r *Registry) Register(vendor string, b Builder) {
	r.builders[vendor] = b
}

func (r *Registry) Build(cfg replica.Config) (string, error) {
	vendor, err := Canonical(cfg.Type)
	if err != nil {
		return "", err
	}
	b, ok := r.builders[vendor]
	if !ok {
		return "", UnsupportedVendorError{Vendor: cfg.Type}
	}
	return b.Build(cfg)
}

func hostPort(cfg replica.Config) (string, error) {
	if cfg.Host == "" {
		return "", fmt.Errorf("dsn: host cannot be empty")
	}
	if cfg.Port <= 0 {
		return "", fmt.Errorf("dsn: invalid port %d", cfg.Port)
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), nil
}

// Postgres builds postgres:// URLs. With TLS set the server certificate is
// verified against CABundlePath.
type Postgres struct {
	TLS          bool
	CABundlePath string
}

func (p Postgres) Build(cfg replica.Config) (string, error) {
	addr, err := hostPort(cfg)
	if err != nil {
		return "", err
	}
	if cfg.Database == "" {
		return "", fmt.Errorf("dsn: database cannot be empty")
	}
	q := url.Values{}
	if p.TLS {
		if p.CABundlePath == "" {
			return "", fmt.Errorf("dsn: TLS requires a CA bundle path")
		}
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", p.CABundlePath)
	} else {
		q.Set("sslmode", "disable")
	}
	q.Set("client_encoding", strings.ToUpper(cfg.CharsetOrDefault()))
	u := url.URL{
		Scheme:   "postgres",
		Host:     addr,
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	return u.String(), nil
}

// MySQL builds go-sql-driver/mysql DSNs.
type MySQL struct {
	TLSConfig string
}

func (m MySQL) Build(cfg replica.Config) (string, error) {
	addr, err := hostPort(cfg)
	if err != nil {
		return "", err
	}
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = addr
	c.DBName = cfg.Database
	c.TLSConfig = m.TLSConfig
	c.Params = map[string]string{"charset": cfg.CharsetOrDefault()}
	return c.FormatDSN(), nil
}

// SQLite uses Database as the file path.
type SQLite struct{}

// Build opens the file read-write without creating it, so a missing replica
// file fails the attempt instead of turning into a fresh empty database.
func (SQLite) Build(cfg replica.Config) (string, error) {
	if cfg.Database == "" {
		return "", fmt.Errorf("dsn: sqlite database path cannot be empty")
	}
	if strings.ContainsRune(cfg.Database, '?') {
		return "", fmt.Errorf("dsn: sqlite database path %q cannot contain '?'", cfg.Database)
	}
	return "file:" + cfg.Database + "?mode=rw", nil
}
