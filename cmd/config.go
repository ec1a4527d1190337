package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kong/redundant-db/pkg/dsn"
	"github.com/kong/redundant-db/pkg/replica"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Logger is the service logger, built once by SetupLogging.
var Logger *zap.Logger

// logLevel is shared by every logger derived from Logger, so PUT /loglevel
// takes effect everywhere at once.
var logLevel = zap.NewAtomicLevel()

// SetupLogging builds the JSON production logger at the named level.
func SetupLogging(level string) (*zap.Logger, error) {
	if err := SetLevel(level); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = logLevel
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.InitialFields = map[string]interface{}{"service": "redundant-db"}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	Logger = logger
	return logger, nil
}

// SetLevel changes the level of the running logger.
func SetLevel(level string) error {
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}
	return nil
}

// CurrentLevel reports the running log level.
func CurrentLevel() zapcore.Level {
	return logLevel.Level()
}

const caBundleFSPath = "/config/ca_certs/aws-postgres-cabundle-secret"

type memcConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (m memcConfig) addr() string {
	return net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
}

type statsdConfig struct {
	Addr      string `yaml:"addr"`
	Namespace string `yaml:"namespace"`
}

type serviceConfig struct {
	Replicas        map[int]replica.Config `yaml:"replicas"`
	Memc            memcConfig             `yaml:"memc"`
	Timeout         time.Duration          `yaml:"timeout"`
	StatsTTL        time.Duration          `yaml:"statsTTL"`
	FreezeThreshold int                    `yaml:"freezeThreshold"`
	Atomic          bool                   `yaml:"atomic"`
	ListenAddr      string                 `yaml:"listenAddr"`
	LogLevel        string                 `yaml:"logLevel"`
	Statsd          statsdConfig           `yaml:"statsd"`
	EnableTLS       bool                   `yaml:"enableTLS"`
	CABundleFSPath  string                 `yaml:"caBundleFSPath"`
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func loadServiceConfig(path string) (*serviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	sc := &serviceConfig{
		ListenAddr:     "0.0.0.0:8080",
		LogLevel:       "info",
		CABundleFSPath: caBundleFSPath,
	}
	if err := yaml.Unmarshal(raw, sc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := applyEnv(sc); err != nil {
		return nil, err
	}
	if err := validate(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func applyEnv(sc *serviceConfig) error {
	sc.LogLevel = getenv("LOG_LEVEL", sc.LogLevel)
	sc.ListenAddr = getenv("LISTEN_ADDR", sc.ListenAddr)
	sc.Memc.Host = getenv("MEMC_HOST", sc.Memc.Host)
	sc.Statsd.Addr = getenv("STATSD_ADDR", sc.Statsd.Addr)
	sc.CABundleFSPath = getenv("PG_CA_BUNDLE_FS_PATH", sc.CABundleFSPath)
	if port := os.Getenv("MEMC_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("env variable MEMC_PORT must be a number: %w", err)
		}
		sc.Memc.Port = p
	}
	if isSecure := os.Getenv("ENABLE_TLS"); isSecure == "yes" || isSecure == "true" {
		sc.EnableTLS = true
	}
	return nil
}

func validate(sc *serviceConfig) error {
	for _, id := range replica.All {
		rc, ok := sc.Replicas[int(id)]
		if !ok {
			return fmt.Errorf("replica %s is not configured", id)
		}
		vendor, err := dsn.Canonical(rc.Type)
		if err != nil {
			return fmt.Errorf("replica %s: %w", id, err)
		}
		if rc.Database == "" {
			return fmt.Errorf("replica %s: database cannot be empty", id)
		}
		if vendor == dsn.VendorSQLite {
			continue
		}
		if rc.Host == "" {
			return fmt.Errorf("replica %s: host cannot be empty", id)
		}
		if rc.Port <= 0 {
			return fmt.Errorf("replica %s: port cannot be empty", id)
		}
	}
	if len(sc.Replicas) != len(replica.All) {
		return fmt.Errorf("exactly two replicas (1 and 2) must be configured")
	}
	if sc.Memc.Host == "" {
		return fmt.Errorf("memc host cannot be empty")
	}
	if sc.Memc.Port <= 0 {
		return fmt.Errorf("memc port cannot be empty")
	}
	if sc.EnableTLS && sc.CABundleFSPath == "" {
		return fmt.Errorf("ENABLE_TLS requires a valid PG_CA_BUNDLE_FS_PATH")
	}
	if _, err := zapcore.ParseLevel(sc.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", sc.LogLevel)
	}
	return nil
}

func (sc *serviceConfig) replicas() map[replica.ID]replica.Config {
	out := make(map[replica.ID]replica.Config, len(sc.Replicas))
	for id, rc := range sc.Replicas {
		rc.Type = strings.TrimSpace(rc.Type)
		out[replica.ID(id)] = rc
	}
	return out
}
