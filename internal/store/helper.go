package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/kong/redundant-db/pkg/replica"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

// PostgresEndpoint is where a test Postgres container can be reached.
type PostgresEndpoint struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// ReplicaConfig describes the container as a postgres replica.
func (e PostgresEndpoint) ReplicaConfig() replica.Config {
	return replica.Config{
		Type:     "postgres",
		Host:     e.Host,
		Port:     e.Port,
		Database: e.Database,
		Username: e.User,
		Password: e.Password,
	}
}

func startContainer(req testcontainers.ContainerRequest, port nat.Port) (testcontainers.Container, string, int, error) {
	container, err := testcontainers.GenericContainer(
		context.Background(),
		testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	if err != nil {
		return nil, "", 0, err
	}
	mapped, err := container.MappedPort(context.Background(), port)
	if err != nil {
		return container, "", 0, err
	}
	host, err := container.Host(context.Background())
	if err != nil {
		return container, "", 0, err
	}
	return container, host, mapped.Int(), nil
}

// SetupTestRedis starts a Redis container and returns its address.
func SetupTestRedis() (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	container, host, port, err := startContainer(req, "6379")
	if err != nil {
		return container, "", err
	}
	return container, fmt.Sprintf("%s:%d", host, port), nil
}

// SetupTestDatabase starts a Postgres container usable as a replica.
func SetupTestDatabase() (testcontainers.Container, PostgresEndpoint, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:latest",
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp"),
		Env: map[string]string{
			"POSTGRES_DB":       "koko",
			"POSTGRES_PASSWORD": "koko",
			"POSTGRES_USER":     "koko",
		},
	}
	container, host, port, err := startContainer(req, "5432")
	if err != nil {
		return container, PostgresEndpoint{}, err
	}
	return container, PostgresEndpoint{
		Host:     host,
		Port:     port,
		Database: "koko",
		User:     "koko",
		Password: "koko",
	}, nil
}

// NewTestLogger returns a logger writing through tb at level, so output shows up
// with the failing test and is dropped for passing ones.
func NewTestLogger(tb testing.TB, level string) *zap.Logger {
	tb.Helper()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		tb.Fatalf("parse log level %q: %v", level, err)
	}
	return zaptest.NewLogger(tb, zaptest.Level(lvl), zaptest.WrapOptions(zap.AddCaller()))
}
