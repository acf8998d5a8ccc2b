// Package testutil starts the Postgres and Redis servers integration tests
// run against.
package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	PostgresImage = "postgres:16-alpine"
	RedisImage    = "redis:7-alpine"
)

func start(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) (string, int) {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	// suppress logging
	testcontainers.Logger = log.New(io.Discard, "", 0)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate %s: %v", req.Image, err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)
	return host, mapped.Int()
}

// PostgresURL returns a connection string for an empty database. The
// DEALSYNC_TEST_DATABASE_URL environment variable points tests at an
// existing server instead of a container.
func PostgresURL(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("DEALSYNC_TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}

	host, port := start(t, testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "dealsync",
			"POSTGRES_PASSWORD": "dealsync",
			"POSTGRES_DB":       "dealsync",
		},
		// postgres restarts once after initdb
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(2 * time.Minute),
	}, "5432/tcp")

	return fmt.Sprintf("postgres://dealsync:dealsync@%s/dealsync?sslmode=disable",
		net.JoinHostPort(host, strconv.Itoa(port)))
}

// RedisAddr returns host and port of a Redis server. DEALSYNC_TEST_REDIS_ADDR
// (host:port) overrides the container.
func RedisAddr(t *testing.T) (string, int) {
	t.Helper()
	if addr := os.Getenv("DEALSYNC_TEST_REDIS_ADDR"); addr != "" {
		host, portText, _ := strings.Cut(addr, ":")
		port, err := strconv.Atoi(portText)
		require.NoError(t, err)
		return host, port
	}

	return start(t, testcontainers.ContainerRequest{
		Image:        RedisImage,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(time.Minute),
	}, "6379/tcp")
}
