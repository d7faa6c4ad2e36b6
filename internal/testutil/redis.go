// Package testutil provides test helpers including container management.
package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/storage/redisstore"
)

// RedisContainer wraps a testcontainers Redis instance.
type RedisContainer struct {
	container testcontainers.Container
	Client    *redisstore.Client
	URL       string
}

// NewRedisContainer starts a Redis test container and returns a connected
// client. Tests that call it should skip in short mode, since it requires
// Docker.
//
// Precondition: Docker must be available.
// Postcondition: Returns a running container with a connected client, or
// fails the test.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()
	start := time.Now()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("starting redis container: %v [%s]", err, time.Since(start))
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("getting container host: %v", err)
	}

	mappedPort, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("getting mapped port: %v", err)
	}

	url := fmt.Sprintf("redis://%s:%d/0", host, mappedPort.Int())

	client, err := redisstore.NewClient(ctx, url)
	if err != nil {
		t.Fatalf("connecting to test redis: %v [%s]", err, time.Since(start))
	}

	t.Logf("redis container started [%s]", time.Since(start))

	rc := &RedisContainer{
		container: container,
		Client:    client,
		URL:       url,
	}

	t.Cleanup(func() {
		_ = client.Close()
		_ = container.Terminate(ctx)
	})

	return rc
}

// NewClient opens an additional client against the same container, for tests
// that simulate a second server process.
func (rc *RedisContainer) NewClient(t *testing.T) *redisstore.Client {
	t.Helper()
	client, err := redisstore.NewClient(context.Background(), rc.URL)
	if err != nil {
		t.Fatalf("connecting extra client to test redis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
