//go:build integration

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startNATS runs a throwaway NATS server and returns its client URL.
func startNATS(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.11.7-alpine",
			ExposedPorts: []string{"4222/tcp", "8222/tcp"},
			Cmd:          []string{"--port", "4222", "--http_port", "8222"},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("4222/tcp"),
				wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	return "nats://" + host + ":" + port.Port()
}

func TestIntegration_PublishSubscribe(t *testing.T) {
	url := startNATS(t)

	c, err := NewClient(url, WithName("sparqlstream-test"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Connect(ctx))
	defer c.Close(context.Background())
	require.True(t, c.IsHealthy())

	received := make(chan []byte, 1)
	require.NoError(t, c.Subscribe(ctx, "sparql.test.>", func(_ context.Context, data []byte) {
		received <- data
	}))

	require.NoError(t, c.Publish(ctx, "sparql.test.progress", []byte(`{"phase":"executing"}`)))
	require.NoError(t, c.Flush(ctx))

	select {
	case data := <-received:
		require.JSONEq(t, `{"phase":"executing"}`, string(data))
	case <-ctx.Done():
		t.Fatal("message not received")
	}
}
