package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/groupcal/engine"
	"github.com/cyp0633/groupcal/storage/memory"
)

func TestRegistry(t *testing.T) {
	srv := newTestServer(t)
	registry := NewRegistry()

	serverSide, clientSide := net.Pipe()
	defer clientSide.Close()
	c := newConn(srv, serverSide)

	registry.Add(c)
	assert.Equal(t, 1, registry.Len())
	assert.False(t, registry.IsLoggedIn("alice"))

	c.setSession(&engine.Session{Token: "token", Username: "alice"})
	assert.True(t, registry.IsLoggedIn("alice"))
	assert.False(t, registry.IsLoggedIn("bob"))

	registry.Remove(c)
	assert.Equal(t, 0, registry.Len())
	assert.False(t, registry.IsLoggedIn("alice"))
}

func TestRegistryCloseAll(t *testing.T) {
	srv := newTestServer(t)
	registry := NewRegistry()

	var clients []net.Conn
	for i := 0; i < 3; i++ {
		serverSide, clientSide := net.Pipe()
		registry.Add(newConn(srv, serverSide))
		clients = append(clients, clientSide)
	}

	registry.CloseAll()

	for _, client := range clients {
		require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
		_, err := client.Read(make([]byte, 1))
		assert.Error(t, err, "connection should be closed")
		client.Close()
	}
}

func TestServeLifecycle(t *testing.T) {
	store := memory.New()
	srv := New(store, Config{IdleTimeout: 5 * time.Second, SessionTTL: time.Minute})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Write([]byte("help\n"))
	require.NoError(t, err)
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.Contains(line, "Available commands"), line)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, 0, srv.registry.Len())
}
