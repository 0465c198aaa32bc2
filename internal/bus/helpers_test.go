package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"demobroker/internal/frame"
)

const waitTimeout = 5 * time.Second

// socketPath returns a path short enough for sun_path limits.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "bus")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "bus.sock")
}

func startServer(t *testing.T, path string) *Server {
	t.Helper()
	return startServerWith(t, path, ServerOptions{WriteTimeout: time.Second})
}

func startServerWith(t *testing.T, path string, opts ServerOptions) *Server {
	t.Helper()
	srv, err := Listen(path, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
		<-done
	})
	return srv
}

func nextEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case evt := <-events:
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func dialPeer(t *testing.T, path string) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, bufio.NewReader(conn)
}

func readMessage(t *testing.T, conn net.Conn, r *bufio.Reader) frame.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitTimeout)))
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	var msg frame.Message
	require.NoError(t, json.Unmarshal(line, &msg))
	return msg
}
