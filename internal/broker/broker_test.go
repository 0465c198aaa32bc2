package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"demobroker/internal/api"
	"demobroker/internal/broker"
	"demobroker/internal/bus"
	"demobroker/internal/config"
	"demobroker/internal/metrics"
	"demobroker/internal/resolver"
	"demobroker/internal/testsupport"
)

const waitTimeout = 5 * time.Second

func startBroker(t *testing.T, cfg *config.Config, opts broker.Options) *broker.Broker {
	t.Helper()
	b, err := broker.New(cfg, nil, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.Run(ctx) }()

	select {
	case <-b.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("broker exited before ready: %v", err)
	case <-time.After(waitTimeout):
		cancel()
		t.Fatal("broker never became ready")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(waitTimeout):
			t.Error("broker did not stop")
		}
	})
	return b
}

func startResolver(t *testing.T, cfg *config.Config, backend resolver.Backend) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	client := bus.NewClient(cfg.Paths.SocketPath, bus.ClientOptions{ReconnectDelay: cfg.ReconnectDelay()})
	runner := resolver.NewRunner(client, backend, resolver.Options{
		KeyField:   cfg.Bus.KeyField,
		ValueField: cfg.Bus.ValueField,
	})
	clientDone := make(chan struct{})
	runnerDone := make(chan struct{})
	go func() { defer close(clientDone); _ = client.Run(ctx) }()
	go func() { defer close(runnerDone); _ = runner.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
		<-clientDone
		<-runnerDone
	})
}

func apiClient(t *testing.T, cfg *config.Config, b *broker.Broker) *api.Client {
	t.Helper()
	client, err := api.NewClient(b.APIAddr(), cfg.API.Token, api.Fields{Key: cfg.Bus.KeyField, Value: cfg.Bus.ValueField})
	require.NoError(t, err)
	return client
}

func TestBrokerResolvesThroughResolver(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLookupTimeout(5))
	m := metrics.New()
	b := startBroker(t, cfg, broker.Options{Metrics: m})
	startResolver(t, cfg, resolver.NewStaticBackend(map[string]string{"CSGO-ABCDE": "http://x/d.dem"}))

	require.Eventually(t, func() bool { return b.Status().Peers == 1 }, waitTimeout, 10*time.Millisecond)

	client := apiClient(t, cfg, b)
	res, err := client.Lookup(context.Background(), "CSGO-ABCDE")
	require.NoError(t, err)
	assert.Equal(t, "http://x/d.dem", res.Value)
	assert.False(t, res.Cached)
	assert.False(t, res.TimedOut)

	again, err := client.Lookup(context.Background(), "CSGO-ABCDE")
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, "http://x/d.dem", again.Value)

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
	assert.Equal(t, uint64(1), status.Engine.Broadcasts)
	assert.Equal(t, 1, status.Engine.Cached)
	assert.Equal(t, cfg.Paths.SocketPath, status.Socket)
}

func TestBrokerLookupTimesOutWithoutResolver(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLookupTimeout(10))
	mock := clock.NewMock()
	b := startBroker(t, cfg, broker.Options{Clock: mock})
	client := apiClient(t, cfg, b)

	type result struct {
		res api.LookupResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := client.Lookup(context.Background(), "CSGO-NOBODY")
		done <- result{res, err}
	}()

	require.Eventually(t, func() bool { return b.Status().Engine.Pending == 1 }, waitTimeout, 10*time.Millisecond)
	mock.Add(cfg.LookupTimeout())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.True(t, r.res.TimedOut)
		assert.Equal(t, "CSGO-NOBODY", r.res.Key)
		assert.Equal(t, api.TimeoutMessage, r.res.Error)
	case <-time.After(waitTimeout):
		t.Fatal("lookup did not time out")
	}
	assert.Equal(t, 0, b.Status().Engine.Pending)
}

func TestSecondBrokerIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	startBroker(t, cfg, broker.Options{})

	second, err := broker.New(cfg, nil, broker.Options{})
	require.NoError(t, err)
	err = second.Run(context.Background())
	assert.ErrorIs(t, err, broker.ErrAlreadyRunning)

	_, statErr := os.Lstat(cfg.Paths.SocketPath)
	assert.NoError(t, statErr, "the running broker's socket must survive")
}

func TestBrokerBindErrorOnRegularFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	require.NoError(t, os.WriteFile(cfg.Paths.SocketPath, []byte("not a socket"), 0o644))

	b, err := broker.New(cfg, nil, broker.Options{})
	require.NoError(t, err)
	err = b.Run(context.Background())
	var bindErr *bus.BindError
	assert.True(t, errors.As(err, &bindErr), "expected BindError, got %v", err)
}

func TestAPIRequiresToken(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken("s3cret"))
	b := startBroker(t, cfg, broker.Options{Metrics: metrics.New()})
	base := "http://" + b.APIAddr()

	resp, err := http.Get(base + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(api.HeaderRequestID))

	req, err := http.NewRequest(http.MethodGet, base+"/metrics", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	status, err := apiClient(t, cfg, b).Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Running)
}

func TestLookupRejectsUnusableKeys(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Bus.MaxFrameBytes = 64
	b := startBroker(t, cfg, broker.Options{})
	base := "http://" + b.APIAddr()

	cases := map[string]string{
		"option flag":       "/api/--help",
		"short flag":        "/api/-x",
		"control character": "/api/CSGO%0AX",
		"over frame limit":  "/api/" + strings.Repeat("K", 100),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			resp, err := http.Get(base + path)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body[api.ErrorField])
		})
	}
	assert.Zero(t, b.Status().Engine.Broadcasts)
	assert.Zero(t, b.Status().Engine.Pending)
}

func TestCachedLookupIgnoresResolverThatStopsReading(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLookupTimeout(60))
	cfg.Bus.WriteTimeoutMS = 60_000
	b := startBroker(t, cfg, broker.Options{})
	startResolver(t, cfg, resolver.NewStaticBackend(map[string]string{"CSGO-ABCDE": "http://x/d.dem"}))
	require.Eventually(t, func() bool { return b.Status().Peers == 1 }, waitTimeout, 10*time.Millisecond)

	first, err := b.Lookup(context.Background(), "CSGO-ABCDE")
	require.NoError(t, err)
	require.True(t, first.Resolved())

	stuck, err := net.Dial("unix", cfg.Paths.SocketPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stuck.Close() })
	require.Eventually(t, func() bool { return b.Status().Peers == 2 }, waitTimeout, 10*time.Millisecond)

	// Enough unanswered broadcasts to fill the stuck peer's socket buffer.
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	const misses = 32
	for i := range misses {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = b.Lookup(ctx, fmt.Sprintf("%d-%s", i, strings.Repeat("K", 64*1024)))
		}()
	}
	require.Eventually(t, func() bool { return b.Status().Engine.Broadcasts == misses+1 }, waitTimeout, 10*time.Millisecond)

	start := time.Now()
	out, err := b.Lookup(context.Background(), "CSGO-ABCDE")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, out.Cached)
	assert.Equal(t, "http://x/d.dem", out.Value)
}
