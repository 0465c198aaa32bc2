package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofrs/flock"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"demobroker/internal/api"
	"demobroker/internal/bus"
	"demobroker/internal/config"
	"demobroker/internal/correlate"
	"demobroker/internal/logging"
	"demobroker/internal/metrics"
)

// ErrAlreadyRunning is returned when another broker holds the socket lock.
var ErrAlreadyRunning = errors.New("another broker instance is already running on this socket")

// Options carries optional collaborators for a Broker.
type Options struct {
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

// Broker owns the bus server, the correlation engine, and the HTTP API.
type Broker struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
	fields  api.Fields

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.RWMutex
	server    *bus.Server
	engine    *correlate.Engine
	api       *apiServer
	startedAt time.Time
}

// New constructs a broker. Nothing is bound until Run.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Broker, error) {
	if cfg == nil {
		return nil, errors.New("broker requires config")
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	lockPath := cfg.Paths.SocketPath + ".lock"
	return &Broker{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "broker"),
		metrics:  opts.Metrics,
		clock:    opts.Clock,
		fields:   api.Fields{Key: cfg.Bus.KeyField, Value: cfg.Bus.ValueField},
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		ready:    make(chan struct{}),
	}, nil
}

// Run binds the socket and the API and serves until ctx ends. A bind failure
// is returned as *bus.BindError.
func (b *Broker) Run(ctx context.Context) (err error) {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("broker already running")
	}
	defer b.running.Store(false)

	locked, err := b.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", b.lockPath, err)
	}
	if !locked {
		return ErrAlreadyRunning
	}
	defer func() {
		if uerr := b.lock.Unlock(); uerr != nil {
			logging.WarnWithContext(b.logger, "failed to release broker lock", "broker_unlock_failed",
				logging.String("lock", b.lockPath),
				logging.Error(uerr),
				logging.String(logging.FieldImpact, "the lock is released when the process exits"),
				logging.String(logging.FieldErrorHint, "no action needed unless the next start reports a running instance"))
		}
	}()

	server, err := bus.Listen(b.cfg.Paths.SocketPath, bus.ServerOptions{
		Logger:        b.logger,
		Metrics:       b.metrics,
		MaxFrameBytes: b.cfg.Bus.MaxFrameBytes,
		WriteTimeout:  b.cfg.WriteTimeout(),
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, server.Close())
	}()

	engine := correlate.New(server, correlate.Options{
		KeyField:      b.cfg.Bus.KeyField,
		ValueField:    b.cfg.Bus.ValueField,
		Timeout:       b.cfg.LookupTimeout(),
		MaxFrameBytes: b.cfg.Bus.MaxFrameBytes,
		Clock:         b.clock,
		Logger:        b.logger,
		Metrics:       b.metrics,
	})

	apiSrv, err := newAPIServer(b, b.cfg.API, b.logger)
	if err != nil {
		return err
	}
	if err := apiSrv.listen(); err != nil {
		return err
	}

	b.mu.Lock()
	b.server = server
	b.engine = engine
	b.api = apiSrv
	b.startedAt = b.clock.Now()
	b.mu.Unlock()
	b.readyOnce.Do(func() { close(b.ready) })

	b.logger.Info("broker started",
		logging.String(logging.FieldSocket, server.Path()),
		logging.String("lock", b.lockPath),
		logging.String("api", apiSrv.addr()),
		logging.String(logging.FieldEventType, "broker_started"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Serve(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error { return pump(gctx, server, engine) })
	g.Go(func() error { return apiSrv.serve(gctx) })
	err = g.Wait()

	b.logger.Info("broker stopped",
		logging.String(logging.FieldEventType, "broker_stopped"))
	return err
}

// pump forwards inbound bus messages to the engine in arrival order.
func pump(ctx context.Context, server *bus.Server, engine *correlate.Engine) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-server.Done():
			return nil
		case evt := <-server.Events():
			if evt.Kind == bus.EventMessage {
				engine.Deliver(evt.Message)
			}
		}
	}
}

// Ready is closed once the socket and the API are bound.
func (b *Broker) Ready() <-chan struct{} {
	return b.ready
}

// APIAddr returns the bound API address, or "" before Ready.
func (b *Broker) APIAddr() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.api == nil {
		return ""
	}
	return b.api.addr()
}

// Lookup resolves key through the correlation engine.
func (b *Broker) Lookup(ctx context.Context, key string) (correlate.Outcome, error) {
	b.mu.RLock()
	engine := b.engine
	b.mu.RUnlock()
	if engine == nil {
		return correlate.Outcome{}, correlate.ErrStopped
	}
	return engine.Lookup(ctx, key)
}

// Status reports runtime information for the API.
func (b *Broker) Status() api.StatusResponse {
	b.mu.RLock()
	server, engine, startedAt := b.server, b.engine, b.startedAt
	b.mu.RUnlock()

	status := api.StatusResponse{
		Running:       b.running.Load(),
		PID:           os.Getpid(),
		Socket:        b.cfg.Paths.SocketPath,
		LockFile:      b.lockPath,
		KeyField:      b.fields.Key,
		ValueField:    b.fields.Value,
		LookupTimeout: b.cfg.LookupTimeout().String(),
	}
	if !startedAt.IsZero() {
		status.StartedAt = startedAt.UTC().Format(time.RFC3339)
		status.UptimeSeconds = int64(b.clock.Since(startedAt).Seconds())
	}
	if server != nil {
		status.Peers = server.Peers()
	}
	if engine != nil {
		status.Engine = api.FromStats(engine.Stats())
	}
	return status
}
