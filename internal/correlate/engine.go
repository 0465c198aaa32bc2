package correlate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"demobroker/internal/bus"
	"demobroker/internal/frame"
	"demobroker/internal/logging"
	"demobroker/internal/metrics"
)

const (
	defaultKeyField   = "shareCode"
	defaultValueField = "demoURL"
	defaultTimeout    = 10 * time.Second
)

// Engine correlates lookups with resolutions arriving from the bus.
type Engine struct {
	bc      Broadcaster
	opts    Options
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics.Metrics

	lookups  chan lookupRequest
	messages chan frame.Message
	expiries chan expiry
	detaches chan detachRequest
	queries  chan func()
	done     chan struct{}
	running  atomic.Bool
	waiterID atomic.Uint64

	// Owned by the Run goroutine.
	pending map[string]*pendingRequest
	cache   map[string]string
	stats   Stats
	gen     uint64
	final   Stats
}

type waiter struct {
	id      uint64
	started time.Time
	ch      chan Outcome
}

type pendingRequest struct {
	key      string
	deadline time.Time
	gen      uint64
	timer    *clock.Timer
	waiters  map[uint64]*waiter
}

type lookupRequest struct {
	key string
	w   *waiter
}

type expiry struct {
	key string
	gen uint64
}

type detachRequest struct {
	key string
	id  uint64
}

// New creates an engine that broadcasts lookups through bc. Call Run to start it.
func New(bc Broadcaster, opts Options) *Engine {
	if strings.TrimSpace(opts.KeyField) == "" {
		opts.KeyField = defaultKeyField
	}
	if strings.TrimSpace(opts.ValueField) == "" {
		opts.ValueField = defaultValueField
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	return &Engine{
		bc:       bc,
		opts:     opts,
		clock:    opts.Clock,
		logger:   logging.NewComponentLogger(opts.Logger, "correlate"),
		metrics:  opts.Metrics,
		lookups:  make(chan lookupRequest),
		messages: make(chan frame.Message, 64),
		expiries: make(chan expiry, 16),
		detaches: make(chan detachRequest, 16),
		queries:  make(chan func()),
		done:     make(chan struct{}),
		pending:  make(map[string]*pendingRequest),
		cache:    make(map[string]string),
	}
}

// Run processes lookups, resolutions, and expiries until ctx ends. Waiters
// still pending at shutdown receive ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("correlation engine already running")
	}
	defer close(e.done)
	defer e.shutdown()

	e.logger.Info("correlation engine started",
		logging.String("key_field", e.opts.KeyField),
		logging.String("value_field", e.opts.ValueField),
		logging.Duration("timeout", e.opts.Timeout),
		logging.String(logging.FieldEventType, "engine_started"))

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-e.lookups:
			e.handleLookup(req)
		case msg := <-e.messages:
			e.handleMessage(msg)
		case exp := <-e.expiries:
			e.handleExpiry(exp)
		case det := <-e.detaches:
			e.handleDetach(det)
		case fn := <-e.queries:
			fn()
		}
	}
}

func (e *Engine) shutdown() {
	for key, p := range e.pending {
		p.timer.Stop()
		delete(e.pending, key)
	}
	e.final = e.snapshot()
	e.metrics.Pending(0)
}

// Lookup returns the value for key, waiting for a resolution when the key is
// not cached. It returns an error only for a rejected key, engine shutdown,
// or when ctx ends first; an expired deadline is reported as StatusTimeout.
func (e *Engine) Lookup(ctx context.Context, key string) (Outcome, error) {
	if err := e.checkKey(key); err != nil {
		return Outcome{}, err
	}
	w := &waiter{id: e.waiterID.Add(1), ch: make(chan Outcome, 1)}

	select {
	case e.lookups <- lookupRequest{key: key, w: w}:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	case <-e.done:
		return Outcome{}, ErrStopped
	}

	select {
	case out := <-w.ch:
		return out, nil
	case <-ctx.Done():
		select {
		case e.detaches <- detachRequest{key: key, id: w.id}:
		case <-e.done:
		}
		return Outcome{}, ctx.Err()
	case <-e.done:
		return Outcome{}, ErrStopped
	}
}

// Deliver hands an inbound bus message to the engine. Messages without both
// the key and value fields are ignored.
func (e *Engine) Deliver(msg frame.Message) {
	select {
	case e.messages <- msg:
	case <-e.done:
	}
}

// Stats returns the current counters. After Run exits it returns the final snapshot.
func (e *Engine) Stats() Stats {
	var out Stats
	if !e.query(func() { out = e.snapshot() }) {
		return e.final
	}
	return out
}

// Cached returns the cached value for key without starting a lookup.
func (e *Engine) Cached(key string) (string, bool) {
	var (
		value string
		ok    bool
	)
	if !e.query(func() { value, ok = e.cache[key] }) {
		value, ok = e.cache[key]
	}
	return value, ok
}

func (e *Engine) query(fn func()) bool {
	ran := make(chan struct{})
	select {
	case e.queries <- func() { fn(); close(ran) }:
	case <-e.done:
		return false
	}
	<-ran
	return true
}

func (e *Engine) snapshot() Stats {
	s := e.stats
	s.Pending = len(e.pending)
	s.Cached = len(e.cache)
	for _, p := range e.pending {
		s.Waiters += len(p.waiters)
	}
	return s
}

func (e *Engine) handleLookup(req lookupRequest) {
	now := e.clock.Now()
	req.w.started = now
	e.stats.Lookups++

	if value, ok := e.cache[req.key]; ok {
		e.stats.CacheHits++
		req.w.ch <- Outcome{Key: req.key, Value: value, Status: StatusResolved, Cached: true}
		e.metrics.LookupFinished(metrics.LookupCached, 0)
		e.logger.Debug("lookup served from cache",
			logging.String(logging.FieldLookupKey, req.key),
			logging.String(logging.FieldEventType, "lookup_cache_hit"))
		return
	}

	if p, ok := e.pending[req.key]; ok {
		p.waiters[req.w.id] = req.w
		e.stats.Joined++
		e.logger.Debug("lookup joined pending request",
			logging.String(logging.FieldLookupKey, req.key),
			logging.Int("waiters", len(p.waiters)),
			logging.Duration("remaining", p.deadline.Sub(now)),
			logging.String(logging.FieldEventType, "lookup_joined"))
		return
	}

	e.gen++
	gen := e.gen
	key := req.key
	p := &pendingRequest{
		key:      key,
		deadline: now.Add(e.opts.Timeout),
		gen:      gen,
		waiters:  map[uint64]*waiter{req.w.id: req.w},
	}
	p.timer = e.clock.AfterFunc(e.opts.Timeout, func() {
		select {
		case e.expiries <- expiry{key: key, gen: gen}:
		case <-e.done:
		}
	})
	e.pending[key] = p
	e.metrics.Pending(len(e.pending))

	e.broadcast(key)
}

func (e *Engine) broadcast(key string) {
	e.stats.Broadcasts++
	delivered, err := e.bc.Broadcast(frame.Message{e.opts.KeyField: key})
	switch {
	case errors.Is(err, bus.ErrNoPeers):
		logging.WarnWithContext(e.logger, "no resolver connected for lookup", "lookup_no_resolver",
			logging.String(logging.FieldLookupKey, key),
			logging.String(logging.FieldImpact, "the lookup times out unless a resolver answers before the deadline"),
			logging.String(logging.FieldErrorHint, "start the resolver process and check it points at the same socket"))
	case err != nil:
		logging.WarnWithContext(e.logger, "lookup broadcast incomplete", "lookup_broadcast_failed",
			logging.String(logging.FieldLookupKey, key),
			logging.Int("delivered", delivered),
			logging.Error(err),
			logging.String(logging.FieldImpact, "some resolvers did not receive the request"),
			logging.String(logging.FieldErrorHint, "failed resolvers reconnect on their own"))
	default:
		e.logger.Debug("lookup broadcast",
			logging.String(logging.FieldLookupKey, key),
			logging.Int("delivered", delivered),
			logging.String(logging.FieldEventType, "lookup_broadcast"))
	}
}

func (e *Engine) handleMessage(msg frame.Message) {
	key, ok := msg.String(e.opts.KeyField)
	if !ok {
		e.logger.Debug("ignoring message without key",
			logging.String(logging.FieldEventType, "resolution_ignored"))
		return
	}
	value, ok := msg.String(e.opts.ValueField)
	if !ok {
		e.logger.Debug("ignoring message without value",
			logging.String(logging.FieldLookupKey, key),
			logging.String(logging.FieldEventType, "resolution_ignored"))
		return
	}

	e.stats.Resolutions++
	if cached, exists := e.cache[key]; exists {
		value = cached
	} else {
		e.cache[key] = value
		e.metrics.CacheSize(len(e.cache))
	}

	p, ok := e.pending[key]
	if !ok {
		e.stats.Unmatched++
		e.metrics.Resolution(false)
		e.logger.Debug("cached resolution with no pending lookup",
			logging.String(logging.FieldLookupKey, key),
			logging.String(logging.FieldEventType, "resolution_unmatched"))
		return
	}

	p.timer.Stop()
	delete(e.pending, key)
	e.metrics.Pending(len(e.pending))
	e.metrics.Resolution(true)

	now := e.clock.Now()
	for _, w := range p.waiters {
		w.ch <- Outcome{Key: key, Value: value, Status: StatusResolved}
		e.metrics.LookupFinished(metrics.LookupResolved, now.Sub(w.started))
	}
	e.logger.Info("lookup resolved",
		logging.String(logging.FieldLookupKey, key),
		logging.Int("waiters", len(p.waiters)),
		logging.Duration("remaining", p.deadline.Sub(now)),
		logging.String(logging.FieldEventType, "lookup_resolved"))
}

func (e *Engine) handleExpiry(exp expiry) {
	p, ok := e.pending[exp.key]
	if !ok || p.gen != exp.gen {
		return
	}
	delete(e.pending, exp.key)
	e.metrics.Pending(len(e.pending))
	e.stats.Timeouts++

	now := e.clock.Now()
	for _, w := range p.waiters {
		w.ch <- Outcome{Key: exp.key, Status: StatusTimeout}
		e.metrics.LookupFinished(metrics.LookupTimeout, now.Sub(w.started))
	}
	logging.WarnWithContext(e.logger, "lookup timed out", "lookup_timeout",
		logging.String(logging.FieldLookupKey, exp.key),
		logging.Int("waiters", len(p.waiters)),
		logging.Duration("timeout", e.opts.Timeout),
		logging.String(logging.FieldImpact, "callers receive a timeout outcome"),
		logging.String(logging.FieldErrorHint, "check the resolver is connected and its backend is answering"))
}

// handleDetach drops one waiter whose caller went away. The pending request
// stays so a late resolution is still cached.
func (e *Engine) handleDetach(det detachRequest) {
	p, ok := e.pending[det.key]
	if !ok {
		return
	}
	w, ok := p.waiters[det.id]
	if !ok {
		return
	}
	delete(p.waiters, det.id)
	e.metrics.LookupFinished(metrics.LookupCancelled, e.clock.Now().Sub(w.started))
	e.logger.Debug("lookup caller detached",
		logging.String(logging.FieldLookupKey, det.key),
		logging.Int("waiters", len(p.waiters)),
		logging.String(logging.FieldEventType, "lookup_detached"))
}
