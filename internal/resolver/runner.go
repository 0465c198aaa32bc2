package resolver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"demobroker/internal/bus"
	"demobroker/internal/correlate"
	"demobroker/internal/frame"
	"demobroker/internal/logging"
	"demobroker/internal/metrics"
)

const (
	defaultQueryTimeout  = 30 * time.Second
	defaultMaxConcurrent = 4
)

// Transport is the part of a bus client the runner needs. *bus.Client satisfies it.
type Transport interface {
	Events() <-chan bus.Event
	Send(msg frame.Message) error
}

// Options configures a Runner.
type Options struct {
	KeyField      string
	ValueField    string
	QueryTimeout  time.Duration
	MaxConcurrent int
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
}

// Runner turns lookup broadcasts into resolution messages.
type Runner struct {
	transport Transport
	backend   Backend
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics
	inflight  singleflight.Group
}

// NewRunner wires a backend to a transport.
func NewRunner(transport Transport, backend Backend, opts Options) *Runner {
	if opts.KeyField == "" {
		opts.KeyField = "shareCode"
	}
	if opts.ValueField == "" {
		opts.ValueField = "demoURL"
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = defaultQueryTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	return &Runner{
		transport: transport,
		backend:   backend,
		opts:      opts,
		logger:    logging.NewComponentLogger(opts.Logger, "resolver"),
		metrics:   opts.Metrics,
	}
}

// Run handles transport events until ctx ends, then waits for in-flight
// queries to finish. At most MaxConcurrent queries run at once; further
// requests wait for a free slot.
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.MaxConcurrent)

	events := r.transport.Events()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case evt := <-events:
			switch evt.Kind {
			case bus.EventConnected:
				r.logger.Info("resolver ready",
					logging.String(logging.FieldEventType, "resolver_ready"))
			case bus.EventDisconnected:
				r.logger.Info("resolver waiting for broker",
					logging.String(logging.FieldEventType, "resolver_waiting"))
			case bus.EventMessage:
				key, ok := r.requestKey(evt.Message)
				if !ok {
					continue
				}
				g.Go(func() error {
					r.resolve(gctx, key)
					return nil
				})
			}
		}
	}
	return g.Wait()
}

// requestKey extracts the key from a lookup broadcast. Messages that already
// carry a value are resolutions and are skipped.
func (r *Runner) requestKey(msg frame.Message) (string, bool) {
	key, ok := msg.String(r.opts.KeyField)
	if !ok {
		r.logger.Debug("ignoring message without key",
			logging.String(logging.FieldEventType, "resolver_message_ignored"))
		return "", false
	}
	if _, has := msg[r.opts.ValueField]; has {
		return "", false
	}
	if err := correlate.ValidateKey(key); err != nil {
		logging.WarnWithContext(r.logger, "ignoring request with unusable key", "resolver_key_rejected",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the broker times this lookup out"),
			logging.String(logging.FieldErrorHint, "upgrade the broker so it rejects such keys itself"))
		return "", false
	}
	return key, true
}

// resolve queries the backend once per key at a time and sends the answer.
// Duplicate requests arriving while a query runs share its result.
func (r *Runner) resolve(ctx context.Context, key string) {
	_, _, _ = r.inflight.Do(key, func() (any, error) {
		r.query(ctx, key)
		return nil, nil
	})
}

func (r *Runner) query(ctx context.Context, key string) {
	qctx, cancel := context.WithTimeout(ctx, r.opts.QueryTimeout)
	defer cancel()

	started := time.Now()
	value, ok, err := r.backend.Resolve(qctx, key)
	elapsed := time.Since(started)

	switch {
	case err != nil:
		r.metrics.Query(metrics.QueryFailed, elapsed)
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(r.logger, "resolver query failed", "resolver_query_failed",
			logging.String(logging.FieldLookupKey, key),
			logging.Duration("elapsed", elapsed),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the broker lookup times out for this key"),
			logging.String(logging.FieldErrorHint, "check the resolver backend command and its credentials"))
		return
	case !ok:
		r.metrics.Query(metrics.QueryEmpty, elapsed)
		r.logger.Info("resolver has no answer",
			logging.String(logging.FieldLookupKey, key),
			logging.Duration("elapsed", elapsed),
			logging.String(logging.FieldEventType, "resolver_no_answer"))
		return
	}

	r.metrics.Query(metrics.QueryAnswered, elapsed)
	msg := frame.Message{r.opts.KeyField: key, r.opts.ValueField: value}
	if err := r.transport.Send(msg); err != nil {
		logging.WarnWithContext(r.logger, "failed to send resolution", "resolver_send_failed",
			logging.String(logging.FieldLookupKey, key),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the answer is lost; the broker lookup times out"),
			logging.String(logging.FieldErrorHint, "raise client.send_queue_limit or check the broker is running"))
		return
	}
	r.logger.Info("resolution sent",
		logging.String(logging.FieldLookupKey, key),
		logging.Duration("elapsed", elapsed),
		logging.String(logging.FieldEventType, "resolver_answered"))
}
