package bus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"demobroker/internal/frame"
	"demobroker/internal/logging"
	"demobroker/internal/metrics"
)

// DefaultReconnectDelay is the pause between connection attempts when none is configured.
const DefaultReconnectDelay = time.Second

// ClientOptions configures a Client.
type ClientOptions struct {
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	MaxFrameBytes int
	WriteTimeout  time.Duration
	DialTimeout   time.Duration
	// ReconnectDelay is the fixed wait after every failed or lost connection.
	// It never grows and attempts never stop while the client runs.
	ReconnectDelay time.Duration
	// QueueLimit bounds frames held while disconnected; zero means unbounded.
	QueueLimit  int
	EventBuffer int
	Clock       clock.Clock
}

// Client keeps one logical connection to a bus server alive and preserves the
// order of everything passed to Send.
type Client struct {
	path    string
	opts    ClientOptions
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock

	mu     sync.Mutex
	conn   net.Conn
	queue  [][]byte
	closed bool

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient builds a client for the socket at path. Nothing is dialed until Run.
func NewClient(path string, opts ClientOptions) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Client{
		path:    path,
		opts:    opts,
		logger:  logging.NewComponentLogger(opts.Logger, "bus-client"),
		metrics: opts.Metrics,
		clock:   opts.Clock,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
}

// Events returns the channel carrying connection state changes and inbound
// frames. The channel is never closed.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether a live connection is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Queued reports how many frames are waiting for a connection.
func (c *Client) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Run connects and reconnects until ctx ends or Close is called. Connection
// failures are reported as EventError and never end the loop.
func (c *Client) Run(ctx context.Context) error {
	for {
		if c.stopped(ctx) {
			return nil
		}

		c.metrics.ConnectAttempt()
		conn, err := c.dial(ctx)
		if err != nil {
			if c.stopped(ctx) {
				return nil
			}
			cerr := &ConnectError{Path: c.path, Err: err}
			c.logger.Debug("bus connect failed",
				logging.String(logging.FieldSocket, c.path),
				logging.Error(err),
				logging.Duration("retry_in", c.opts.ReconnectDelay),
				logging.String(logging.FieldEventType, "bus_connect_failed"))
			c.emit(ctx, Event{Kind: EventError, Err: cerr})
		} else {
			c.session(ctx, conn)
		}

		if !c.wait(ctx) {
			return nil
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.opts.DialTimeout}
	return dialer.DialContext(ctx, "unix", c.path)
}

// session attaches conn, reads until it fails, and detaches it.
func (c *Client) session(ctx context.Context, conn net.Conn) {
	flushed, err := c.attach(conn)
	if err != nil {
		_ = conn.Close()
		c.metrics.WriteFailure(metrics.SideClient)
		logging.WarnWithContext(c.logger, "queue flush failed", "bus_flush_failed",
			logging.String(logging.FieldSocket, c.path),
			logging.Error(err),
			logging.Int("queued", c.Queued()),
			logging.String(logging.FieldImpact, "queued frames are kept for the next connection"),
			logging.String(logging.FieldErrorHint, "check the broker is running and reading the socket"))
		c.emit(ctx, Event{Kind: EventError, Err: &WriteError{Err: err}})
		return
	}

	c.metrics.ClientConnected(true)
	c.logger.Info("bus connected",
		logging.String(logging.FieldSocket, c.path),
		logging.Int("flushed", flushed),
		logging.String(logging.FieldEventType, "bus_connected"))
	c.emit(ctx, Event{Kind: EventConnected})

	readErr := c.readLoop(ctx, conn)

	c.detach(conn)
	c.metrics.ClientConnected(false)
	attrs := []logging.Attr{
		logging.String(logging.FieldSocket, c.path),
		logging.String(logging.FieldEventType, "bus_disconnected"),
	}
	if readErr != nil {
		attrs = append(attrs, logging.Error(readErr))
	}
	c.logger.Info("bus disconnected", logging.Args(attrs...)...)
	c.emit(ctx, Event{Kind: EventDisconnected, Err: readErr})
}

// attach flushes the queue in order onto conn and only then makes conn the
// live connection. Send blocks on mu for the duration, so nothing overtakes
// the backlog.
func (c *Client) attach(conn net.Conn) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, data := range c.queue {
		if err := c.writeLocked(conn, data); err != nil {
			c.queue = c.queue[i:]
			c.metrics.QueueDepth(len(c.queue))
			return i, err
		}
	}
	flushed := len(c.queue)
	c.queue = nil
	c.metrics.QueueDepth(0)
	c.conn = conn
	return flushed, nil
}

func (c *Client) detach(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	dec := frame.NewDecoder(c.opts.MaxFrameBytes)
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, res := range dec.Feed(buf[:n]) {
				if res.Err != nil {
					c.metrics.DecodeError(metrics.SideClient)
					logging.WarnWithContext(c.logger, "discarding malformed frame", "bus_decode_error",
						logging.Error(res.Err),
						logging.String(logging.FieldImpact, "the frame is ignored; the connection stays open"),
						logging.String(logging.FieldErrorHint, "check the broker and client agree on the wire format"))
					c.emit(ctx, Event{Kind: EventError, Err: res.Err})
					continue
				}
				c.metrics.FrameReceived(metrics.SideClient)
				c.emit(ctx, Event{Kind: EventMessage, Message: res.Message})
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// wait sleeps for the reconnect delay. It returns false when the client should stop.
func (c *Client) wait(ctx context.Context) bool {
	timer := c.clock.Timer(c.opts.ReconnectDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-timer.C:
		return true
	}
}

// Send writes msg now when connected and queues it otherwise. A live write
// that fails puts the frame back in the queue and drops the connection so Run
// reconnects; the frame goes out after the reconnect.
func (c *Client) Send(msg frame.Message) error {
	data, err := frame.Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if c.conn != nil {
		err := c.writeLocked(c.conn, data)
		if err == nil {
			return nil
		}
		c.metrics.WriteFailure(metrics.SideClient)
		logging.WarnWithContext(c.logger, "bus write failed; requeueing", "bus_write_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the frame is delayed until the client reconnects"),
			logging.String(logging.FieldErrorHint, "check the broker is running"))
		_ = c.conn.Close()
		c.conn = nil
	}

	if c.opts.QueueLimit > 0 && len(c.queue) >= c.opts.QueueLimit {
		return ErrQueueFull
	}
	c.queue = append(c.queue, data)
	c.metrics.QueueDepth(len(c.queue))
	return nil
}

func (c *Client) writeLocked(conn net.Conn, data []byte) error {
	if c.opts.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	}
	_, err := conn.Write(data)
	return err
}

// Close stops Run, closes the live connection, and rejects further sends.
// Frames still queued are discarded.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		if conn != nil {
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = cerr
			}
		}
	})
	return err
}

func (c *Client) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) emit(ctx context.Context, evt Event) {
	select {
	case c.events <- evt:
	case <-ctx.Done():
	case <-c.done:
	}
}
