package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"demobroker/internal/frame"
	"demobroker/internal/logging"
	"demobroker/internal/metrics"
)

const (
	readBufferSize     = 32 * 1024
	defaultEventBuffer = 256
	defaultPeerQueue   = 64
	acceptRetryDelay   = 50 * time.Millisecond
)

// ServerOptions configures a Server.
type ServerOptions struct {
	Logger        *slog.Logger
	Metrics       *metrics.Metrics
	MaxFrameBytes int
	// WriteTimeout bounds each per-peer socket write; zero disables the deadline.
	WriteTimeout time.Duration
	EventBuffer  int
	// PeerQueue is how many encoded frames may wait for one peer's writer.
	// A peer whose queue is full when a broadcast arrives is dropped.
	PeerQueue int
}

// Server is a fan-out message bus bound to a Unix socket.
type Server struct {
	path     string
	listener net.Listener
	opts     ServerOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu    sync.Mutex
	peers map[string]*peer

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type peer struct {
	id   string
	conn net.Conn
	cred peerCred
	out  chan []byte
	gone chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	cause     error
}

func newPeer(id string, conn net.Conn, queue int) *peer {
	if queue <= 0 {
		queue = defaultPeerQueue
	}
	return &peer{
		id:   id,
		conn: conn,
		out:  make(chan []byte, queue),
		gone: make(chan struct{}),
	}
}

// fail records the first error that ended the peer.
func (p *peer) fail(err error) {
	p.mu.Lock()
	if p.cause == nil {
		p.cause = err
	}
	p.mu.Unlock()
}

func (p *peer) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

// shutdown stops the writer and closes the connection, which ends the reader.
func (p *peer) shutdown() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.gone)
		err = p.conn.Close()
	})
	return err
}

// Listen removes a stale socket left by a previous instance and binds path.
// Any failure is returned as a *BindError.
func Listen(path string, opts ServerOptions) (*Server, error) {
	logger := logging.NewComponentLogger(opts.Logger, "bus-server")
	if err := removeStaleSocket(path); err != nil {
		return nil, &BindError{Path: path, Err: err}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, &BindError{Path: path, Err: err}
	}

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	return &Server{
		path:     path,
		listener: listener,
		opts:     opts,
		logger:   logger,
		metrics:  opts.Metrics,
		peers:    make(map[string]*peer),
		events:   make(chan Event, buffer),
		done:     make(chan struct{}),
	}, nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat existing socket: %w", err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("refusing to remove %s: not a socket", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove existing socket: %w", err)
	}
	return nil
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Events returns the channel carrying peer lifecycle and inbound frame events.
// The channel is never closed; stop reading once Done is closed.
func (s *Server) Events() <-chan Event {
	return s.events
}

// Done is closed when the server shuts down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Peers reports how many peers are in the open set.
func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Serve accepts peers until ctx is canceled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("bus server listening",
		logging.String(logging.FieldSocket, s.path),
		logging.String(logging.FieldEventType, "bus_listening"))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logging.WarnWithContext(s.logger, "accept failed", "bus_accept_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "resolvers may fail to connect"),
				logging.String(logging.FieldErrorHint, "check socket permissions and restart the broker if needed"))
			select {
			case <-s.done:
				return nil
			case <-time.After(acceptRetryDelay):
			}
			continue
		}
		s.admit(conn)
	}
}

func (s *Server) admit(conn net.Conn) {
	p := newPeer(uuid.NewString(), conn, s.opts.PeerQueue)
	p.cred, _ = peerCredentials(conn)

	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = conn.Close()
		return
	default:
	}
	s.peers[p.id] = p
	count := len(s.peers)
	s.wg.Add(2)
	s.mu.Unlock()

	s.metrics.PeerJoined()
	attrs := []logging.Attr{
		logging.String(logging.FieldPeerID, p.id),
		logging.Int("peers", count),
		logging.String(logging.FieldEventType, "bus_peer_joined"),
	}
	if p.cred.known() {
		attrs = append(attrs, logging.Int("pid", p.cred.PID), logging.Int("uid", p.cred.UID))
	}
	s.logger.Info("peer connected", logging.Args(attrs...)...)
	s.emit(Event{Kind: EventPeerJoined, PeerID: p.id})

	go s.read(p)
	go s.writeLoop(p)
}

func (s *Server) read(p *peer) {
	defer s.wg.Done()

	dec := frame.NewDecoder(s.opts.MaxFrameBytes)
	buf := make([]byte, readBufferSize)
	var readErr error
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			for _, res := range dec.Feed(buf[:n]) {
				if res.Err != nil {
					s.metrics.DecodeError(metrics.SideServer)
					logging.WarnWithContext(s.logger, "discarding malformed frame", "bus_decode_error",
						logging.String(logging.FieldPeerID, p.id),
						logging.Error(res.Err),
						logging.String(logging.FieldImpact, "the frame is ignored; the connection stays open"),
						logging.String(logging.FieldErrorHint, "check the resolver is sending newline-delimited JSON objects"))
					s.emit(Event{Kind: EventDecodeError, PeerID: p.id, Err: res.Err})
					continue
				}
				s.metrics.FrameReceived(metrics.SideServer)
				s.emit(Event{Kind: EventMessage, PeerID: p.id, Message: res.Message})
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				readErr = err
			}
			break
		}
	}

	s.remove(p)
	_ = p.shutdown()

	cause := p.failure()
	if cause == nil {
		cause = readErr
	}
	attrs := []logging.Attr{
		logging.String(logging.FieldPeerID, p.id),
		logging.Int("peers", s.Peers()),
		logging.String(logging.FieldEventType, "bus_peer_left"),
	}
	if cause != nil {
		attrs = append(attrs, logging.Error(cause))
	}
	s.logger.Info("peer disconnected", logging.Args(attrs...)...)
	s.emit(Event{Kind: EventPeerLeft, PeerID: p.id, Err: cause})
}

// remove drops p from the open set; it reports whether p was still present.
func (s *Server) remove(p *peer) bool {
	s.mu.Lock()
	_, ok := s.peers[p.id]
	if ok {
		delete(s.peers, p.id)
	}
	s.mu.Unlock()
	if ok {
		s.metrics.PeerLeft()
	}
	return ok
}

func (s *Server) snapshot() []*peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Broadcast encodes msg once and queues it for every peer in the open set.
// It never waits on a peer: each peer has its own writer, and a peer whose
// queue is already full is closed and removed while the others still get the
// frame. It returns the number of peers that accepted the frame and the
// combined *WriteError values, or ErrNoPeers when nobody is connected.
func (s *Server) Broadcast(msg frame.Message) (int, error) {
	select {
	case <-s.done:
		return 0, ErrClosed
	default:
	}
	data, err := frame.Encode(msg)
	if err != nil {
		return 0, err
	}

	peers := s.snapshot()
	if len(peers) == 0 {
		return 0, ErrNoPeers
	}

	delivered := 0
	var failures error
	for _, p := range peers {
		select {
		case <-p.gone:
			failures = multierr.Append(failures, &WriteError{PeerID: p.id, Err: net.ErrClosed})
			continue
		default:
		}
		select {
		case p.out <- data:
			delivered++
		default:
			werr := &WriteError{PeerID: p.id, Err: ErrPeerBacklog}
			failures = multierr.Append(failures, werr)
			s.drop(p, werr)
		}
	}
	s.metrics.Broadcast()
	return delivered, failures
}

// writeLoop drains p's queue onto its socket until the peer goes away.
func (s *Server) writeLoop(p *peer) {
	defer s.wg.Done()
	for {
		select {
		case <-p.gone:
			return
		case data := <-p.out:
			if s.opts.WriteTimeout > 0 {
				_ = p.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			}
			if _, err := p.conn.Write(data); err != nil {
				select {
				case <-p.gone:
				default:
					s.drop(p, &WriteError{PeerID: p.id, Err: err})
				}
				return
			}
		}
	}
}

// drop closes and removes a peer after a failed or refused write. The reader
// reports the departure.
func (s *Server) drop(p *peer, werr *WriteError) {
	p.fail(werr)
	s.remove(p)
	_ = p.shutdown()
	s.metrics.WriteFailure(metrics.SideServer)
	logging.WarnWithContext(s.logger, "dropping peer after failed write", "bus_write_failed",
		logging.String(logging.FieldPeerID, p.id),
		logging.Error(werr.Err),
		logging.String(logging.FieldImpact, "the peer misses queued broadcasts and must reconnect"),
		logging.String(logging.FieldErrorHint, "the resolver reconnects on its own; check it is reading the socket"))
}

// Close stops accepting, disconnects every peer, waits for their readers and
// writers to finish, and removes the socket file.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		peers := make([]*peer, 0, len(s.peers))
		for _, p := range s.peers {
			peers = append(peers, p)
		}
		s.mu.Unlock()

		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, fmt.Errorf("close listener: %w", cerr))
		}
		for _, p := range peers {
			if cerr := p.shutdown(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, fmt.Errorf("close peer %s: %w", p.id, cerr))
			}
		}
		s.wg.Wait()

		if rerr := os.Remove(s.path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
			logging.WarnWithContext(s.logger, "failed to remove socket", "bus_socket_cleanup_failed",
				logging.String(logging.FieldSocket, s.path),
				logging.Error(rerr),
				logging.String(logging.FieldImpact, "the next broker start removes it"),
				logging.String(logging.FieldErrorHint, "remove the socket file manually if it lingers"))
		}
	})
	return err
}

// emit delivers evt unless the server has shut down.
func (s *Server) emit(evt Event) {
	select {
	case s.events <- evt:
	case <-s.done:
	}
}
