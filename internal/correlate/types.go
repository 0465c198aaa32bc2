package correlate

import (
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"demobroker/internal/frame"
	"demobroker/internal/metrics"
)

var (
	// ErrEmptyKey is returned by Lookup for a blank key.
	ErrEmptyKey = errors.New("lookup key is empty")
	// ErrInvalidKey is returned by Lookup for a key that starts with '-' or
	// holds control characters or invalid UTF-8.
	ErrInvalidKey = errors.New("lookup key is not allowed")
	// ErrKeyTooLong is returned by Lookup when the broadcast frame for a key
	// would exceed the bus frame limit.
	ErrKeyTooLong = errors.New("lookup key exceeds the bus frame limit")
	// ErrStopped is returned once the engine loop has exited.
	ErrStopped = errors.New("correlation engine stopped")
)

// Status distinguishes the two equally valid lookup results.
type Status int

const (
	StatusResolved Status = iota + 1
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Outcome is the result of one Lookup.
type Outcome struct {
	Key    string
	Value  string
	Status Status
	// Cached is true when the value came from the cache without a broadcast.
	Cached bool
}

// Resolved reports whether the outcome carries a value.
func (o Outcome) Resolved() bool {
	return o.Status == StatusResolved
}

// Broadcaster delivers a lookup request to every connected resolver.
// *bus.Server satisfies it.
type Broadcaster interface {
	Broadcast(msg frame.Message) (int, error)
}

// Options configures an Engine.
type Options struct {
	// KeyField names the message field carrying the lookup key.
	KeyField string
	// ValueField names the message field carrying the resolved value.
	ValueField string
	// Timeout is the deadline applied to every pending request.
	Timeout time.Duration
	// MaxFrameBytes rejects keys whose broadcast frame is larger; zero means
	// no limit.
	MaxFrameBytes int
	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Pending int `json:"pending"`
	Waiters int `json:"waiters"`
	Cached  int `json:"cached"`

	Lookups     uint64 `json:"lookups"`
	CacheHits   uint64 `json:"cache_hits"`
	Joined      uint64 `json:"joined"`
	Broadcasts  uint64 `json:"broadcasts"`
	Resolutions uint64 `json:"resolutions"`
	Unmatched   uint64 `json:"unmatched"`
	Timeouts    uint64 `json:"timeouts"`
}
