package api

import "demobroker/internal/correlate"

// TimeoutMessage is the error text returned when a lookup reaches its deadline.
const TimeoutMessage = "Timeout waiting for demo URL"

// ErrorField is the lookup response member that carries error text. The
// configured key and value fields may not use it.
const ErrorField = "error"

// Header names set on lookup responses.
const (
	HeaderCache     = "X-Cache"
	HeaderRequestID = "X-Request-ID"
)

// Fields names the JSON members that carry the key and the value.
type Fields struct {
	Key   string
	Value string
}

// LookupResult is the decoded form of a lookup response.
type LookupResult struct {
	Key      string `json:"key"`
	Value    string `json:"value,omitempty"`
	TimedOut bool   `json:"timedOut"`
	Cached   bool   `json:"cached"`
	Error    string `json:"error,omitempty"`
}

// LookupBody builds the response body for an outcome.
func LookupBody(fields Fields, out correlate.Outcome) map[string]string {
	if out.Resolved() {
		return map[string]string{fields.Key: out.Key, fields.Value: out.Value}
	}
	return map[string]string{ErrorField: TimeoutMessage, fields.Key: out.Key}
}

// ParseLookupBody reverses LookupBody.
func ParseLookupBody(fields Fields, body map[string]string) LookupResult {
	res := LookupResult{Key: body[fields.Key], Value: body[fields.Value], Error: body[ErrorField]}
	res.TimedOut = res.Error == TimeoutMessage
	return res
}

// EngineStats mirrors correlate.Stats for transport.
type EngineStats struct {
	Pending     int    `json:"pending"`
	Waiters     int    `json:"waiters"`
	Cached      int    `json:"cached"`
	Lookups     uint64 `json:"lookups"`
	CacheHits   uint64 `json:"cacheHits"`
	Joined      uint64 `json:"joined"`
	Broadcasts  uint64 `json:"broadcasts"`
	Resolutions uint64 `json:"resolutions"`
	Unmatched   uint64 `json:"unmatched"`
	Timeouts    uint64 `json:"timeouts"`
}

// FromStats converts engine counters to their transport form.
func FromStats(s correlate.Stats) EngineStats {
	return EngineStats{
		Pending:     s.Pending,
		Waiters:     s.Waiters,
		Cached:      s.Cached,
		Lookups:     s.Lookups,
		CacheHits:   s.CacheHits,
		Joined:      s.Joined,
		Broadcasts:  s.Broadcasts,
		Resolutions: s.Resolutions,
		Unmatched:   s.Unmatched,
		Timeouts:    s.Timeouts,
	}
}

// StatusResponse describes a running broker.
type StatusResponse struct {
	Running       bool        `json:"running"`
	PID           int         `json:"pid"`
	Socket        string      `json:"socket"`
	LockFile      string      `json:"lockFile"`
	StartedAt     string      `json:"startedAt"`
	UptimeSeconds int64       `json:"uptimeSeconds"`
	Peers         int         `json:"peers"`
	KeyField      string      `json:"keyField"`
	ValueField    string      `json:"valueField"`
	LookupTimeout string      `json:"lookupTimeout"`
	Engine        EngineStats `json:"engine"`
}
