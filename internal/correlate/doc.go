// Package correlate turns fire-and-forget bus broadcasts into awaitable lookups.
//
// An Engine owns the pending-request table and the resolved cache. Both live on
// the goroutine started by Run; lookups, inbound resolutions, and deadline
// expiries reach it through channels and are handled one at a time, so every
// state transition for a key is observed in a single total order.
//
// A lookup for a cached key returns immediately without touching the bus. A
// miss broadcasts the key once and waits for a resolution or the deadline,
// whichever comes first. Further lookups for a key that is already pending join
// the existing request and share its deadline. A timeout is an Outcome, not an
// error.
package correlate
