// Package bus is the local message bus between the broker and the resolver.
//
// The Server side binds a Unix socket, tracks every connected peer, fans a
// broadcast out to all of them, and funnels decoded inbound frames into a
// single event channel. The Client side keeps one logical connection to that
// socket alive: it reconnects after a fixed delay for as long as it runs,
// queues sends made while disconnected, and flushes the queue in order before
// it reports itself connected again.
//
// Per-peer failures never take the server down. Only a failure to bind the
// socket is returned as fatal (BindError); connect, write, and decode
// problems surface as events or typed errors the caller may log and ignore.
package bus
