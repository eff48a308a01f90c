// Package nats provides a from-scratch Go implementation of the NATS client
// protocol, including the JetStream persistence extension, without wrapping
// an existing client library.
//
// The primary lifecycle is:
//   - construct Options with NewOptions
//   - construct a Client with NewClient
//   - Connect to establish the transport and run the INFO/CONNECT handshake
//   - Publish, Subscribe, Request, and drive delivery with Process
//   - Close when finished
//
// The client is single-threaded and cooperative: it starts no goroutines and
// no timers. All I/O happens synchronously inside the call the caller makes,
// and the only operations that wait are Process, Flush, HealthCheck, and
// Request, each bounded by an explicit timeout. Run independent Client
// instances for concurrency across connections; a single Client must not be
// used from multiple goroutines without external locking.
//
// JetStream stream and consumer administration, pull delivery, and the
// explicit acknowledgment protocol are exposed through Client.JetStream.
//
// Errors are reported as typed errors created with NewError and may carry
// connection, protocol, publish, subscription, timeout, serialization, or
// server-reported causes.
package nats
