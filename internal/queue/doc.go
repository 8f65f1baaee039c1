// Package queue provides an unbounded FIFO that grows on demand and a
// Dispatcher that drains it on a single goroutine.
//
// The client uses the Dispatcher to run user listeners off the transport read
// loop while preserving delivery order; the archive writer uses Queue as its
// input buffer.
package queue
