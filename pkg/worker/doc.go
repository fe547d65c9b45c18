// Package worker provides the queue consumer used to process events
// that the router delivered to a queue target.
//
// A worker is bound to one named queue. It pulls tasks, looks up a
// handler by event type, and invokes it. Handler failures are retried
// with the worker's own bounded policy; queue delivery is at-least-once
// per target, so handlers must tolerate replays.
//
// Workers are long-lived components that typically run in dedicated
// goroutines. Multiple workers can safely consume the same queue to
// scale processing.
//
// Most applications construct workers through the helper functions in
// the sagaflow package, which wire routers, queues, and engines
// together with sensible defaults.
package worker
