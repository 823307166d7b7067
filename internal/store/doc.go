// Package store implements the per-node sharded key-value abstraction:
// local puts and gets, home-node routing for remote gets, and the per-key
// wait/notify coordination that lets a consumer block on a key an
// unrelated node has not produced yet.
//
// # State
//
//	data    Key -> Value   locally homed values only
//	cache   Key -> Value   values fetched from other nodes, kept forever
//	waiters Key -> *sync.Cond   local producer/consumer rendezvous
//	pending Key -> *pendingGet  in-flight remote Get correlation
//
// All four maps share one mutex: the lock guards map structure only and is
// never held across a blocking wait (a parked sync.Cond waiter releases it).
// Condition signaling happens while it is held, and values are copied out
// before it is released.
//
// # Serving a remote Get
//
// A Get arriving for a locally homed key is answered by a detached
// goroutine that runs WaitAndGet and replies with Value — never inline on
// the inbound dispatch loop, so one unsatisfied Get can never block that
// link's other traffic.
package store
