// Package mesh implements the full-mesh peer overlay: per-node membership
// and routing, the listener-before-dial bootstrap sequence that races no
// one, per-link inbound dispatch, and unicast send.
//
// # Bootstrap ordering
//
// Performed in exactly this order to guarantee a full mesh of size N
// without deadlock:
//
//  1. Bind the listener on my_addr.
//  2. Introduce to the Coordinator and receive this node's assigned id plus
//     the directory of already-registered peers.
//  3. Dial every peer in that directory, sending a short hello so the
//     accepting side can file the link under the right id.
//  4. Concurrently accept inbound dials from higher-id peers. Bootstrap
//     blocks until the directory holds N-1 entries, but the accept loop
//     itself keeps running for the lifetime of the node, so a later
//     connection attempt (a slow-starting peer, or a misbehaving client)
//     is still answered rather than left to hang against a closed
//     accept queue.
//
// Every node both dials its predecessors and accepts from its successors,
// so the N(N-1)/2 links form without a race, provided step 1 precedes step
// 2 on every node.
package mesh
