// Package coordinator implements the single-listener rendezvous service:
// it accepts peer introductions, assigns dense NodeIDs per NetworkName,
// distributes the directory of already-registered peers, and later
// broadcasts the cluster-wide Kill signal.
//
// # Registration sequence
//
//	client --Introduction{addr,name}--> Coordinator
//	client <--Directory{peers}--------- Coordinator
//
// The Coordinator holds the write half of every registered link for the
// life of the cluster; it never reads another frame from a client after
// registration. Its only further outbound traffic is the Kill broadcast.
//
// # Ordering
//
// A node joining at position k observes exactly the k-1 peers that
// completed registration before it. A late dialer that reaches a node
// before that node has finished its own registration simply blocks at the
// dial step, because that node's listener is not yet bound: every node
// binds before it introduces itself to the Coordinator.
package coordinator
