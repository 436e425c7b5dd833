// Package replication holds the master-side registry of replica mailboxes
// and the write-command fan-out described in spec.md §4.6/§5. A replica
// mailbox is a buffered, multi-producer/single-consumer channel — no extra
// locking is needed around a send/receive pair, only around the registry
// map itself.
package replication

import (
	"sync"

	"github.com/faizanhussain2310/resp-kv/internal/message"
)

// Mailbox is a per-replica FIFO of write commands awaiting propagation.
type Mailbox chan message.Message

const mailboxCapacity = 1024

// Registry is the master's weak set of connected replica mailboxes:
// mailboxes outlive their connection only until the sender side is
// dropped, and a stale entry (its consumer gone, its buffer full) is
// pruned the next time a send to it would block.
type Registry struct {
	mu    sync.Mutex
	boxes map[int64]Mailbox
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{boxes: make(map[int64]Mailbox)}
}

// Register creates and stores a mailbox for connID, replacing any
// previous one for the same ID.
func (r *Registry) Register(connID int64) Mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	box := make(Mailbox, mailboxCapacity)
	r.boxes[connID] = box
	return box
}

// Unregister drops connID's mailbox, e.g. when its connection loop exits.
func (r *Registry) Unregister(connID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.boxes, connID)
}

// Broadcast enqueues msg into every registered mailbox, in the order
// Broadcast is called, which is how per-replica ordering is kept equal to
// acceptance order from the originating client connection. A mailbox that
// is full (its consumer stalled or dead) is pruned rather than blocking
// the rest of the fan-out.
func (r *Registry) Broadcast(msg message.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, box := range r.boxes {
		select {
		case box <- msg:
		default:
			close(box)
			delete(r.boxes, id)
		}
	}
}

// Count reports how many replicas currently have a registered mailbox,
// used as the immediate answer to WAIT (spec.md §5's resolved simplification:
// no REPLCONF GETACK round trip in this revision).
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.boxes)
}
