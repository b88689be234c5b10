// Package pending tracks outstanding requests by sequence number so a
// response read off the wire can be routed back to whatever is waiting
// for it: a caller blocked on a one-shot response channel, or a
// follow-up action the session wants to run once the response arrives.
package pending

import (
	"fmt"
	"sync"

	"dapcore/pkg/dapmsg"
)

// Result is what a one-shot waiter receives: either the adapter's
// response or an error (transport failure, cancellation, shutdown).
type Result struct {
	Response *dapmsg.Response
	Err      error
}

// FollowUp is a description of work to run once a particular request's
// response arrives, rather than a channel a caller is blocked on.
// pkg/session does not act on FollowUp descriptors: a response whose
// item carries only a Follow value is taken from the registry and
// discarded, and the stopped-event chain is driven by pkg/debugger.
type FollowUp interface {
	followUp()
}

// Item is either a one-shot waiter or a follow-up descriptor for a
// pending request, never both. Waiter, when set, must be buffered with
// capacity at least 1: the registry delivers to it without a matching
// receiver ready (the caller may have already given up and be reading
// from a context.Done() select instead).
type Item struct {
	Command string
	Waiter  chan<- Result
	Follow  FollowUp
}

// Registry maps outstanding request sequence numbers to their pending
// item. It is safe for concurrent use: the session's read loop takes
// items as responses arrive, while callers' goroutines insert items
// when they send and take them back on write failure or cancellation.
type Registry struct {
	mu    sync.Mutex
	items map[dapmsg.Seq]Item
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{items: make(map[dapmsg.Seq]Item)}
}

// Insert records item under seq. It panics if seq is already pending:
// DAP sequence numbers are minted monotonically by the session and a
// collision means the caller is reusing one, which is a programming
// error rather than something to recover from at runtime.
func (r *Registry) Insert(seq dapmsg.Seq, item Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[seq]; exists {
		panic(fmt.Sprintf("dapcore/pending: seq %d already registered", seq))
	}
	r.items[seq] = item
}

// Take removes and returns the item registered for seq, if any. A
// response whose RequestSeq has no matching entry (already delivered,
// or never sent by us) is reported via the second return value being
// false; the caller logs and drops it rather than treating it as fatal.
func (r *Registry) Take(seq dapmsg.Seq) (Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[seq]
	if ok {
		delete(r.items, seq)
	}
	return item, ok
}

// Len reports the number of currently outstanding requests.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// DrainWithError removes every pending item and, for each one-shot
// waiter, delivers err so the blocked caller unblocks instead of
// hanging forever. Follow-up descriptors have no caller to unblock and
// are simply discarded. Called once when the session is shutting down
// or the transport has failed.
func (r *Registry) DrainWithError(err error) {
	r.mu.Lock()
	items := r.items
	r.items = make(map[dapmsg.Seq]Item)
	r.mu.Unlock()

	for _, item := range items {
		if item.Waiter != nil {
			item.Waiter <- Result{Err: err}
		}
	}
}
