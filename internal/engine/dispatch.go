package engine

import (
	"strconv"
	"sync/atomic"

	"github.com/serialx/hashring"
)

// Dispatch strategy names.
const (
	DispatchFlowHash   = "flow-hash"
	DispatchRoundRobin = "round-robin"
)

// Dispatcher picks the worker that processes a packet.
type Dispatcher interface {
	// Dispatch returns the worker index (0-based) for a packet whose
	// source-host key is key.
	Dispatch(key uint32) int

	// Name returns the strategy name for logging/metrics.
	Name() string
}

// FlowHashDispatcher places workers on a consistent hash ring and routes by
// source-host key, so all vectors of one sender come from a single worker
// and reach the reporters in capture order. The two ends of a conversation
// may still land on different workers; the engine keeps their shared pair
// streams ordered.
type FlowHashDispatcher struct {
	ring  *hashring.HashRing
	index map[string]int
}

// NewFlowHashDispatcher builds a ring of n workers.
func NewFlowHashDispatcher(n int) *FlowHashDispatcher {
	nodes := make([]string, n)
	index := make(map[string]int, n)
	for i := range nodes {
		nodes[i] = workerName(i)
		index[nodes[i]] = i
	}
	return &FlowHashDispatcher{
		ring:  hashring.New(nodes),
		index: index,
	}
}

func (d *FlowHashDispatcher) Dispatch(key uint32) int {
	var buf [8]byte
	node, ok := d.ring.GetNode(string(strconv.AppendUint(buf[:0], uint64(key), 16)))
	if !ok {
		return 0
	}
	return d.index[node]
}

func (d *FlowHashDispatcher) Name() string { return DispatchFlowHash }

// RoundRobinDispatcher spreads packets evenly with no flow affinity. The
// statistics are still updated in capture order, but one sender's vectors
// may reach the reporters interleaved across workers.
type RoundRobinDispatcher struct {
	n       uint64
	counter atomic.Uint64
}

// NewRoundRobinDispatcher cycles over n workers.
func NewRoundRobinDispatcher(n int) *RoundRobinDispatcher {
	return &RoundRobinDispatcher{n: uint64(n)}
}

func (d *RoundRobinDispatcher) Dispatch(uint32) int {
	return int((d.counter.Add(1) - 1) % d.n)
}

func (d *RoundRobinDispatcher) Name() string { return DispatchRoundRobin }

// NewDispatcher creates a dispatcher by name for n workers.
// Supported strategies: "flow-hash" (default), "round-robin".
func NewDispatcher(name string, n int) Dispatcher {
	if n < 1 {
		n = 1
	}
	switch name {
	case DispatchRoundRobin:
		return NewRoundRobinDispatcher(n)
	default:
		return NewFlowHashDispatcher(n)
	}
}

func workerName(i int) string {
	return "worker-" + strconv.Itoa(i)
}
