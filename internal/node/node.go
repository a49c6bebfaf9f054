package node

import (
	"sync/atomic"

	"github.com/specialistvlad/stagegate/internal/nodeid"
)

// Node is a single vertex in the pipeline graph: one materialization, install,
// gate or stage finalization.
type Node struct {
	// ID is the unique, structured identifier for the node.
	ID nodeid.Address
	// Branch names the stage branch the node was planned for ("" for shared nodes).
	Branch string
	// Config is the pipeline-definition block that configures this node.
	// Handlers type-assert it to the block type they expect.
	Config any

	// depCount is the number of unmet dependencies, used by the scheduler.
	depCount atomic.Int32
}

// New creates a node for the given address and configuration block.
func New(id nodeid.Address, branch string, cfg any) *Node {
	return &Node{ID: id, Branch: branch, Config: cfg}
}

// Kind is a shorthand for the address kind.
func (n *Node) Kind() nodeid.Kind {
	return n.ID.Kind
}

// SetDepCount sets the number of unmet dependencies.
func (n *Node) SetDepCount(count int32) {
	n.depCount.Store(count)
}

// DepCount atomically returns the current number of unmet dependencies.
func (n *Node) DepCount() int32 {
	return n.depCount.Load()
}

// DecrementDepCount atomically decrements the dependency counter and returns the new value.
func (n *Node) DecrementDepCount() int32 {
	return n.depCount.Add(-1)
}

// Status represents the execution state of a node.
type Status int32

const (
	// StatusPending means the node waits for its dependencies.
	StatusPending Status = iota
	// StatusRunning means a worker is executing the node.
	StatusRunning
	// StatusCompleted means the node finished successfully.
	StatusCompleted
	// StatusFailed means the node's handler returned an error.
	StatusFailed
	// StatusSkipped means the node never ran because a dependency failed.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}
