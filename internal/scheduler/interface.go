// Package scheduler decides which pipeline nodes are ready to run.
//
// A node becomes ready once every node it depends on has completed. When a
// node fails, the scheduler marks all of its descendants as skipped so the
// failure aborts only the branch it belongs to.
package scheduler

import (
	"context"

	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
)

// Scheduler feeds ready nodes to the executor.
type Scheduler interface {
	// Start validates the graph, seeds dependency counters and returns the
	// channel on which ready nodes are delivered.
	Start(ctx context.Context) (<-chan *node.Node, error)

	// Complete releases the dependents of a completed node.
	Complete(ctx context.Context, id nodeid.Address) error

	// Fail skips every pending descendant of a failed node and returns the
	// addresses it skipped.
	Fail(ctx context.Context, id nodeid.Address, cause error) ([]nodeid.Address, error)

	// Stop closes the ready channel. Call once all nodes are terminal.
	Stop()
}
