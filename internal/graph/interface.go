// Package graph provides a unified interface over the pipeline graph.
//
// The Graph facade combines topology (which nodes exist, who waits for whom)
// and node state (status, output, error) so that the planner, scheduler and
// executor talk to one API instead of coordinating two stores.
package graph

import (
	"context"

	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
)

// Graph is the complete, stateful execution context of one pipeline run.
// Implementations MUST be thread-safe.
type Graph interface {
	// AddNode registers a node in the topology. Used by the stage planner.
	AddNode(ctx context.Context, n *node.Node) error

	// AddDependency records that `to` waits for `from`.
	AddDependency(ctx context.Context, from, to nodeid.Address) error

	// Node retrieves a node by address.
	Node(ctx context.Context, id nodeid.Address) (*node.Node, bool)

	// AllNodes returns every node, sorted by address.
	AllNodes(ctx context.Context) []*node.Node

	// DependenciesOf returns the full nodes `id` waits for.
	DependenciesOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error)

	// DependentsOf returns the full nodes waiting for `id`.
	DependentsOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error)

	// NodeStatus retrieves the current status of a node.
	NodeStatus(ctx context.Context, id nodeid.Address) (node.Status, bool)

	// Output returns the recorded output of a completed node.
	Output(ctx context.Context, id nodeid.Address) (any, error)

	// Err returns the recorded error of a failed or skipped node.
	Err(ctx context.Context, id nodeid.Address) error

	// MarkRunning transitions Pending → Running.
	MarkRunning(ctx context.Context, id nodeid.Address) error

	// MarkCompleted transitions Running → Completed and stores the output.
	MarkCompleted(ctx context.Context, id nodeid.Address, output any) error

	// MarkFailed transitions Running → Failed and stores the error.
	MarkFailed(ctx context.Context, id nodeid.Address, nodeErr error) error

	// MarkSkipped transitions Pending → Skipped, recording why.
	MarkSkipped(ctx context.Context, id nodeid.Address, reason error) error
}
