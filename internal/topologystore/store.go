// Package topologystore defines the storage contract for the static structure
// of a pipeline graph: which nodes exist and which nodes each one waits for.
package topologystore

import (
	"context"

	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
)

// Store holds the pipeline DAG. Implementations must be safe for concurrent use.
type Store interface {
	// AddNode registers a node. Adding the same address twice is a no-op.
	AddNode(ctx context.Context, n *node.Node) error

	// AddDependency records that `to` must wait for `from`.
	AddDependency(ctx context.Context, from, to nodeid.Address) error

	// GetNode looks a node up by address.
	GetNode(ctx context.Context, id nodeid.Address) (*node.Node, bool)

	// AllNodes returns every node, sorted by address for deterministic iteration.
	AllNodes(ctx context.Context) []*node.Node

	// DependenciesOf returns the addresses `id` waits for.
	DependenciesOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error)

	// DependentsOf returns the addresses waiting for `id`.
	DependentsOf(ctx context.Context, id nodeid.Address) ([]nodeid.Address, error)
}
