// Package nodestore defines the storage contract for the mutable execution
// state of pipeline nodes (status, output, error).
package nodestore

import (
	"context"

	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
)

// Store records per-node execution state. Implementations must be safe for
// concurrent use by executor workers.
type Store interface {
	SetStatus(ctx context.Context, id nodeid.Address, status node.Status) error

	// GetStatus returns StatusPending for nodes that never had a status set.
	GetStatus(ctx context.Context, id nodeid.Address) (node.Status, error)

	SetOutput(ctx context.Context, id nodeid.Address, output any) error

	GetOutput(ctx context.Context, id nodeid.Address) (any, error)

	SetError(ctx context.Context, id nodeid.Address, nodeErr error) error

	GetError(ctx context.Context, id nodeid.Address) (error, error)
}
