package graph

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
	"github.com/specialistvlad/stagegate/internal/nodestore"
	"github.com/specialistvlad/stagegate/internal/topologystore"
)

// Manager composes a topology store and a node store into a Graph.
type Manager struct {
	topology topologystore.Store
	state    nodestore.Store

	// transitions serializes status changes so that check-then-set is atomic.
	transitions sync.Mutex
}

// New creates a new graph manager.
func New(ts topologystore.Store, ns nodestore.Store) Graph {
	return &Manager{topology: ts, state: ns}
}

func (m *Manager) AddNode(ctx context.Context, n *node.Node) error {
	return m.topology.AddNode(ctx, n)
}

func (m *Manager) AddDependency(ctx context.Context, from, to nodeid.Address) error {
	return m.topology.AddDependency(ctx, from, to)
}

func (m *Manager) Node(ctx context.Context, id nodeid.Address) (*node.Node, bool) {
	return m.topology.GetNode(ctx, id)
}

func (m *Manager) AllNodes(ctx context.Context) []*node.Node {
	return m.topology.AllNodes(ctx)
}

func (m *Manager) DependenciesOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error) {
	ids, err := m.topology.DependenciesOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, ids)
}

func (m *Manager) DependentsOf(ctx context.Context, id nodeid.Address) ([]*node.Node, error) {
	ids, err := m.topology.DependentsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.resolve(ctx, ids)
}

func (m *Manager) resolve(ctx context.Context, ids []nodeid.Address) ([]*node.Node, error) {
	nodes := make([]*node.Node, 0, len(ids))
	for _, id := range ids {
		n, ok := m.topology.GetNode(ctx, id)
		if !ok {
			return nil, fmt.Errorf("internal inconsistency: node '%s' referenced but not stored", id)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func (m *Manager) NodeStatus(ctx context.Context, id nodeid.Address) (node.Status, bool) {
	if _, ok := m.topology.GetNode(ctx, id); !ok {
		return node.StatusPending, false
	}
	status, err := m.state.GetStatus(ctx, id)
	if err != nil {
		return node.StatusPending, false
	}
	return status, true
}

func (m *Manager) Output(ctx context.Context, id nodeid.Address) (any, error) {
	return m.state.GetOutput(ctx, id)
}

func (m *Manager) Err(ctx context.Context, id nodeid.Address) error {
	nodeErr, err := m.state.GetError(ctx, id)
	if err != nil {
		return err
	}
	return nodeErr
}

func (m *Manager) MarkRunning(ctx context.Context, id nodeid.Address) error {
	return m.transition(ctx, id, node.StatusRunning, node.StatusPending)
}

func (m *Manager) MarkCompleted(ctx context.Context, id nodeid.Address, output any) error {
	if err := m.transition(ctx, id, node.StatusCompleted, node.StatusRunning); err != nil {
		return err
	}
	return m.state.SetOutput(ctx, id, output)
}

func (m *Manager) MarkFailed(ctx context.Context, id nodeid.Address, nodeErr error) error {
	if err := m.transition(ctx, id, node.StatusFailed, node.StatusRunning); err != nil {
		return err
	}
	return m.state.SetError(ctx, id, nodeErr)
}

func (m *Manager) MarkSkipped(ctx context.Context, id nodeid.Address, reason error) error {
	if err := m.transition(ctx, id, node.StatusSkipped, node.StatusPending); err != nil {
		return err
	}
	if reason != nil {
		return m.state.SetError(ctx, id, reason)
	}
	return nil
}

// transition moves a node to `to` if its current status is `from`.
func (m *Manager) transition(ctx context.Context, id nodeid.Address, to, from node.Status) error {
	m.transitions.Lock()
	defer m.transitions.Unlock()

	if _, ok := m.topology.GetNode(ctx, id); !ok {
		return fmt.Errorf("node '%s' not found in graph", id)
	}
	current, err := m.state.GetStatus(ctx, id)
	if err != nil {
		return err
	}
	if current != from {
		return fmt.Errorf("node '%s': invalid transition %s -> %s", id, current, to)
	}
	ctxlog.FromContext(ctx).Debug("Node status changed.", "node", id.String(), "from", current.String(), "to", to.String())
	return m.state.SetStatus(ctx, id, to)
}
