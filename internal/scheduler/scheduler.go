package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/graph"
	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
)

// DefaultScheduler is a dependency-counting scheduler over a graph.Graph.
type DefaultScheduler struct {
	g     graph.Graph
	ready chan *node.Node
	stop  sync.Once
}

// New creates a scheduler for g.
func New(g graph.Graph) Scheduler {
	return &DefaultScheduler{g: g}
}

func (s *DefaultScheduler) Start(ctx context.Context) (<-chan *node.Node, error) {
	logger := ctxlog.FromContext(ctx)
	nodes := s.g.AllNodes(ctx)

	if err := s.checkAcyclic(ctx, nodes); err != nil {
		return nil, err
	}

	// Buffered to the node count so that releases never block a worker.
	s.ready = make(chan *node.Node, len(nodes))
	var roots []*node.Node
	for _, n := range nodes {
		deps, err := s.g.DependenciesOf(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		n.SetDepCount(int32(len(deps)))
		if len(deps) == 0 {
			roots = append(roots, n)
		}
	}
	for _, n := range roots {
		logger.Debug("Node ready.", "node", n.ID.String())
		s.ready <- n
	}
	return s.ready, nil
}

func (s *DefaultScheduler) Complete(ctx context.Context, id nodeid.Address) error {
	dependents, err := s.g.DependentsOf(ctx, id)
	if err != nil {
		return err
	}
	for _, d := range dependents {
		if d.DecrementDepCount() == 0 {
			ctxlog.FromContext(ctx).Debug("Unlocking dependent node.", "node", d.ID.String(), "after", id.String())
			s.ready <- d
		}
	}
	return nil
}

func (s *DefaultScheduler) Fail(ctx context.Context, id nodeid.Address, cause error) ([]nodeid.Address, error) {
	var skipped []nodeid.Address
	reason := fmt.Errorf("skipped: dependency %s failed: %w", id, cause)

	queue := []nodeid.Address{id}
	seen := map[nodeid.Address]bool{id: true}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		dependents, err := s.g.DependentsOf(ctx, current)
		if err != nil {
			return skipped, err
		}
		for _, d := range dependents {
			if seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			queue = append(queue, d.ID)

			// Already skipped through another failed ancestor.
			if status, _ := s.g.NodeStatus(ctx, d.ID); status != node.StatusPending {
				continue
			}
			if err := s.g.MarkSkipped(ctx, d.ID, reason); err != nil {
				continue
			}
			ctxlog.FromContext(ctx).Warn("⏭️ Skipping node.", "node", d.ID.String(), "failed_dependency", id.String())
			skipped = append(skipped, d.ID)
		}
	}
	return skipped, nil
}

func (s *DefaultScheduler) Stop() {
	s.stop.Do(func() {
		if s.ready != nil {
			close(s.ready)
		}
	})
}

// checkAcyclic runs Kahn's algorithm over the topology.
func (s *DefaultScheduler) checkAcyclic(ctx context.Context, nodes []*node.Node) error {
	indegree := make(map[nodeid.Address]int, len(nodes))
	var queue []nodeid.Address
	for _, n := range nodes {
		deps, err := s.g.DependenciesOf(ctx, n.ID)
		if err != nil {
			return err
		}
		indegree[n.ID] = len(deps)
		if len(deps) == 0 {
			queue = append(queue, n.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		visited++
		dependents, err := s.g.DependentsOf(ctx, current)
		if err != nil {
			return err
		}
		for _, d := range dependents {
			indegree[d.ID]--
			if indegree[d.ID] == 0 {
				queue = append(queue, d.ID)
			}
		}
	}

	if visited != len(nodes) {
		return fmt.Errorf("pipeline graph contains a dependency cycle")
	}
	return nil
}
