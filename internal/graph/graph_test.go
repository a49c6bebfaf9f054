package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/specialistvlad/stagegate/internal/inmemorystore"
	"github.com/specialistvlad/stagegate/internal/inmemorytopology"
	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestGraph creates a graph manager with in-memory stores for testing.
func createTestGraph() Graph {
	return New(inmemorytopology.New(), inmemorystore.New())
}

func addNode(t *testing.T, g Graph, id string) *node.Node {
	t.Helper()
	n := node.New(nodeid.MustParse(id), "", nil)
	require.NoError(t, g.AddNode(context.Background(), n))
	return n
}

func TestGraph_DependenciesResolveToNodes(t *testing.T) {
	ctx := context.Background()
	g := createTestGraph()
	layer := addNode(t, g, "layer.base")
	install := addNode(t, g, "install.base")
	require.NoError(t, g.AddDependency(ctx, layer.ID, install.ID))

	deps, err := g.DependenciesOf(ctx, install.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Same(t, layer, deps[0])

	dependents, err := g.DependentsOf(ctx, layer.ID)
	require.NoError(t, err)
	require.Len(t, dependents, 1)
	assert.Same(t, install, dependents[0])
}

func TestGraph_StatusLifecycle(t *testing.T) {
	ctx := context.Background()
	g := createTestGraph()
	gate := addNode(t, g, "gate.test")

	status, ok := g.NodeStatus(ctx, gate.ID)
	require.True(t, ok)
	assert.Equal(t, node.StatusPending, status)

	require.NoError(t, g.MarkRunning(ctx, gate.ID))
	// Running twice is a scheduler bug and must be rejected.
	assert.Error(t, g.MarkRunning(ctx, gate.ID))

	require.NoError(t, g.MarkFailed(ctx, gate.ID, errors.New("Tests failed!")))
	status, _ = g.NodeStatus(ctx, gate.ID)
	assert.Equal(t, node.StatusFailed, status)
	assert.EqualError(t, g.Err(ctx, gate.ID), "Tests failed!")
}

func TestGraph_SkipOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	g := createTestGraph()
	prod := addNode(t, g, "stage.prod")
	done := addNode(t, g, "layer.base")

	require.NoError(t, g.MarkSkipped(ctx, prod.ID, errors.New("dependency failed")))
	status, _ := g.NodeStatus(ctx, prod.ID)
	assert.Equal(t, node.StatusSkipped, status)

	require.NoError(t, g.MarkRunning(ctx, done.ID))
	require.NoError(t, g.MarkCompleted(ctx, done.ID, "layer"))
	assert.Error(t, g.MarkSkipped(ctx, done.ID, nil))

	out, err := g.Output(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, "layer", out)
}

func TestGraph_UnknownNode(t *testing.T) {
	ctx := context.Background()
	g := createTestGraph()
	id := nodeid.MustParse("stage.ghost")

	_, ok := g.NodeStatus(ctx, id)
	assert.False(t, ok)
	assert.Error(t, g.MarkRunning(ctx, id))
}
