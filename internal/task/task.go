// Package task defines the unit of work handed to a node handler.
package task

import (
	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
)

// Task is a node together with the outputs of every node it depends on.
type Task struct {
	Node *node.Node

	// Inputs maps each dependency address to its recorded output.
	Inputs map[nodeid.Address]any
}

// New creates a task for n.
func New(n *node.Node, inputs map[nodeid.Address]any) *Task {
	if inputs == nil {
		inputs = map[nodeid.Address]any{}
	}
	return &Task{Node: n, Inputs: inputs}
}

// InputOfKind returns the output of the first dependency (in address order)
// with the given kind.
func (t *Task) InputOfKind(kind nodeid.Kind) (any, bool) {
	var (
		found   any
		foundID nodeid.Address
		ok      bool
	)
	for id, out := range t.Inputs {
		if id.Kind != kind {
			continue
		}
		if !ok || id.String() < foundID.String() {
			found, foundID, ok = out, id, true
		}
	}
	return found, ok
}
