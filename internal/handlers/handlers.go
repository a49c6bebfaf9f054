// Package handlers holds the registry that maps pipeline node kinds to the Go
// functions executing them.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/specialistvlad/stagegate/internal/nodeid"
	"github.com/specialistvlad/stagegate/internal/task"
)

// Func executes a single node. Its output is stored in the graph and handed to
// dependents through their task inputs.
type Func func(ctx context.Context, t *task.Task) (any, error)

// Handlers holds all the registered handlers.
type Handlers struct {
	all map[nodeid.Kind]Func
}

// New creates and initializes a new handler registry.
func New() *Handlers {
	return &Handlers{
		all: make(map[nodeid.Kind]Func),
	}
}

// Register binds a handler to a node kind. Registering a kind twice is a
// programming error and panics.
func (h *Handlers) Register(kind nodeid.Kind, fn Func) {
	if _, exists := h.all[kind]; exists {
		panic(fmt.Sprintf("handler for node kind '%s' already registered", kind))
	}
	slog.Debug("Registering node handler.", "kind", string(kind))
	h.all[kind] = fn
}

// Get returns the handler registered for a kind.
func (h *Handlers) Get(kind nodeid.Kind) (Func, bool) {
	fn, ok := h.all[kind]
	return fn, ok
}

// Kinds lists registered kinds in sorted order.
func (h *Handlers) Kinds() []string {
	kinds := make([]string, 0, len(h.all))
	for k := range h.all {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	return kinds
}
