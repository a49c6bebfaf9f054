// Package executor runs a planned pipeline graph on a pool of workers.
//
// Each branch of the pipeline is a strict sequence enforced by the graph's
// dependency edges; independent branches (the test and prod stages after the
// shared base layer) run concurrently when more than one worker is available.
// A failing node aborts its own branch only: its descendants are skipped and
// unrelated nodes still run to completion.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/specialistvlad/stagegate/internal/ctxlog"
	"github.com/specialistvlad/stagegate/internal/graph"
	"github.com/specialistvlad/stagegate/internal/handlers"
	"github.com/specialistvlad/stagegate/internal/node"
	"github.com/specialistvlad/stagegate/internal/nodeid"
	"github.com/specialistvlad/stagegate/internal/scheduler"
	"github.com/specialistvlad/stagegate/internal/task"
)

// Executor orchestrates the end-to-end execution of a pipeline graph.
type Executor struct {
	graph    graph.Graph
	sched    scheduler.Scheduler
	handlers *handlers.Handlers
	workers  int

	wg sync.WaitGroup
}

// New creates an executor. workers below 1 is treated as 1.
func New(g graph.Graph, s scheduler.Scheduler, h *handlers.Handlers, workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{graph: g, sched: s, handlers: h, workers: workers}
}

// Report summarizes the terminal state of every node after a run.
type Report struct {
	Statuses map[nodeid.Address]node.Status
	Errors   map[nodeid.Address]error
}

// Status returns the terminal status of a node.
func (r *Report) Status(id nodeid.Address) node.Status {
	return r.Statuses[id]
}

// Failed lists nodes whose handler returned an error, in address order.
func (r *Report) Failed() []nodeid.Address {
	var out []nodeid.Address
	for id, st := range r.Statuses {
		if st == node.StatusFailed {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Execute runs every node and blocks until all are terminal. The returned
// error joins the errors of all failed nodes, in address order.
func (e *Executor) Execute(ctx context.Context) (*Report, error) {
	logger := ctxlog.FromContext(ctx)
	nodes := e.graph.AllNodes(ctx)
	for _, n := range nodes {
		if _, ok := e.handlers.Get(n.Kind()); !ok {
			return nil, fmt.Errorf("no handler registered for node kind '%s' (node %s)", n.Kind(), n.ID)
		}
	}

	ready, err := e.sched.Start(ctx)
	if err != nil {
		return nil, err
	}

	e.wg.Add(len(nodes))
	var workers sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		workers.Add(1)
		go func(workerID int) {
			defer workers.Done()
			e.worker(ctx, ready, workerID)
		}(i)
	}

	logger.Debug("Executor started.", "nodes", len(nodes), "workers", e.workers)
	e.wg.Wait()
	e.sched.Stop()
	workers.Wait()

	report := &Report{
		Statuses: make(map[nodeid.Address]node.Status, len(nodes)),
		Errors:   make(map[nodeid.Address]error),
	}
	for _, n := range nodes {
		status, _ := e.graph.NodeStatus(ctx, n.ID)
		report.Statuses[n.ID] = status
		if nodeErr := e.graph.Err(ctx, n.ID); nodeErr != nil {
			report.Errors[n.ID] = nodeErr
		}
	}

	var errs []error
	for _, id := range report.Failed() {
		errs = append(errs, report.Errors[id])
	}
	return report, errors.Join(errs...)
}

// worker is the core processing loop for a single concurrent worker.
func (e *Executor) worker(ctx context.Context, ready <-chan *node.Node, workerID int) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Worker started.", "workerID", workerID)

	for n := range ready {
		nodeCtx := ctxlog.With(ctx, "workerID", workerID, "node", n.ID.String())
		if err := e.graph.MarkRunning(nodeCtx, n.ID); err != nil {
			// Skipped after being released by a sibling dependency.
			ctxlog.FromContext(nodeCtx).Debug("Node not runnable, ignoring.", "error", err)
			continue
		}
		e.run(nodeCtx, n)
	}
	logger.Debug("Worker finished.", "workerID", workerID)
}

func (e *Executor) run(ctx context.Context, n *node.Node) {
	logger := ctxlog.FromContext(ctx)
	defer e.wg.Done()

	var (
		output any
		err    error
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	} else {
		var inputs map[nodeid.Address]any
		inputs, err = e.collectInputs(ctx, n)
		if err == nil {
			fn, _ := e.handlers.Get(n.Kind())
			logger.Debug("Calling node handler.")
			output, err = fn(ctx, task.New(n, inputs))
		}
	}

	if err != nil {
		logger.Error("Node execution failed.", "error", err)
		if markErr := e.graph.MarkFailed(ctx, n.ID, err); markErr != nil {
			logger.Error("Failed to record node failure.", "error", markErr)
		}
		skipped, skipErr := e.sched.Fail(ctx, n.ID, err)
		if skipErr != nil {
			logger.Error("Failed to skip dependents.", "error", skipErr)
		}
		for range skipped {
			e.wg.Done()
		}
		return
	}

	if err := e.graph.MarkCompleted(ctx, n.ID, output); err != nil {
		logger.Error("Failed to record node completion.", "error", err)
	}
	logger.Debug("Node execution succeeded.")
	if err := e.sched.Complete(ctx, n.ID); err != nil {
		logger.Error("Failed to release dependents.", "error", err)
	}
}

func (e *Executor) collectInputs(ctx context.Context, n *node.Node) (map[nodeid.Address]any, error) {
	deps, err := e.graph.DependenciesOf(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	inputs := make(map[nodeid.Address]any, len(deps))
	for _, d := range deps {
		out, err := e.graph.Output(ctx, d.ID)
		if err != nil {
			return nil, fmt.Errorf("reading output of %s: %w", d.ID, err)
		}
		inputs[d.ID] = out
	}
	return inputs, nil
}
