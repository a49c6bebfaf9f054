package stage

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// State is the lifecycle position of one stage branch.
type State string

const (
	Pending               State = "pending"
	Materialized          State = "materialized"
	DependenciesInstalled State = "dependencies_installed"
	TestedVerified        State = "tested:verified"
	TestedRejected        State = "tested:rejected"
	StagedForProd         State = "staged_for_prod"
	Launched              State = "launched"
	Failed                State = "failed"
	Skipped               State = "skipped"
)

// Terminal reports whether the branch has finished. A launched process can
// still crash, so Launched may move on to Failed.
func (s State) Terminal() bool {
	switch s {
	case TestedVerified, TestedRejected, Launched, Failed, Skipped:
		return true
	}
	return false
}

var transitions = map[State][]State{
	Pending:               {Materialized},
	Materialized:          {DependenciesInstalled},
	DependenciesInstalled: {TestedVerified, TestedRejected, StagedForProd},
	StagedForProd:         {Launched},
	Launched:              {Failed},
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	if to == Failed || to == Skipped {
		return !from.Terminal()
	}
	return false
}

// Transition is one recorded state change.
type Transition struct {
	BuildID string    `json:"build_id"`
	Stage   string    `json:"stage"`
	From    State     `json:"from"`
	To      State     `json:"to"`
	At      time.Time `json:"at"`
}

// Tracker is the pipeline state machine. Every planned stage has a branch
// that moves through the states independently once the shared layer is
// installed. It is safe for concurrent use.
type Tracker struct {
	buildID string
	now     func() time.Time

	mu        sync.Mutex
	states    map[string]State
	layerOf   map[string]string
	kindOf    map[string]string
	listeners []func(Transition)
}

// NewTracker creates an empty tracker for one build.
func NewTracker(buildID string) *Tracker {
	return &Tracker{
		buildID: buildID,
		now:     time.Now,
		states:  map[string]State{},
		layerOf: map[string]string{},
		kindOf:  map[string]string{},
	}
}

// Track registers a stage branch in the Pending state.
func (t *Tracker) Track(stage, layer, kind string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.states[stage]; ok {
		return
	}
	t.states[stage] = Pending
	t.layerOf[stage] = layer
	t.kindOf[stage] = kind
}

// Resume registers a stage branch that already reached state in an earlier
// run. No transition is emitted.
func (t *Tracker) Resume(stage, layer, kind string, state State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[stage] = state
	t.layerOf[stage] = layer
	t.kindOf[stage] = kind
}

// OnTransition registers a listener called after each transition. Listeners
// run synchronously and must not call back into the tracker.
func (t *Tracker) OnTransition(fn func(Transition)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Advance moves one stage to the given state.
func (t *Tracker) Advance(stage string, to State) error {
	t.mu.Lock()
	from, ok := t.states[stage]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("stage %q is not tracked", stage)
	}
	if !allowed(from, to) {
		t.mu.Unlock()
		return fmt.Errorf("stage %q: invalid transition %s -> %s", stage, from, to)
	}
	t.states[stage] = to
	tr := Transition{BuildID: t.buildID, Stage: stage, From: from, To: to, At: t.now().UTC()}
	listeners := append([]func(Transition){}, t.listeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(tr)
	}
	return nil
}

// AdvanceLayer moves every non-terminal stage derived from layer to the given
// state.
func (t *Tracker) AdvanceLayer(layer string, to State) error {
	for _, stage := range t.stagesOf(layer) {
		if err := t.Advance(stage, to); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tracker) stagesOf(layer string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for s, l := range t.layerOf {
		if l == layer && !t.states[s].Terminal() {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// State returns the current state of a stage.
func (t *Tracker) State(stage string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[stage]
}

// BranchState is one entry of a Snapshot.
type BranchState struct {
	Stage string `json:"stage"`
	Layer string `json:"layer"`
	Kind  string `json:"kind"`
	State State  `json:"state"`
}

// Snapshot returns the state of every branch, sorted by stage name.
func (t *Tracker) Snapshot() []BranchState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]BranchState, 0, len(t.states))
	for s, st := range t.states {
		out = append(out, BranchState{Stage: s, Layer: t.layerOf[s], Kind: t.kindOf[s], State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// BuildID returns the build this tracker belongs to.
func (t *Tracker) BuildID() string {
	return t.buildID
}
