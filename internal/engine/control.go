package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rendis/flowgraph/pkg/schema"
)

// DelaySlice bounds how long a stop or pause request can go unnoticed while
// the interpreter sleeps through the visualization delay.
const DelaySlice = 100 * time.Millisecond

// ExecutionContext is the debugging state of one run: running and paused
// flags, breakpoints, the current node and per-node statuses. It is owned by
// the caller, so concurrent runs never share control state. Pause, Resume,
// Stop and the breakpoint methods are safe to call from any goroutine.
type ExecutionContext struct {
	mu          sync.Mutex
	running     bool
	paused      bool
	wake        chan struct{} // closed and replaced on every resume or stop
	breakpoints map[string]bool
	currentNode string
	statuses    map[string]schema.NodeStatus
	varCount    int

	run      *RunInfo
	observer Observer
}

// NewExecutionContext creates an idle context with no breakpoints.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		wake:        make(chan struct{}),
		breakpoints: make(map[string]bool),
		statuses:    make(map[string]schema.NodeStatus),
	}
}

// ControlStats is a snapshot of an ExecutionContext.
type ControlStats struct {
	Total         int                       `json:"totalNodes"`
	ByStatus      map[schema.NodeStatus]int `json:"byStatus"`
	Running       bool                      `json:"isRunning"`
	Paused        bool                      `json:"isPaused"`
	CurrentNode   string                    `json:"currentNode,omitempty"`
	Breakpoints   int                       `json:"breakpoints"`
	VariableCount int                       `json:"variableCount"`
}

// begin marks the context running for a new run. Breakpoints survive.
func (ec *ExecutionContext) begin(run *RunInfo, obs Observer) error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.running {
		return schema.NewError(schema.ErrCodeConflict, "execution context is already running")
	}
	ec.running = true
	ec.paused = false
	ec.currentNode = ""
	ec.statuses = make(map[string]schema.NodeStatus)
	ec.varCount = 0
	ec.run = run
	ec.observer = obs
	return nil
}

// finish marks the run over and wakes anything still blocked.
func (ec *ExecutionContext) finish() {
	ec.mu.Lock()
	ec.running = false
	ec.paused = false
	ec.currentNode = ""
	ec.broadcastLocked()
	ec.mu.Unlock()
}

func (ec *ExecutionContext) broadcastLocked() {
	close(ec.wake)
	ec.wake = make(chan struct{})
}

// notifyPause reports the current flags to the observer outside the lock.
func (ec *ExecutionContext) notifyPause() {
	ec.mu.Lock()
	obs, run, paused, running := ec.observer, ec.run, ec.paused, ec.running
	ec.mu.Unlock()
	if obs != nil {
		obs.OnPauseStateChange(context.Background(), run, paused, running)
	}
}

// Pause suspends the run at its next suspension point.
func (ec *ExecutionContext) Pause() {
	ec.mu.Lock()
	if !ec.running || ec.paused {
		ec.mu.Unlock()
		return
	}
	ec.paused = true
	ec.mu.Unlock()
	ec.notifyPause()
}

// Resume releases a paused run, including one halted at a breakpoint.
func (ec *ExecutionContext) Resume() {
	ec.mu.Lock()
	if !ec.paused {
		ec.mu.Unlock()
		return
	}
	ec.paused = false
	ec.broadcastLocked()
	ec.mu.Unlock()
	ec.notifyPause()
}

// Stop cancels the run. Blocked suspension points return a cancellation
// error; nodes in flight are not marked as failed.
func (ec *ExecutionContext) Stop() {
	ec.mu.Lock()
	if !ec.running {
		ec.mu.Unlock()
		return
	}
	ec.running = false
	ec.paused = false
	ec.broadcastLocked()
	ec.mu.Unlock()
	ec.notifyPause()
}

// Reset clears run state. Breakpoints belong to the debugging session and
// are kept.
func (ec *ExecutionContext) Reset() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.running {
		ec.running = false
		ec.broadcastLocked()
	}
	ec.paused = false
	ec.currentNode = ""
	ec.statuses = make(map[string]schema.NodeStatus)
	ec.varCount = 0
}

func (ec *ExecutionContext) AddBreakpoint(nodeID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.breakpoints[nodeID] = true
}

func (ec *ExecutionContext) RemoveBreakpoint(nodeID string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	delete(ec.breakpoints, nodeID)
}

// ToggleBreakpoint flips the breakpoint on nodeID and reports whether it is now set.
func (ec *ExecutionContext) ToggleBreakpoint(nodeID string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.breakpoints[nodeID] {
		delete(ec.breakpoints, nodeID)
		return false
	}
	ec.breakpoints[nodeID] = true
	return true
}

func (ec *ExecutionContext) HasBreakpoint(nodeID string) bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.breakpoints[nodeID]
}

func (ec *ExecutionContext) ClearBreakpoints() {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	clear(ec.breakpoints)
}

// Breakpoints returns the node ids with a breakpoint, sorted.
func (ec *ExecutionContext) Breakpoints() []string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make([]string, 0, len(ec.breakpoints))
	for id := range ec.breakpoints {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (ec *ExecutionContext) IsRunning() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.running
}

func (ec *ExecutionContext) IsPaused() bool {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.paused
}

// CurrentNode returns the node being processed, or "".
func (ec *ExecutionContext) CurrentNode() string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.currentNode
}

// NodeStatus returns the status of nodeID in the current run.
func (ec *ExecutionContext) NodeStatus(nodeID string) (schema.NodeStatus, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	s, ok := ec.statuses[nodeID]
	return s, ok
}

// NodeStatuses returns a copy of all node statuses of the current run.
func (ec *ExecutionContext) NodeStatuses() map[string]schema.NodeStatus {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	out := make(map[string]schema.NodeStatus, len(ec.statuses))
	for k, v := range ec.statuses {
		out[k] = v
	}
	return out
}

// Stats summarizes the run for debugger panels.
func (ec *ExecutionContext) Stats() ControlStats {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	by := make(map[schema.NodeStatus]int)
	for _, s := range ec.statuses {
		by[s]++
	}
	return ControlStats{
		Total:         len(ec.statuses),
		ByStatus:      by,
		Running:       ec.running,
		Paused:        ec.paused,
		CurrentNode:   ec.currentNode,
		Breakpoints:   len(ec.breakpoints),
		VariableCount: ec.varCount,
	}
}

func (ec *ExecutionContext) setStatus(nodeID string, s schema.NodeStatus) schema.NodeStatus {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	prev, ok := ec.statuses[nodeID]
	if !ok {
		prev = schema.NodeStatusPending
	}
	ec.statuses[nodeID] = s
	if s == schema.NodeStatusProcessing {
		ec.currentNode = nodeID
	}
	return prev
}

// seed marks every node of the diagram pending.
func (ec *ExecutionContext) seed(nodeIDs []string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for _, id := range nodeIDs {
		ec.statuses[id] = schema.NodeStatusPending
	}
}

func (ec *ExecutionContext) setVarCount(n int) {
	ec.mu.Lock()
	ec.varCount = n
	ec.mu.Unlock()
}

// checkpoint is a suspension point: it fails with a cancellation error once
// the run is stopped and blocks while the run is paused. Cancelling ctx
// stops the run.
func (ec *ExecutionContext) checkpoint(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			ec.Stop()
			return schema.ErrCancelled
		}

		ec.mu.Lock()
		if !ec.running {
			ec.mu.Unlock()
			return schema.ErrCancelled
		}
		if !ec.paused {
			ec.mu.Unlock()
			return nil
		}
		wake := ec.wake
		ec.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
		}
	}
}

// checkBreakpoint pauses the run when nodeID has a breakpoint and waits for
// an explicit Resume.
func (ec *ExecutionContext) checkBreakpoint(ctx context.Context, nodeID string) error {
	ec.mu.Lock()
	hit := ec.breakpoints[nodeID] && ec.running
	if hit {
		ec.paused = true
	}
	obs, run := ec.observer, ec.run
	ec.mu.Unlock()

	if hit && obs != nil {
		obs.OnBreakpointHit(ctx, run, nodeID)
		ec.notifyPause()
	}
	return ec.checkpoint(ctx)
}

// delay sleeps for d in DelaySlice steps, checking for stop and pause
// before each step.
func (ec *ExecutionContext) delay(ctx context.Context, d time.Duration) error {
	for d > 0 {
		if err := ec.checkpoint(ctx); err != nil {
			return err
		}
		step := min(d, DelaySlice)
		t := time.NewTimer(step)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
		d -= step
	}
	return ec.checkpoint(ctx)
}
