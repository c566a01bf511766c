package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nicodishanthj/echogarden/internal/common"
	"github.com/nicodishanthj/echogarden/internal/store"
	"github.com/nicodishanthj/echogarden/internal/tools"
)

// Step is one tool invocation in a pipeline DAG. Inputs are built lazily so
// a step can consume its predecessors' outputs.
type Step struct {
	Tool      string
	DependsOn []string
	Inputs    func(results map[string]tools.Outputs) tools.Inputs
}

// dagRunner executes steps through the registry while materializing the
// exec graph: an ExecNode per dispatch and an ExecEdge per dependency
// (on_ok, or on_error when the dependent step fails), inserted in causal
// order.
type dagRunner struct {
	store    *store.Store
	registry *tools.Registry
	traceID  string

	mu      sync.Mutex
	nodeIDs map[string]string
	results map[string]tools.Outputs
}

func newDagRunner(st *store.Store, registry *tools.Registry, traceID string) *dagRunner {
	return &dagRunner{
		store:    st,
		registry: registry,
		traceID:  traceID,
		nodeIDs:  make(map[string]string),
		results:  make(map[string]tools.Outputs),
	}
}

// run executes the DAG. Steps whose dependencies are all satisfied run
// concurrently; the first failure aborts the remaining waves.
func (r *dagRunner) run(ctx context.Context, steps []Step) (map[string]tools.Outputs, error) {
	byName := make(map[string]Step, len(steps))
	for _, step := range steps {
		if _, dup := byName[step.Tool]; dup {
			return nil, fmt.Errorf("duplicate step %q", step.Tool)
		}
		byName[step.Tool] = step
	}
	done := make(map[string]struct{}, len(steps))
	for len(done) < len(steps) {
		var wave []Step
		for _, step := range steps {
			if _, finished := done[step.Tool]; finished {
				continue
			}
			ready := true
			for _, dep := range step.DependsOn {
				if _, finished := done[dep]; !finished {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, step)
			}
		}
		if len(wave) == 0 {
			return nil, fmt.Errorf("pipeline has unsatisfiable dependencies")
		}
		group, groupCtx := errgroup.WithContext(ctx)
		for _, step := range wave {
			step := step
			group.Go(func() error {
				return r.runStep(groupCtx, step)
			})
		}
		if err := group.Wait(); err != nil {
			return r.snapshotResults(), err
		}
		for _, step := range wave {
			done[step.Tool] = struct{}{}
		}
	}
	return r.snapshotResults(), nil
}

func (r *dagRunner) runStep(ctx context.Context, step Step) error {
	spec, err := r.registry.Schema(step.Tool)
	if err != nil {
		return err
	}
	nodeID, err := r.store.CreateExecNode(ctx, store.ExecNode{
		TraceID:   r.traceID,
		ToolName:  step.Tool,
		State:     store.NodeRunning,
		TimeoutMS: spec.TimeoutMS,
	})
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.nodeIDs[step.Tool] = nodeID
	inputs := tools.Inputs{}
	if step.Inputs != nil {
		inputs = step.Inputs(r.results)
	}
	r.mu.Unlock()

	out, callID, dispatchErr := r.registry.Dispatch(ctx, step.Tool, inputs, r.traceID)

	state := store.NodeOK
	errText := ""
	condition := store.EdgeOnOK
	if dispatchErr != nil {
		state = store.NodeError
		errText = dispatchErr.Error()
		condition = store.EdgeOnError
		if errors.Is(dispatchErr, context.DeadlineExceeded) {
			state = store.NodeTimeout
		}
	}
	finishCtx := context.WithoutCancel(ctx)
	if err := r.store.FinishExecNode(finishCtx, nodeID, state, callID, errText); err != nil {
		common.Logger().Warn("orchestrator: exec node finish failed", "node", nodeID, "error", err)
	}
	// Edges are inserted only after this node's terminal state is known, so
	// an on_ok edge always points from a finished predecessor.
	r.mu.Lock()
	for _, dep := range step.DependsOn {
		fromNode, ok := r.nodeIDs[dep]
		if !ok {
			continue
		}
		if err := r.store.CreateExecEdge(finishCtx, r.traceID, fromNode, nodeID, condition); err != nil {
			common.Logger().Warn("orchestrator: exec edge insert failed", "error", err)
		}
	}
	if dispatchErr == nil {
		r.results[step.Tool] = out
	}
	r.mu.Unlock()
	return dispatchErr
}

func (r *dagRunner) snapshotResults() map[string]tools.Outputs {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]tools.Outputs, len(r.results))
	for tool, result := range r.results {
		out[tool] = result
	}
	return out
}
