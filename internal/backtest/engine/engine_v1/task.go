package engine

import (
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/timeline"
	"github.com/rxtech-lab/argo-backtest/internal/types"
)

// Task is a simulation running in the background.
type Task struct {
	sim      *Simulation
	done     chan struct{}
	timeline *timeline.Timeline
	err      error
}

func newTask(sim *Simulation) *Task {
	return &Task{
		sim:  sim,
		done: make(chan struct{}),
	}
}

// Wait blocks until the run ends and returns its timeline and error.
func (t *Task) Wait() (*timeline.Timeline, error) {
	<-t.done

	return t.timeline, t.err
}

// Done is closed when the run ends.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Timeline returns the live timeline. Entries appear as cycles settle.
func (t *Task) Timeline() *timeline.Timeline {
	return t.sim.Timeline()
}

// Stats blocks until the run ends and returns its diagnostics.
func (t *Task) Stats() types.RunStats {
	<-t.done

	return t.sim.Stats()
}

// ID returns the run identifier.
func (t *Task) ID() string {
	return t.sim.ID()
}
