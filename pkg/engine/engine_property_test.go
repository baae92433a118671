package engine_test

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dukex/calcflow/pkg/engine"
	"github.com/dukex/calcflow/pkg/models"
	"github.com/dukex/calcflow/pkg/persistence/file"
	"github.com/dukex/calcflow/pkg/protocol"
	"github.com/dukex/calcflow/pkg/testutil"
	"pgregory.net/rapid"
)

// visitRecorder runs "visit" steps, recording the order steps ran in per
// execution.
type visitRecorder struct {
	mu     sync.Mutex
	visits []string
}

func (v *visitRecorder) strategy() protocol.Strategy {
	return fakeStrategy{calculationType: "visit", fn: func(sc protocol.StepContext) (map[string]any, error) {
		v.mu.Lock()
		defer v.mu.Unlock()

		v.visits = append(v.visits, sc.Step.ID)

		return map[string]any{"visited_" + sc.Step.ID: 1.0}, nil
	}}
}

func (v *visitRecorder) take() []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	visits := v.visits
	v.visits = nil

	return visits
}

func visitStep(id string) *models.CalculationStep {
	return testutil.CreateTestStep(id, func(s *models.CalculationStep) {
		s.Type = "visit"
		s.Formula = ""
		s.InputConfig = nil
		s.OutputConfig = nil
	})
}

func stepIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("s%d", i)
	}

	return ids
}

// A pipeline whose edges only run from lower to higher index is acyclic;
// every active step must run exactly once and after all its dependencies,
// whatever order the steps are declared in.
func TestEngine_ExecutesEveryStepOnceInDependencyOrder(t *testing.T) {
	recorder := &visitRecorder{}

	strategies := defaultStrategies()
	strategies.RegisterStrategy(recorder.strategy())

	store := file.NewPersistence(t.TempDir())
	eng := engine.NewEngine(testutil.Logger(), store, strategies)

	var seq atomic.Int64

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "steps")
		declared := rapid.Permutation(stepIDs(n)).Draw(rt, "declaration")

		pipeline := testutil.CreateTestPipeline(func(p *models.CalculationPipeline) {
			p.ID = fmt.Sprintf("dag_%d", seq.Add(1))
		})

		for _, id := range declared {
			testutil.WithSteps(visitStep(id))(pipeline)
		}

		var edges [][2]string

		if n > 1 {
			count := rapid.IntRange(0, n*2).Draw(rt, "edges")
			for range count {
				u := rapid.IntRange(0, n-2).Draw(rt, "u")
				v := rapid.IntRange(u+1, n-1).Draw(rt, "v")
				from, to := fmt.Sprintf("s%d", u), fmt.Sprintf("s%d", v)

				testutil.WithEdge(from, to)(pipeline)
				edges = append(edges, [2]string{from, to})
			}
		}

		if err := store.SavePipeline(t.Context(), pipeline); err != nil {
			rt.Fatalf("save pipeline: %v", err)
		}

		result, err := eng.Execute(t.Context(), pipeline.ID, map[string]any{})
		if err != nil {
			rt.Fatalf("unexpected error for DAG: %v", err)
		}

		visits := recorder.take()
		if len(visits) != n {
			rt.Fatalf("ran %d steps, want %d", len(visits), n)
		}

		position := map[string]int{}
		for i, id := range visits {
			if _, dup := position[id]; dup {
				rt.Fatalf("step %s ran twice", id)
			}

			position[id] = i
		}

		for _, e := range edges {
			if position[e[0]] >= position[e[1]] {
				rt.Fatalf("dependency %s -> %s violated by %v", e[0], e[1], visits)
			}
		}

		details, err := eng.GetExecution(t.Context(), result.ExecutionID)
		if err != nil {
			rt.Fatalf("get execution: %v", err)
		}

		if len(details.Steps) != n {
			rt.Fatalf("recorded %d step runs, want %d", len(details.Steps), n)
		}

		for i, step := range details.Steps {
			if step.StepID != visits[i] {
				rt.Fatalf("step run %d is %s, want %s", i, step.StepID, visits[i])
			}
		}
	})
}

// Closing any chain with a back edge makes the pipeline cyclic; no step may
// run and the failed execution must be recorded.
func TestEngine_RejectsCyclesBeforeRunningSteps(t *testing.T) {
	recorder := &visitRecorder{}

	strategies := defaultStrategies()
	strategies.RegisterStrategy(recorder.strategy())

	store := file.NewPersistence(t.TempDir())
	eng := engine.NewEngine(testutil.Logger(), store, strategies)

	var seq atomic.Int64

	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 10).Draw(rt, "steps")
		ids := stepIDs(n)

		pipeline := testutil.CreateTestPipeline(func(p *models.CalculationPipeline) {
			p.ID = fmt.Sprintf("cycle_%d", seq.Add(1))
		})

		for _, id := range ids {
			testutil.WithSteps(visitStep(id))(pipeline)
		}

		for i := 0; i+1 < n; i++ {
			testutil.WithEdge(ids[i], ids[i+1])(pipeline)
		}

		from := rapid.IntRange(0, n-1).Draw(rt, "from")
		to := rapid.IntRange(0, from).Draw(rt, "to")
		testutil.WithEdge(ids[from], ids[to])(pipeline)

		if err := store.SavePipeline(t.Context(), pipeline); err != nil {
			rt.Fatalf("save pipeline: %v", err)
		}

		result, err := eng.Execute(t.Context(), pipeline.ID, map[string]any{})
		if err == nil {
			rt.Fatalf("expected cyclic dependency error")
		}

		if _, ok := err.(*engine.CyclicDependencyError); !ok {
			rt.Fatalf("error %v is %T, want *engine.CyclicDependencyError", err, err)
		}

		if visits := recorder.take(); len(visits) != 0 {
			rt.Fatalf("steps %v ran despite the cycle", visits)
		}

		details, err := eng.GetExecution(t.Context(), result.ExecutionID)
		if err != nil {
			rt.Fatalf("get execution: %v", err)
		}

		if details.Execution.Status != models.ExecutionStatusFailed || len(details.Steps) != 0 {
			rt.Fatalf("execution %s has status %s and %d step runs", details.Execution.ID, details.Execution.Status, len(details.Steps))
		}
	})
}
