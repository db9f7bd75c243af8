package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/raphaelBarman/PyLaia/internal/conditions"
	"github.com/raphaelBarman/PyLaia/internal/data"
	"github.com/raphaelBarman/PyLaia/internal/hooks"
)

func testSource(t *testing.T, samples, batchSize int) *data.SliceSource {
	t.Helper()
	all := make([]data.Sample, samples)
	for i := range all {
		all[i] = data.Sample{
			ID:     fmt.Sprintf("s%02d", i),
			Frames: [][]float64{{float64(i)}},
			Target: []int{1},
		}
	}
	src, err := data.NewSlice(data.SliceConfig{Samples: all, BatchSize: batchSize})
	if err != nil {
		t.Fatalf("new slice: %v", err)
	}
	return src
}

func noopStep(context.Context, data.Batch) (float64, error) { return 0, nil }

func noopUpdate() error { return nil }

func addHorizon(t *testing.T, tr *Trainer, epochs int64) {
	t.Helper()
	cond, err := conditions.NewGEqThan(tr.EpochCounter(), epochs)
	if err != nil {
		t.Fatalf("new geq than: %v", err)
	}
	hook, err := hooks.New(cond, StopAction(tr))
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if err := tr.AddHook(EpochEnd, hook); err != nil {
		t.Fatalf("add hook: %v", err)
	}
}

func TestTrainerRunsToHorizon(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 10, 2),
		Step:   noopStep,
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	addHorizon(t, tr, 3)

	summary, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Epochs != 3 {
		t.Fatalf("epochs: got=%d want=3", summary.Epochs)
	}
	if summary.Iterations != 15 {
		t.Fatalf("iterations: got=%d want=15", summary.Iterations)
	}
	if summary.Reason != ReasonStopRequested {
		t.Fatalf("reason: got=%s want=%s", summary.Reason, ReasonStopRequested)
	}
	if tr.Status() != Stopped {
		t.Fatalf("status: got=%s want=stopped", tr.Status())
	}
}

func TestStopMidEpochFinishesTheEpoch(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 10, 2),
		Step:   noopStep,
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}

	stopAtIter, err := conditions.NewGEqThan(tr.IterationCounter(), 2)
	if err != nil {
		t.Fatalf("new geq than: %v", err)
	}
	hook, err := hooks.New(stopAtIter, StopAction(tr))
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if err := tr.AddHook(IterEnd, hook); err != nil {
		t.Fatalf("add hook: %v", err)
	}

	summary, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Epochs != 1 {
		t.Fatalf("stop must not abort the in-flight epoch: epochs=%d", summary.Epochs)
	}
	if summary.Iterations != 5 {
		t.Fatalf("iterations: got=%d want=5", summary.Iterations)
	}
}

func TestExhaustedSourceIsTerminal(t *testing.T) {
	bounded, err := data.NewBounded(testSource(t, 6, 3), 2)
	if err != nil {
		t.Fatalf("new bounded: %v", err)
	}
	tr, err := NewTrainer(TrainerConfig{Source: bounded, Step: noopStep, Update: noopUpdate})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}

	summary, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Epochs != 2 {
		t.Fatalf("epochs: got=%d want=2", summary.Epochs)
	}
	if summary.Reason != ReasonExhausted {
		t.Fatalf("reason: got=%s want=%s", summary.Reason, ReasonExhausted)
	}
	if tr.Status() != Exhausted {
		t.Fatalf("status: got=%s want=exhausted", tr.Status())
	}
}

func TestGradientAccumulationWindow(t *testing.T) {
	updates := 0
	tr, err := NewTrainer(TrainerConfig{
		Source:              testSource(t, 10, 2),
		Step:                noopStep,
		Update:              func() error { updates++; return nil },
		IterationsPerUpdate: 2,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	addHorizon(t, tr, 1)

	if _, err := tr.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	// Five batches in groups of two: updates after the 2nd and 4th, plus the
	// trailing flush before epoch-end.
	if updates != 3 {
		t.Fatalf("updates: got=%d want=3", updates)
	}
}

func TestEventOrderAndCounterVisibility(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 4, 2),
		Step:   noopStep,
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	addHorizon(t, tr, 1)

	var trace []string
	record := func(name string) hooks.Action {
		return func(ctx hooks.Context) error {
			trace = append(trace, fmt.Sprintf("%s e%d i%d", name, ctx.Epoch, ctx.Iteration))
			return nil
		}
	}
	for _, ev := range []Event{EpochStart, IterStart, IterEnd, EpochEnd} {
		hook, err := hooks.New(conditions.Always{}, record(string(ev)))
		if err != nil {
			t.Fatalf("new hook: %v", err)
		}
		if err := tr.AddHook(ev, hook); err != nil {
			t.Fatalf("add hook: %v", err)
		}
	}

	if _, err := tr.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []string{
		"epoch-start e0 i0",
		"iter-start e0 i0",
		"iter-end e0 i1",
		"iter-start e0 i1",
		"iter-end e0 i2",
		"epoch-end e1 i2",
	}
	if len(trace) != len(want) {
		t.Fatalf("events: got=%d want=%d (%v)", len(trace), len(want), trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("event %d: got=%q want=%q", i, trace[i], want[i])
		}
	}
}

func TestEpochEndHooksSeeCompletedCount(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 4, 2),
		Step:   noopStep,
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	addHorizon(t, tr, 3)

	var seen []int64
	hook, err := hooks.New(conditions.Always{}, func(ctx hooks.Context) error {
		seen = append(seen, ctx.Epoch)
		return nil
	})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if err := tr.AddHook(EpochEnd, hook); err != nil {
		t.Fatalf("add hook: %v", err)
	}

	if _, err := tr.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(seen) != len(want) {
		t.Fatalf("firings: got=%d want=%d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("epoch at firing %d: got=%d want=%d", i, seen[i], want[i])
		}
	}
}

func TestMidBatchFailureCarriesSampleIDs(t *testing.T) {
	var buf bytes.Buffer
	boom := errors.New("compute failed")
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 6, 2),
		Step: func(_ context.Context, b data.Batch) (float64, error) {
			if b.Index == 2 {
				return 0, boom
			}
			return 0, nil
		},
		Update: noopUpdate,
		Logger: log.New(&buf, "", 0),
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}

	_, err = tr.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped compute error: got=%v", err)
	}
	for _, id := range []string{"s04", "s05"} {
		if !strings.Contains(err.Error(), id) {
			t.Fatalf("error must carry failing sample id %s: %v", id, err)
		}
		if !strings.Contains(buf.String(), id) {
			t.Fatalf("log must carry failing sample id %s: %s", id, buf.String())
		}
	}
}

func TestHookFailureAbortsRun(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 4, 2),
		Step:   noopStep,
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}

	boom := errors.New("save failed")
	hook, err := hooks.New(conditions.Always{}, func(hooks.Context) error { return boom })
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if err := tr.AddHook(EpochEnd, hook); err != nil {
		t.Fatalf("add hook: %v", err)
	}

	if _, err := tr.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected hook error: got=%v", err)
	}
}

func TestRestoreContinuesCounting(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 4, 2),
		Step:   noopStep,
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	if err := tr.Restore(5, 100); err != nil {
		t.Fatalf("restore: %v", err)
	}
	addHorizon(t, tr, 6)

	summary, err := tr.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.Epochs != 6 {
		t.Fatalf("epochs: got=%d want=6", summary.Epochs)
	}
	if summary.Iterations != 102 {
		t.Fatalf("iterations: got=%d want=102", summary.Iterations)
	}
}

func TestRunHonorsContextCancellation(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 4, 2),
		Step:   noopStep,
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := tr.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled: got=%v", err)
	}
}

func TestEpochLossVisibleToEpochEndHooks(t *testing.T) {
	losses := []float64{1.0, 2.0, 3.0}
	i := 0
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 6, 2),
		Step: func(context.Context, data.Batch) (float64, error) {
			loss := losses[i%len(losses)]
			i++
			return loss, nil
		},
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	addHorizon(t, tr, 1)

	var got float64
	var ok bool
	hook, err := hooks.New(conditions.Always{}, func(hooks.Context) error {
		got, ok = tr.EpochLoss()
		return nil
	})
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if err := tr.AddHook(EpochEnd, hook); err != nil {
		t.Fatalf("add hook: %v", err)
	}

	if _, err := tr.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !ok || got != 2.0 {
		t.Fatalf("epoch loss: got=%v ok=%v want=2.0", got, ok)
	}
}

func TestAddHookRejectsUnknownEvent(t *testing.T) {
	tr, err := NewTrainer(TrainerConfig{
		Source: testSource(t, 4, 2),
		Step:   noopStep,
		Update: noopUpdate,
	})
	if err != nil {
		t.Fatalf("new trainer: %v", err)
	}
	hook, err := hooks.New(conditions.Always{}, func(hooks.Context) error { return nil })
	if err != nil {
		t.Fatalf("new hook: %v", err)
	}
	if err := tr.AddHook(Event("banana"), hook); err == nil {
		t.Fatal("expected unknown event error")
	}
}

func TestEvaluatorRunsOnePassPerCall(t *testing.T) {
	var seen []string
	ev, err := NewEvaluator(EvaluatorConfig{
		Source: testSource(t, 6, 2),
		Step: func(_ context.Context, b data.Batch) error {
			seen = append(seen, b.IDs()...)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("new evaluator: %v", err)
	}

	if err := ev.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != 6 {
		t.Fatalf("samples: got=%d want=6", len(seen))
	}
	if ev.Epochs() != 1 || ev.Iterations() != 3 {
		t.Fatalf("counters: epochs=%d iterations=%d want 1/3", ev.Epochs(), ev.Iterations())
	}

	if err := ev.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if ev.Epochs() != 2 {
		t.Fatalf("epochs after second pass: got=%d want=2", ev.Epochs())
	}
}
