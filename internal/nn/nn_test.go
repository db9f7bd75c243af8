package nn

import (
	"math"
	"testing"
)

func trainingFrames() ([][]float64, []int) {
	frames := [][]float64{
		{1.0, 0.0},
		{0.9, 0.1},
		{0.0, 1.0},
		{0.1, 0.9},
	}
	target := []int{1, 1, 2, 2}
	return frames, target
}

func TestLinearLearnsSeparableTask(t *testing.T) {
	model, err := NewLinear(2, 3, 11)
	if err != nil {
		t.Fatalf("new linear: %v", err)
	}
	opt, err := NewSGD(0.5, 0)
	if err != nil {
		t.Fatalf("new sgd: %v", err)
	}

	frames, target := trainingFrames()
	first, err := model.Backward(frames, target)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if err := opt.Step(model.Params()); err != nil {
		t.Fatalf("step: %v", err)
	}
	model.Params().ZeroGrad()

	last := first
	for i := 0; i < 60; i++ {
		last, err = model.Backward(frames, target)
		if err != nil {
			t.Fatalf("backward: %v", err)
		}
		if err := opt.Step(model.Params()); err != nil {
			t.Fatalf("step: %v", err)
		}
		model.Params().ZeroGrad()
	}
	if last >= first {
		t.Fatalf("loss did not decrease: first=%v last=%v", first, last)
	}

	scores := model.Forward(frames)
	for i, frame := range scores {
		best := 0
		for c, s := range frame {
			if s > frame[best] {
				best = c
			}
		}
		if best != target[i] {
			t.Fatalf("frame %d: predicted %d want %d", i, best, target[i])
		}
	}
}

func TestMLPLearnsSeparableTask(t *testing.T) {
	model, err := NewMLP(2, 8, 3, 11, "tanh")
	if err != nil {
		t.Fatalf("new mlp: %v", err)
	}
	opt, err := NewAdam(0.05, 0.9, 0.999, 1e-8)
	if err != nil {
		t.Fatalf("new adam: %v", err)
	}

	frames, target := trainingFrames()
	first, err := model.Backward(frames, target)
	if err != nil {
		t.Fatalf("backward: %v", err)
	}
	if err := opt.Step(model.Params()); err != nil {
		t.Fatalf("step: %v", err)
	}
	model.Params().ZeroGrad()

	last := first
	for i := 0; i < 120; i++ {
		last, err = model.Backward(frames, target)
		if err != nil {
			t.Fatalf("backward: %v", err)
		}
		if err := opt.Step(model.Params()); err != nil {
			t.Fatalf("step: %v", err)
		}
		model.Params().ZeroGrad()
	}
	if last >= first {
		t.Fatalf("loss did not decrease: first=%v last=%v", first, last)
	}
}

func TestBackwardValidatesInput(t *testing.T) {
	model, err := NewLinear(2, 3, 1)
	if err != nil {
		t.Fatalf("new linear: %v", err)
	}
	if _, err := model.Backward([][]float64{{1.0}}, []int{0}); err == nil {
		t.Fatal("expected error for short frame")
	}
	if _, err := model.Backward([][]float64{{1.0, 2.0}}, []int{5}); err == nil {
		t.Fatal("expected error for label outside class range")
	}
}

func TestLoadStateRoundTripBitIdentical(t *testing.T) {
	source, err := NewLinear(4, 3, 21)
	if err != nil {
		t.Fatalf("new linear: %v", err)
	}
	state := source.Params().State()

	target, err := NewLinear(4, 3, 99)
	if err != nil {
		t.Fatalf("new linear: %v", err)
	}
	report, err := target.Params().LoadState(state, true)
	if err != nil {
		t.Fatalf("strict load: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("expected clean report: %+v", report)
	}

	for _, name := range source.Params().Names() {
		want, _ := source.Params().Get(name)
		got, _ := target.Params().Get(name)
		for i := range want.Data {
			if got.Data[i] != want.Data[i] {
				t.Fatalf("%s[%d]: got=%v want=%v", name, i, got.Data[i], want.Data[i])
			}
		}
	}
}

func TestLoadStateDropsMismatchedShapes(t *testing.T) {
	source, err := NewLinear(4, 3, 21)
	if err != nil {
		t.Fatalf("new linear: %v", err)
	}
	state := source.Params().State()

	wider, err := NewLinear(5, 3, 7)
	if err != nil {
		t.Fatalf("new linear: %v", err)
	}
	before, _ := wider.Params().Get("linear.weight")
	beforeData := append([]float64(nil), before.Data...)

	report, err := wider.Params().LoadState(state, false)
	if err != nil {
		t.Fatalf("non-strict load: %v", err)
	}
	if len(report.Dropped) != 1 || report.Dropped[0] != "linear.weight" {
		t.Fatalf("dropped: got=%v want=[linear.weight]", report.Dropped)
	}
	if len(report.Missing) != 0 {
		t.Fatalf("missing: got=%v want empty", report.Missing)
	}

	after, _ := wider.Params().Get("linear.weight")
	for i := range beforeData {
		if after.Data[i] != beforeData[i] {
			t.Fatal("dropped parameter must keep its own values")
		}
	}
	wantBias, _ := source.Params().Get("linear.bias")
	gotBias, _ := wider.Params().Get("linear.bias")
	for i := range wantBias.Data {
		if gotBias.Data[i] != wantBias.Data[i] {
			t.Fatal("matching parameter must be loaded")
		}
	}

	if _, err := wider.Params().LoadState(state, true); err == nil {
		t.Fatal("strict load with mismatched shapes must fail")
	}
}

func TestDecode(t *testing.T) {
	score := func(best int) []float64 {
		frame := []float64{0, 0, 0}
		frame[best] = 1
		return frame
	}

	got := Decode([][]float64{score(1), score(1), score(0), score(2), score(2)}, 0)
	want := []int{1, 2}
	if len(got) != len(want) {
		t.Fatalf("decoded length: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("token %d: got=%d want=%d", i, got[i], want[i])
		}
	}

	// A blank between repeats keeps both.
	got = Decode([][]float64{score(1), score(0), score(1)}, 0)
	if len(got) != 2 || got[0] != 1 || got[1] != 1 {
		t.Fatalf("blank-separated repeat: got=%v want=[1 1]", got)
	}
}

func TestAdamStateRoundTripContinuesIdentically(t *testing.T) {
	frames, target := trainingFrames()

	modelA, err := NewLinear(2, 3, 5)
	if err != nil {
		t.Fatalf("new linear: %v", err)
	}
	optA, err := NewAdam(0.01, 0.9, 0.999, 1e-8)
	if err != nil {
		t.Fatalf("new adam: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := modelA.Backward(frames, target); err != nil {
			t.Fatalf("backward: %v", err)
		}
		if err := optA.Step(modelA.Params()); err != nil {
			t.Fatalf("step: %v", err)
		}
		modelA.Params().ZeroGrad()
	}

	paramState := modelA.Params().State()
	optState := optA.State()

	modelB, err := NewLinear(2, 3, 77)
	if err != nil {
		t.Fatalf("new linear: %v", err)
	}
	if _, err := modelB.Params().LoadState(paramState, true); err != nil {
		t.Fatalf("load params: %v", err)
	}
	optB, err := NewAdam(0.01, 0.9, 0.999, 1e-8)
	if err != nil {
		t.Fatalf("new adam: %v", err)
	}
	if err := optB.Restore(optState); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for _, pair := range []struct {
		model *Linear
		opt   *Adam
	}{{modelA, optA}, {modelB, optB}} {
		if _, err := pair.model.Backward(frames, target); err != nil {
			t.Fatalf("backward: %v", err)
		}
		if err := pair.opt.Step(pair.model.Params()); err != nil {
			t.Fatalf("step: %v", err)
		}
		pair.model.Params().ZeroGrad()
	}

	for _, name := range modelA.Params().Names() {
		want, _ := modelA.Params().Get(name)
		got, _ := modelB.Params().Get(name)
		for i := range want.Data {
			if got.Data[i] != want.Data[i] {
				t.Fatalf("%s[%d] diverged after resume: got=%v want=%v", name, i, got.Data[i], want.Data[i])
			}
		}
	}
}

func TestOptimizerKindMismatch(t *testing.T) {
	sgd, err := NewSGD(0.1, 0.9)
	if err != nil {
		t.Fatalf("new sgd: %v", err)
	}
	adam, err := NewAdam(0.1, 0.9, 0.999, 1e-8)
	if err != nil {
		t.Fatalf("new adam: %v", err)
	}
	if err := adam.Restore(sgd.State()); err == nil {
		t.Fatal("expected kind mismatch error")
	}
	if err := sgd.Restore(adam.State()); err == nil {
		t.Fatal("expected kind mismatch error")
	}
}

func TestActivationFromName(t *testing.T) {
	cases := []struct {
		name      string
		in        float64
		wantFn    float64
		wantPrime float64
	}{
		{"tanh", 0, 0, 1},
		{"relu", -2, 0, 0},
		{"relu", 2, 2, 1},
		{"leaky_relu", -2, -0.02, 0.01},
		{"sigmoid", 0, 0.5, 0.25},
	}
	for _, tc := range cases {
		act, err := ActivationFromName(tc.name)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		out := act.Fn(tc.in)
		if math.Abs(out-tc.wantFn) > 1e-12 {
			t.Fatalf("%s(%v) got=%v want=%v", tc.name, tc.in, out, tc.wantFn)
		}
		if got := act.Prime(out); math.Abs(got-tc.wantPrime) > 1e-12 {
			t.Fatalf("%s prime at %v got=%v want=%v", tc.name, out, got, tc.wantPrime)
		}
	}

	act, err := ActivationFromName("")
	if err != nil || act.Name != "tanh" {
		t.Fatalf("empty name got=%q err=%v", act.Name, err)
	}
	if _, err := ActivationFromName("swish"); err == nil {
		t.Fatal("expected error for unknown activation")
	}
}
