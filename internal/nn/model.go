package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Model maps a sequence of feature frames to per-frame class scores. Backward
// accumulates gradients of the frame-aligned cross-entropy loss into the
// gradient buffers without zeroing them first, so losses accumulate across an
// update window.
type Model interface {
	Params() *Parameters
	Forward(frames [][]float64) [][]float64
	Backward(frames [][]float64, target []int) (float64, error)
}

type Linear struct {
	inDim   int
	classes int
	params  *Parameters
	w, b    Tensor
}

func NewLinear(inDim, classes int, seed int64) (*Linear, error) {
	if inDim <= 0 {
		return nil, fmt.Errorf("input dimension must be > 0")
	}
	if classes <= 1 {
		return nil, fmt.Errorf("class count must be > 1")
	}

	rng := rand.New(rand.NewSource(seed))
	w := NewTensor(classes, inDim)
	scale := 1.0 / math.Sqrt(float64(inDim))
	for i := range w.Data {
		w.Data[i] = (rng.Float64()*2 - 1) * scale
	}
	b := NewTensor(classes)

	params := NewParameters()
	if err := params.Add("linear.weight", w); err != nil {
		return nil, err
	}
	if err := params.Add("linear.bias", b); err != nil {
		return nil, err
	}
	return &Linear{inDim: inDim, classes: classes, params: params, w: w, b: b}, nil
}

func (m *Linear) Params() *Parameters { return m.params }

func (m *Linear) Forward(frames [][]float64) [][]float64 {
	out := make([][]float64, len(frames))
	for t, frame := range frames {
		out[t] = m.scores(frame)
	}
	return out
}

func (m *Linear) scores(frame []float64) []float64 {
	scores := make([]float64, m.classes)
	for c := 0; c < m.classes; c++ {
		sum := m.b.Data[c]
		row := m.w.Data[c*m.inDim : (c+1)*m.inDim]
		for d := 0; d < m.inDim && d < len(frame); d++ {
			sum += row[d] * frame[d]
		}
		scores[c] = sum
	}
	return scores
}

func (m *Linear) Backward(frames [][]float64, target []int) (float64, error) {
	n := len(frames)
	if len(target) < n {
		n = len(target)
	}
	if n == 0 {
		return 0, nil
	}

	gw, _ := m.params.Grad("linear.weight")
	gb, _ := m.params.Grad("linear.bias")
	inv := 1.0 / float64(n)
	total := 0.0
	for t := 0; t < n; t++ {
		frame := frames[t]
		if len(frame) != m.inDim {
			return 0, fmt.Errorf("frame %d: got %d features, want %d", t, len(frame), m.inDim)
		}
		label := target[t]
		if label < 0 || label >= m.classes {
			return 0, fmt.Errorf("frame %d: label %d outside [0,%d)", t, label, m.classes)
		}

		probs := softmax(m.scores(frame))
		total += -math.Log(math.Max(probs[label], 1e-12))
		for c := 0; c < m.classes; c++ {
			delta := probs[c]
			if c == label {
				delta--
			}
			delta *= inv
			gb.Data[c] += delta
			row := gw.Data[c*m.inDim : (c+1)*m.inDim]
			for d := 0; d < m.inDim; d++ {
				row[d] += delta * frame[d]
			}
		}
	}
	return total * inv, nil
}

type MLP struct {
	inDim   int
	hidden  int
	classes int
	act     Activation
	params  *Parameters
	w1, b1  Tensor
	w2, b2  Tensor
}

func NewMLP(inDim, hidden, classes int, seed int64, activation string) (*MLP, error) {
	if inDim <= 0 {
		return nil, fmt.Errorf("input dimension must be > 0")
	}
	if hidden <= 0 {
		return nil, fmt.Errorf("hidden size must be > 0")
	}
	if classes <= 1 {
		return nil, fmt.Errorf("class count must be > 1")
	}
	act, err := ActivationFromName(activation)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	w1 := NewTensor(hidden, inDim)
	scale1 := 1.0 / math.Sqrt(float64(inDim))
	for i := range w1.Data {
		w1.Data[i] = (rng.Float64()*2 - 1) * scale1
	}
	b1 := NewTensor(hidden)
	w2 := NewTensor(classes, hidden)
	scale2 := 1.0 / math.Sqrt(float64(hidden))
	for i := range w2.Data {
		w2.Data[i] = (rng.Float64()*2 - 1) * scale2
	}
	b2 := NewTensor(classes)

	params := NewParameters()
	for _, item := range []struct {
		name string
		t    Tensor
	}{
		{"mlp.w1", w1},
		{"mlp.b1", b1},
		{"mlp.w2", w2},
		{"mlp.b2", b2},
	} {
		if err := params.Add(item.name, item.t); err != nil {
			return nil, err
		}
	}
	return &MLP{
		inDim: inDim, hidden: hidden, classes: classes, act: act,
		params: params, w1: w1, b1: b1, w2: w2, b2: b2,
	}, nil
}

func (m *MLP) Params() *Parameters { return m.params }

func (m *MLP) hiddenActivations(frame []float64) []float64 {
	h := make([]float64, m.hidden)
	for j := 0; j < m.hidden; j++ {
		sum := m.b1.Data[j]
		row := m.w1.Data[j*m.inDim : (j+1)*m.inDim]
		for d := 0; d < m.inDim && d < len(frame); d++ {
			sum += row[d] * frame[d]
		}
		h[j] = m.act.Fn(sum)
	}
	return h
}

func (m *MLP) outputScores(h []float64) []float64 {
	scores := make([]float64, m.classes)
	for c := 0; c < m.classes; c++ {
		sum := m.b2.Data[c]
		row := m.w2.Data[c*m.hidden : (c+1)*m.hidden]
		for j := 0; j < m.hidden; j++ {
			sum += row[j] * h[j]
		}
		scores[c] = sum
	}
	return scores
}

func (m *MLP) Forward(frames [][]float64) [][]float64 {
	out := make([][]float64, len(frames))
	for t, frame := range frames {
		out[t] = m.outputScores(m.hiddenActivations(frame))
	}
	return out
}

func (m *MLP) Backward(frames [][]float64, target []int) (float64, error) {
	n := len(frames)
	if len(target) < n {
		n = len(target)
	}
	if n == 0 {
		return 0, nil
	}

	gw1, _ := m.params.Grad("mlp.w1")
	gb1, _ := m.params.Grad("mlp.b1")
	gw2, _ := m.params.Grad("mlp.w2")
	gb2, _ := m.params.Grad("mlp.b2")
	inv := 1.0 / float64(n)
	total := 0.0
	for t := 0; t < n; t++ {
		frame := frames[t]
		if len(frame) != m.inDim {
			return 0, fmt.Errorf("frame %d: got %d features, want %d", t, len(frame), m.inDim)
		}
		label := target[t]
		if label < 0 || label >= m.classes {
			return 0, fmt.Errorf("frame %d: label %d outside [0,%d)", t, label, m.classes)
		}

		h := m.hiddenActivations(frame)
		probs := softmax(m.outputScores(h))
		total += -math.Log(math.Max(probs[label], 1e-12))

		dh := make([]float64, m.hidden)
		for c := 0; c < m.classes; c++ {
			delta := probs[c]
			if c == label {
				delta--
			}
			delta *= inv
			gb2.Data[c] += delta
			row := m.w2.Data[c*m.hidden : (c+1)*m.hidden]
			grow := gw2.Data[c*m.hidden : (c+1)*m.hidden]
			for j := 0; j < m.hidden; j++ {
				grow[j] += delta * h[j]
				dh[j] += delta * row[j]
			}
		}
		for j := 0; j < m.hidden; j++ {
			dpre := dh[j] * m.act.Prime(h[j])
			gb1.Data[j] += dpre
			grow := gw1.Data[j*m.inDim : (j+1)*m.inDim]
			for d := 0; d < m.inDim; d++ {
				grow[d] += dpre * frame[d]
			}
		}
	}
	return total * inv, nil
}

func softmax(scores []float64) []float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	total := 0.0
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - max)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

// Decode reduces per-frame scores to a token sequence: argmax per frame,
// collapse consecutive repeats, drop the blank token.
func Decode(scores [][]float64, blank int) []int {
	out := make([]int, 0, len(scores))
	prev := -1
	for _, frame := range scores {
		if len(frame) == 0 {
			continue
		}
		best := 0
		for c, s := range frame {
			if s > frame[best] {
				best = c
			}
		}
		if best != prev && best != blank {
			out = append(out, best)
		}
		prev = best
	}
	return out
}
