package nn

import (
	"fmt"
	"sort"
)

// Tensor is a shaped, row-major flat buffer.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func NewTensor(shape ...int) Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, size)}
}

func (t Tensor) Size() int {
	size := 1
	for _, d := range t.Shape {
		size *= d
	}
	return size
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

func ShapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Parameters holds named tensors in registration order, each with a gradient
// buffer of the same shape.
type Parameters struct {
	names   []string
	tensors map[string]Tensor
	grads   map[string]Tensor
}

func NewParameters() *Parameters {
	return &Parameters{
		tensors: make(map[string]Tensor),
		grads:   make(map[string]Tensor),
	}
}

func (p *Parameters) Add(name string, t Tensor) error {
	if name == "" {
		return fmt.Errorf("parameter name is required")
	}
	if _, ok := p.tensors[name]; ok {
		return fmt.Errorf("parameter already registered: %s", name)
	}
	if len(t.Data) != t.Size() {
		return fmt.Errorf("parameter %s: data length %d does not match shape %v", name, len(t.Data), t.Shape)
	}
	p.names = append(p.names, name)
	p.tensors[name] = t
	p.grads[name] = NewTensor(t.Shape...)
	return nil
}

func (p *Parameters) Get(name string) (Tensor, bool) {
	t, ok := p.tensors[name]
	return t, ok
}

func (p *Parameters) Grad(name string) (Tensor, bool) {
	g, ok := p.grads[name]
	return g, ok
}

func (p *Parameters) Names() []string {
	return append([]string(nil), p.names...)
}

func (p *Parameters) ZeroGrad() {
	for _, g := range p.grads {
		for i := range g.Data {
			g.Data[i] = 0
		}
	}
}

// State deep-copies every tensor for checkpointing.
func (p *Parameters) State() map[string]Tensor {
	out := make(map[string]Tensor, len(p.tensors))
	for name, t := range p.tensors {
		out[name] = t.Clone()
	}
	return out
}

// LoadReport lists what a non-strict load could not place: Dropped are
// checkpoint entries with no matching name or shape, Missing are model
// parameters the checkpoint did not cover.
type LoadReport struct {
	Dropped []string
	Missing []string
}

func (r LoadReport) Clean() bool {
	return len(r.Dropped) == 0 && len(r.Missing) == 0
}

// LoadState copies matching tensors from a checkpoint state into the
// registered parameters. With strict set, any dropped or missing name is an
// error and the parameters are left untouched; otherwise mismatches are
// skipped and reported.
func (p *Parameters) LoadState(state map[string]Tensor, strict bool) (LoadReport, error) {
	var report LoadReport

	for name := range state {
		own, ok := p.tensors[name]
		if !ok || !ShapeEqual(own.Shape, state[name].Shape) {
			report.Dropped = append(report.Dropped, name)
		}
	}
	sort.Strings(report.Dropped)
	for _, name := range p.names {
		if _, ok := state[name]; !ok {
			report.Missing = append(report.Missing, name)
		}
	}

	if strict && !report.Clean() {
		return report, fmt.Errorf("strict load: dropped=%v missing=%v", report.Dropped, report.Missing)
	}

	for _, name := range p.names {
		incoming, ok := state[name]
		if !ok {
			continue
		}
		own := p.tensors[name]
		if !ShapeEqual(own.Shape, incoming.Shape) {
			continue
		}
		copy(own.Data, incoming.Data)
	}
	return report, nil
}
