package nn

import (
	"fmt"
	"math"
)

const (
	KindSGD  = "sgd"
	KindAdam = "adam"
)

// Optimizer applies accumulated gradients to parameters. Its state is part of
// the resumable training state.
type Optimizer interface {
	Step(p *Parameters) error
	State() OptimizerState
	Restore(state OptimizerState) error
}

type OptimizerState struct {
	Kind         string            `json:"kind"`
	Steps        int64             `json:"steps"`
	Velocity     map[string]Tensor `json:"velocity,omitempty"`
	FirstMoment  map[string]Tensor `json:"first_moment,omitempty"`
	SecondMoment map[string]Tensor `json:"second_moment,omitempty"`
}

func cloneTensorMap(in map[string]Tensor) map[string]Tensor {
	if in == nil {
		return nil
	}
	out := make(map[string]Tensor, len(in))
	for name, t := range in {
		out[name] = t.Clone()
	}
	return out
}

type SGD struct {
	lr       float64
	momentum float64
	steps    int64
	velocity map[string]Tensor
}

func NewSGD(lr, momentum float64) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0")
	}
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("momentum must be in [0, 1)")
	}
	return &SGD{lr: lr, momentum: momentum, velocity: make(map[string]Tensor)}, nil
}

func (o *SGD) Step(p *Parameters) error {
	o.steps++
	for _, name := range p.Names() {
		t, _ := p.Get(name)
		g, _ := p.Grad(name)
		if o.momentum == 0 {
			for i := range t.Data {
				t.Data[i] -= o.lr * g.Data[i]
			}
			continue
		}
		v, ok := o.velocity[name]
		if !ok || !ShapeEqual(v.Shape, t.Shape) {
			v = NewTensor(t.Shape...)
			o.velocity[name] = v
		}
		for i := range t.Data {
			v.Data[i] = o.momentum*v.Data[i] + g.Data[i]
			t.Data[i] -= o.lr * v.Data[i]
		}
	}
	return nil
}

func (o *SGD) State() OptimizerState {
	return OptimizerState{
		Kind:     KindSGD,
		Steps:    o.steps,
		Velocity: cloneTensorMap(o.velocity),
	}
}

func (o *SGD) Restore(state OptimizerState) error {
	if state.Kind != KindSGD {
		return fmt.Errorf("optimizer state kind mismatch: got=%s want=%s", state.Kind, KindSGD)
	}
	o.steps = state.Steps
	o.velocity = cloneTensorMap(state.Velocity)
	if o.velocity == nil {
		o.velocity = make(map[string]Tensor)
	}
	return nil
}

type Adam struct {
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	steps  int64
	first  map[string]Tensor
	second map[string]Tensor
}

func NewAdam(lr, beta1, beta2, eps float64) (*Adam, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be > 0")
	}
	if beta1 < 0 || beta1 >= 1 {
		return nil, fmt.Errorf("beta1 must be in [0, 1)")
	}
	if beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("beta2 must be in [0, 1)")
	}
	if eps <= 0 {
		return nil, fmt.Errorf("epsilon must be > 0")
	}
	return &Adam{
		lr: lr, beta1: beta1, beta2: beta2, eps: eps,
		first:  make(map[string]Tensor),
		second: make(map[string]Tensor),
	}, nil
}

func (o *Adam) Step(p *Parameters) error {
	o.steps++
	correction1 := 1 - math.Pow(o.beta1, float64(o.steps))
	correction2 := 1 - math.Pow(o.beta2, float64(o.steps))
	for _, name := range p.Names() {
		t, _ := p.Get(name)
		g, _ := p.Grad(name)
		m, ok := o.first[name]
		if !ok || !ShapeEqual(m.Shape, t.Shape) {
			m = NewTensor(t.Shape...)
			o.first[name] = m
		}
		v, ok := o.second[name]
		if !ok || !ShapeEqual(v.Shape, t.Shape) {
			v = NewTensor(t.Shape...)
			o.second[name] = v
		}
		for i := range t.Data {
			m.Data[i] = o.beta1*m.Data[i] + (1-o.beta1)*g.Data[i]
			v.Data[i] = o.beta2*v.Data[i] + (1-o.beta2)*g.Data[i]*g.Data[i]
			mHat := m.Data[i] / correction1
			vHat := v.Data[i] / correction2
			t.Data[i] -= o.lr * mHat / (math.Sqrt(vHat) + o.eps)
		}
	}
	return nil
}

func (o *Adam) State() OptimizerState {
	return OptimizerState{
		Kind:         KindAdam,
		Steps:        o.steps,
		FirstMoment:  cloneTensorMap(o.first),
		SecondMoment: cloneTensorMap(o.second),
	}
}

func (o *Adam) Restore(state OptimizerState) error {
	if state.Kind != KindAdam {
		return fmt.Errorf("optimizer state kind mismatch: got=%s want=%s", state.Kind, KindAdam)
	}
	o.steps = state.Steps
	o.first = cloneTensorMap(state.FirstMoment)
	o.second = cloneTensorMap(state.SecondMoment)
	if o.first == nil {
		o.first = make(map[string]Tensor)
	}
	if o.second == nil {
		o.second = make(map[string]Tensor)
	}
	return nil
}
