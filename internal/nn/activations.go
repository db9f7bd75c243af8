package nn

import (
	"fmt"
	"math"
)

const leakySlope = 0.01

// Activation is a pointwise hidden-layer nonlinearity. Prime reports the
// derivative given the activated output, which keeps the backward pass free
// of pre-activation bookkeeping.
type Activation struct {
	Name  string
	Fn    func(float64) float64
	Prime func(float64) float64
}

// ActivationFromName resolves tanh, relu, leaky_relu, or sigmoid. The empty
// name picks tanh.
func ActivationFromName(name string) (Activation, error) {
	switch name {
	case "", "tanh":
		return Activation{
			Name:  "tanh",
			Fn:    math.Tanh,
			Prime: func(a float64) float64 { return 1 - a*a },
		}, nil
	case "relu":
		return Activation{
			Name: "relu",
			Fn: func(x float64) float64 {
				if x > 0 {
					return x
				}
				return 0
			},
			Prime: func(a float64) float64 {
				if a > 0 {
					return 1
				}
				return 0
			},
		}, nil
	case "leaky_relu":
		return Activation{
			Name: "leaky_relu",
			Fn: func(x float64) float64 {
				if x > 0 {
					return x
				}
				return leakySlope * x
			},
			Prime: func(a float64) float64 {
				if a > 0 {
					return 1
				}
				return leakySlope
			},
		}, nil
	case "sigmoid":
		return Activation{
			Name:  "sigmoid",
			Fn:    func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
			Prime: func(a float64) float64 { return a * (1 - a) },
		}, nil
	default:
		return Activation{}, fmt.Errorf("unsupported activation: %s", name)
	}
}
