// Package objectives provides named benchmark functions that optimization
// jobs can minimize.
package objectives

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize/functions"

	"github.com/andrewcowman/HillClimbing/internal/optimization"
)

// Objective describes a benchmark function.
type Objective struct {
	Name        string
	Description string
	// Dims is the required dimensionality, or 0 when any count of at least
	// MinDims works.
	Dims    int
	MinDims int
	// Minimum is the known global minimum value.
	Minimum float64
	Func    optimization.ObjectiveFunction
}

// CheckDims reports whether the objective accepts n parameters.
func (o Objective) CheckDims(n int) error {
	if o.Dims != 0 && n != o.Dims {
		return fmt.Errorf("objective %q needs exactly %d dimensions, got %d", o.Name, o.Dims, n)
	}
	if n < o.MinDims || n < 1 {
		return fmt.Errorf("objective %q needs at least %d dimensions, got %d", o.Name, max(o.MinDims, 1), n)
	}
	return nil
}

func pure(f func([]float64) float64) optimization.ObjectiveFunction {
	return func(x []float64) (float64, error) {
		return f(x), nil
	}
}

func sphere(x []float64) float64 {
	return floats.Dot(x, x)
}

func shiftedSphere(x []float64) float64 {
	d := make([]float64, len(x))
	copy(d, x)
	floats.AddConst(-3, d)
	return floats.Dot(d, d)
}

func rastrigin(x []float64) float64 {
	sum := 10 * float64(len(x))
	for _, v := range x {
		sum += v*v - 10*math.Cos(2*math.Pi*v)
	}
	return sum
}

var registry = map[string]Objective{
	"sphere": {
		Name:        "sphere",
		Description: "sum of squares, minimum 0 at the origin",
		MinDims:     1,
		Func:        pure(sphere),
	},
	"shifted-sphere": {
		Name:        "shifted-sphere",
		Description: "sum of (x-3)^2, minimum 0 at (3, ..., 3)",
		MinDims:     1,
		Func:        pure(shiftedSphere),
	},
	"rastrigin": {
		Name:        "rastrigin",
		Description: "multimodal, minimum 0 at the origin",
		MinDims:     1,
		Func:        pure(rastrigin),
	},
	"rosenbrock": {
		Name:        "rosenbrock",
		Description: "extended Rosenbrock valley, minimum 0 at (1, ..., 1)",
		MinDims:     2,
		Func:        pure(functions.ExtendedRosenbrock{}.Func),
	},
	"beale": {
		Name:        "beale",
		Description: "Beale function, minimum 0 at (3, 0.5)",
		Dims:        2,
		Func:        pure(functions.Beale{}.Func),
	},
	"wood": {
		Name:        "wood",
		Description: "Wood function, minimum 0 at (1, 1, 1, 1)",
		Dims:        4,
		Func:        pure(functions.Wood{}.Func),
	},
}

// Lookup returns the objective registered under name.
func Lookup(name string) (Objective, bool) {
	o, ok := registry[name]
	return o, ok
}

// Names returns the registered objective names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered objective sorted by name.
func All() []Objective {
	names := Names()
	all := make([]Objective, len(names))
	for i, name := range names {
		all[i] = registry[name]
	}
	return all
}
