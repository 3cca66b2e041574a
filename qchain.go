// Package qchain evolves a 1-D chain of two-level sites by sweeping a pairwise rotation over
// adjacent amplitudes.
//
// The package holds the single-process reference path. Domain decomposed evolution over
// several participants lives in package engine, and reproduces this path exactly.
package qchain

import (
	"math"
	"math/cmplx"
)

const (
	// Steps is the step count of the base evaluator.
	Steps = 1000
	// StepsExtended is the step count of the extended evaluator.
	StepsExtended = 10000

	DefaultDt = 0.01
	DefaultJ  = 1.0

	// bytesPerAmplitude is the size of a complex128.
	bytesPerAmplitude = 16
)

// Params are the coupling parameters shared by every participant of a run.
type Params struct {
	Dt    float64
	J     float64
	Steps int
}

// NewParams returns the compiled-in coupling with the given step count.
func NewParams(steps int) Params {
	return Params{Dt: DefaultDt, J: DefaultJ, Steps: steps}
}

// Rotation returns the pair rotation by the angle J*dt.
func (p Params) Rotation() Rotation {
	theta := p.J * p.Dt
	return Rotation{c: complex(math.Cos(theta), 0), is: complex(0, math.Sin(theta))}
}

// Rotation mixes two adjacent amplitudes.
type Rotation struct {
	c  complex128
	is complex128
}

// Apply rotates the pair (a, b). Both outputs are computed from the inputs before the update.
func (r Rotation) Apply(a, b complex128) (complex128, complex128) {
	return r.c*a - r.is*b, r.c*b - r.is*a
}

// Sweep rotates every adjacent pair of psi in place, from left to right.
// Segments of length 0 and 1 are left untouched.
func Sweep(psi []complex128, r Rotation) {
	for i := 0; i < len(psi)-1; i++ {
		psi[i], psi[i+1] = r.Apply(psi[i], psi[i+1])
	}
}

// NewChain returns n amplitudes initialized to 1.
func NewChain(n int) []complex128 {
	psi := make([]complex128, n)
	for i := range psi {
		psi[i] = 1
	}
	return psi
}

// Evolve runs the reference recurrence over the whole chain for p.Steps steps.
func Evolve(psi []complex128, p Params) {
	r := p.Rotation()
	for range p.Steps {
		Sweep(psi, r)
	}
}

// Norm2 returns the squared norm of psi.
func Norm2(psi []complex128) float64 {
	var n2 float64
	for _, v := range psi {
		a := cmplx.Abs(v)
		n2 += a * a
	}
	return n2
}

// SizeMB returns the memory held by n amplitudes in MiB.
func SizeMB(n int) float64 {
	return float64(n*bytesPerAmplitude) / (1024 * 1024)
}
