// Package switching implements the rational switching function used to weight
// pairs of atoms by their distance.
//
//	s(r) = (1 - ((r-d0)/r0)^n) / (1 - ((r-d0)/r0)^m)
//
// s is 1 for r <= d0 and 0 for r >= dmax.
package switching

import (
	"fmt"
	"math"
)

// Rational is a rational switching function.
type Rational struct {
	D0   float64 `yaml:"d0" validate:"gte=0"`
	R0   float64 `yaml:"r0" validate:"gt=0"`
	N    int     `yaml:"nn" validate:"gte=0"`
	M    int     `yaml:"mm" validate:"gte=0"`
	DMax float64 `yaml:"dmax" validate:"gte=0"`
}

// Defaults fills unset exponents and cutoff: n=6, m=2n, and dmax at the
// distance where s has decayed to about 1e-5.
func (s Rational) Defaults() Rational {
	if s.N == 0 {
		s.N = 6
	}
	if s.M == 0 {
		s.M = 2 * s.N
	}
	if s.DMax == 0 && s.M > s.N {
		s.DMax = s.D0 + s.R0*math.Pow(1e5, 1/float64(s.M-s.N))
	}
	return s
}

// Validate checks the parameters.
func (s Rational) Validate() error {
	if s.R0 <= 0 {
		return fmt.Errorf("switching function r0 must be positive, got %g", s.R0)
	}
	if s.N <= 0 || s.M <= 0 || s.N == s.M {
		return fmt.Errorf("switching function exponents must be positive and distinct, got n=%d m=%d", s.N, s.M)
	}
	if s.DMax <= s.D0 {
		return fmt.Errorf("switching function dmax %g must exceed d0 %g", s.DMax, s.D0)
	}
	return nil
}

// Cutoff returns the distance beyond which the function is zero.
func (s Rational) Cutoff() float64 { return s.DMax }

// Calculate returns s(r) and ds/dr.
func (s Rational) Calculate(r float64) (float64, float64) {
	if r >= s.DMax {
		return 0, 0
	}
	if r <= s.D0 {
		return 1, 0
	}
	x := (r - s.D0) / s.R0
	// Near x = 1 both numerator and denominator vanish; use the limit.
	if math.Abs(x-1) < 1e-8 {
		n, m := float64(s.N), float64(s.M)
		val := n / m
		der := 0.5 * n * (n - m) / m / s.R0
		return val, der
	}
	xn := math.Pow(x, float64(s.N))
	xm := math.Pow(x, float64(s.M))
	num := 1 - xn
	den := 1 - xm
	val := num / den
	dnum := -float64(s.N) * xn / x
	dden := -float64(s.M) * xm / x
	der := (dnum*den - num*dden) / (den * den) / s.R0
	return val, der
}
