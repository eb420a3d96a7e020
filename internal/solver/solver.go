// Package solver provides the two bracketed refinement procedures used by the
// pass scanner: a bisection root finder and a grid-narrowing minimum finder.
//
// Both operate on plain scalar functions of one variable and never guess: a
// bracket that does not satisfy the procedure's precondition is reported as an
// error rather than answered approximately.
package solver

import (
	"errors"
	"fmt"
)

// Func is a continuous scalar function of one variable.
type Func func(x float64) float64

var (
	// ErrInvalidBracket is returned when a >= b or the tolerance is not positive.
	ErrInvalidBracket = errors.New("solver: invalid bracket")

	// ErrNoSignChange is matched by a *BracketError.
	ErrNoSignChange = errors.New("solver: no sign change in bracket")
)

// BracketError reports a root-finding bracket whose endpoint values do not
// have opposite signs.
type BracketError struct {
	A, B   float64 // bracket endpoints
	FA, FB float64 // function values at A and B
}

func (e *BracketError) Error() string {
	return fmt.Sprintf("solver: no sign change in [%g, %g] (f(a)=%g, f(b)=%g)", e.A, e.B, e.FA, e.FB)
}

// Is makes errors.Is(err, ErrNoSignChange) true for any *BracketError.
func (e *BracketError) Is(target error) bool {
	return target == ErrNoSignChange
}

func checkBracket(a, b, tol float64) error {
	// Written as negations so NaN inputs are rejected too.
	if !(a < b) || !(tol > 0) {
		return fmt.Errorf("%w: a=%g b=%g tol=%g", ErrInvalidBracket, a, b, tol)
	}
	return nil
}
