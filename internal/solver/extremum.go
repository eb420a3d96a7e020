package solver

// gridPoints is the number of samples taken across the bracket on every
// narrowing pass. An interior minimum shrinks the bracket to 2/(gridPoints-1)
// of its width, a minimum at an end sample to 1/(gridPoints-1).
const gridPoints = 5

// Minimum is the result of FindMin.
type Minimum struct {
	X  float64 // midpoint of the final bracket
	F  float64 // f(X)
	Lo float64 // final bracket, Hi-Lo <= tol
	Hi float64
}

// Width returns the width of the final bracket.
func (m Minimum) Width() float64 { return m.Hi - m.Lo }

// FindMin narrows [a, b] around the smallest of gridPoints evenly spaced
// samples until the bracket is no wider than tol.
//
// The bracket is assumed to hold a single local minimum. When it holds
// several, the result is the minimum among the evaluated samples and nothing
// stronger.
func FindMin(f Func, a, b, tol float64) (Minimum, error) {
	if err := checkBracket(a, b, tol); err != nil {
		return Minimum{}, err
	}

	var xs, ys [gridPoints]float64
	for i := 0; b-a > tol && i < maxBisections; i++ {
		dx := (b - a) / (gridPoints - 1)
		best := 0
		for j := range xs {
			if j == gridPoints-1 {
				xs[j] = b
			} else {
				xs[j] = a + float64(j)*dx
			}
			ys[j] = f(xs[j])
			if ys[j] < ys[best] {
				best = j
			}
		}

		var lo, hi float64
		switch best {
		case 0:
			lo, hi = xs[0], xs[1]
		case gridPoints - 1:
			lo, hi = xs[gridPoints-2], xs[gridPoints-1]
		default:
			lo, hi = xs[best-1], xs[best+1]
		}
		if lo <= a && hi >= b {
			// No further progress is representable.
			break
		}
		a, b = lo, hi
	}

	x := a + (b-a)/2
	return Minimum{X: x, F: f(x), Lo: a, Hi: b}, nil
}
