package solver

// maxBisections bounds the loop once the bracket can no longer be split in
// float64 (the midpoint equals an endpoint).
const maxBisections = 200

// FindRoot locates the single sign change of f in [a, b] by bisection and
// returns the midpoint of the final bracket, whose width is at most tol.
//
// f(a) and f(b) must have strictly opposite signs; otherwise a *BracketError
// is returned and no value is produced.
func FindRoot(f Func, a, b, tol float64) (float64, error) {
	if err := checkBracket(a, b, tol); err != nil {
		return 0, err
	}

	fa, fb := f(a), f(b)
	if !(fa*fb < 0) {
		return 0, &BracketError{A: a, B: b, FA: fa, FB: fb}
	}

	for i := 0; b-a > tol && i < maxBisections; i++ {
		mid := a + (b-a)/2
		if mid <= a || mid >= b {
			break
		}

		fmid := f(mid)
		switch {
		case fmid == 0:
			return mid, nil
		case fa*fmid < 0:
			b = mid
			fb = f(b)
		case fb*fmid < 0:
			a = mid
			fa = f(a)
		default:
			// fmid is NaN: neither half can be proven to hold the root.
			return 0, &BracketError{A: a, B: b, FA: fa, FB: fb}
		}
	}

	return a + (b-a)/2, nil
}
