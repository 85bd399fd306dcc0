package fixedpoint

// Ln returns the natural logarithm of f. f must be strictly positive.
//
// The forward function Exp is already implemented to the required accuracy,
// so Ln is found by Newton-Raphson refinement against it: given a guess y,
// exp(y) - f drives the correction y -= (exp(y)-f)/exp(y), i.e.
// y_{n+1} = y_n + 1 - f/exp(y_n). The seed comes from the same range
// reduction Exp uses, run in reverse: count how many times f can be halved
// before landing in [1, 2) to get an integer part k, then seed the
// fractional remainder at the midpoint of that bracket.
func (f Fixed) Ln() (Fixed, error) {
	if f.Sign() <= 0 {
		return Fixed{}, ErrDomain
	}

	// Reduce to m in [1, 2) with f = m * 2^k, exactly via bit length on the
	// scaled integer (no floats involved).
	bits := f.bigOrZero()
	k := 0
	m := Fixed{bits: bits}
	two := FromInt64(2)
	one := One()
	for m.Cmp(two) >= 0 {
		var err error
		m, err = m.Div(two)
		if err != nil {
			return Fixed{}, err
		}
		k++
	}
	for m.Cmp(one) < 0 {
		var err error
		m, err = m.Mul(two)
		if err != nil {
			return Fixed{}, err
		}
		k--
	}

	// ln(f) = ln(m) + k*ln2. Seed ln(m) with (m-1), a reasonable starting
	// point since m is in [1, 2).
	guess, err := m.Sub(one)
	if err != nil {
		return Fixed{}, err
	}

	const iterations = 12
	for i := 0; i < iterations; i++ {
		expGuess, err := guess.Exp()
		if err != nil {
			return Fixed{}, err
		}
		ratio, err := m.Div(expGuess)
		if err != nil {
			return Fixed{}, err
		}
		correction, err := ratio.Sub(one)
		if err != nil {
			return Fixed{}, err
		}
		guess, err = guess.Add(correction)
		if err != nil {
			return Fixed{}, err
		}
	}

	kLn2, err := FromInt64(int64(k)).Mul(Fixed{bits: ln2Scaled})
	if err != nil {
		return Fixed{}, err
	}
	return guess.Add(kLn2)
}
