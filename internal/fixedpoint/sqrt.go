package fixedpoint

import "math/big"

// Sqrt returns the square root of f via Newton-Raphson, fixed at six
// iterations as specified. f must be non-negative.
func (f Fixed) Sqrt() (Fixed, error) {
	if f.Sign() < 0 {
		return Fixed{}, ErrDomain
	}
	if f.IsZero() {
		return Zero(), nil
	}

	two := FromInt64(2)
	// Seed with a power of two from the bit length of the scaled value:
	// sqrt(bits * 2^64) lies within a factor of two of 2^((bitlen+64)/2),
	// close enough for six Newton steps to converge for any magnitude.
	seedExp := (f.bigOrZero().BitLen() + FractionalBits) / 2
	guess := Fixed{bits: new(big.Int).Lsh(big.NewInt(1), uint(seedExp))}

	const iterations = 6
	for i := 0; i < iterations; i++ {
		quotient, err := f.Div(guess)
		if err != nil {
			return Fixed{}, err
		}
		sum, err := guess.Add(quotient)
		if err != nil {
			return Fixed{}, err
		}
		guess, err = sum.Div(two)
		if err != nil {
			return Fixed{}, err
		}
	}
	return guess, nil
}
