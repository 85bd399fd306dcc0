package fixedpoint

// Pow returns base^exponent for base > 0, computed as exp(exponent * ln(base))
// by composing the two primitives above. Used by the PM-AMM time-decay term
// and the leverage tier curve, both of which raise a fixed-point base to a
// fixed-point (possibly fractional) exponent.
func Pow(base, exponent Fixed) (Fixed, error) {
	if base.Sign() <= 0 {
		return Fixed{}, ErrDomain
	}
	lnBase, err := base.Ln()
	if err != nil {
		return Fixed{}, err
	}
	product, err := exponent.Mul(lnBase)
	if err != nil {
		return Fixed{}, err
	}
	return product.Exp()
}
