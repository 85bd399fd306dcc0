package fixedpoint

import (
	"math/big"
	"testing"
)

func TestAddSubRoundTrip(t *testing.T) {
	a := FromInt64(7)
	b := FromInt64(3)
	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if sum.Cmp(FromInt64(10)) != 0 {
		t.Fatalf("unexpected sum: %s", sum)
	}
	diff, err := sum.Sub(b)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff.Cmp(a) != 0 {
		t.Fatalf("unexpected diff: %s", diff)
	}
}

func TestMulDivExact(t *testing.T) {
	half, err := FromFraction(1, 2)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	ten := FromInt64(10)
	five, err := ten.Mul(half)
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if five.Cmp(FromInt64(5)) != 0 {
		t.Fatalf("unexpected product: %s", five)
	}
	back, err := five.Div(half)
	if err != nil {
		t.Fatalf("div: %v", err)
	}
	if back.Cmp(ten) != 0 {
		t.Fatalf("unexpected quotient: %s", back)
	}
}

func TestDivByZero(t *testing.T) {
	if _, err := FromInt64(1).Div(Zero()); err != ErrDivideByZero {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
}

func TestOverflow(t *testing.T) {
	huge := mustWrap(new(big.Int).Lsh(big.NewInt(1), 2*FractionalBits-2))
	if _, err := huge.Mul(FromInt64(1000)); err != ErrOverflow {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestNegRoundingSymmetry(t *testing.T) {
	third, err := FromFraction(1, 3)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	negThird := third.Neg()
	prod, err := third.Add(negThird)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !prod.IsZero() {
		t.Fatalf("expected zero, got %s", prod)
	}
}

func TestBytes16RoundTrip(t *testing.T) {
	cases := []Fixed{FromInt64(0), FromInt64(1), FromInt64(-1), FromInt64(123456789)}
	for _, c := range cases {
		neg := c.Neg()
		for _, v := range []Fixed{c, neg} {
			b := v.Bytes16()
			back := FromBytes16(b)
			if back.Cmp(v) != 0 {
				t.Fatalf("round trip mismatch: %s != %s", back, v)
			}
		}
	}
}

func TestStringExactness(t *testing.T) {
	half, err := FromFraction(1, 2)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	if got := half.String(); got != "0.50000000000000000000" {
		t.Fatalf("unexpected string: %s", got)
	}
	negTwo := FromInt64(-2)
	if got := negTwo.String(); got != "-2.00000000000000000000" {
		t.Fatalf("unexpected string: %s", got)
	}
}

func TestFromStringRoundTripsThroughString(t *testing.T) {
	f, err := FromString("0.0005")
	if err != nil {
		t.Fatalf("from string: %v", err)
	}
	want, err := FromFraction(5, 10000)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	if f.Cmp(want) != 0 {
		t.Fatalf("FromString(0.0005) = %s, want %s", f.String(), want.String())
	}

	neg, err := FromString("-12.5")
	if err != nil {
		t.Fatalf("from string: %v", err)
	}
	if got := neg.String(); got != "-12.50000000000000000000" {
		t.Fatalf("unexpected string: %s", got)
	}
}

func TestFromStringInvalidDecimal(t *testing.T) {
	if _, err := FromString("not-a-number"); err == nil {
		t.Fatalf("expected error for invalid decimal")
	}
}

func TestMarshalUnmarshalTextRoundTrip(t *testing.T) {
	original, err := FromFraction(3, 8)
	if err != nil {
		t.Fatalf("from fraction: %v", err)
	}
	text, err := original.MarshalText()
	if err != nil {
		t.Fatalf("marshal text: %v", err)
	}
	var decoded Fixed
	if err := decoded.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal text: %v", err)
	}
	if decoded.Cmp(original) != 0 {
		t.Fatalf("round trip mismatch: got %s, want %s", decoded.String(), original.String())
	}
}

func TestExpZeroAndOne(t *testing.T) {
	got, err := Zero().Exp()
	if err != nil {
		t.Fatalf("exp(0): %v", err)
	}
	if got.Cmp(One()) != 0 {
		t.Fatalf("exp(0) should be exactly 1, got %s", got)
	}
}

func TestExpLn2IsTwo(t *testing.T) {
	ln2 := Fixed{bits: new(big.Int).Set(ln2Scaled)}
	got, err := ln2.Exp()
	if err != nil {
		t.Fatalf("exp(ln2): %v", err)
	}
	two := FromInt64(2)
	diff, err := got.Sub(two)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff.Abs().Cmp(epsilon()) > 0 {
		t.Fatalf("exp(ln2) too far from 2: got %s", got)
	}
}

func TestExpOutOfRange(t *testing.T) {
	if _, err := FromInt64(41).Exp(); err != ErrRange {
		t.Fatalf("expected ErrRange, got %v", err)
	}
	if _, err := FromInt64(-41).Exp(); err != ErrRange {
		t.Fatalf("expected ErrRange, got %v", err)
	}
}

func TestLnDomainError(t *testing.T) {
	if _, err := Zero().Ln(); err != ErrDomain {
		t.Fatalf("expected ErrDomain for ln(0), got %v", err)
	}
	if _, err := FromInt64(-1).Ln(); err != ErrDomain {
		t.Fatalf("expected ErrDomain for ln(-1), got %v", err)
	}
}

func TestLnExpRoundTrip(t *testing.T) {
	for _, n := range []int64{1, 2, 5, 10, 20} {
		x := FromInt64(n)
		y, err := x.Ln()
		if err != nil {
			t.Fatalf("ln(%d): %v", n, err)
		}
		back, err := y.Exp()
		if err != nil {
			t.Fatalf("exp(ln(%d)): %v", n, err)
		}
		diff, err := back.Sub(x)
		if err != nil {
			t.Fatalf("sub: %v", err)
		}
		if diff.Abs().Cmp(epsilon()) > 0 {
			t.Fatalf("ln/exp round trip drifted for %d: got %s want %s", n, back, x)
		}
	}
}

func TestSqrtKnownValues(t *testing.T) {
	cases := map[int64]int64{4: 2, 9: 3, 16: 4, 25: 5}
	for input, want := range cases {
		got, err := FromInt64(input).Sqrt()
		if err != nil {
			t.Fatalf("sqrt(%d): %v", input, err)
		}
		diff, err := got.Sub(FromInt64(want))
		if err != nil {
			t.Fatalf("sub: %v", err)
		}
		if diff.Abs().Cmp(epsilon()) > 0 {
			t.Fatalf("sqrt(%d) = %s, want close to %d", input, got, want)
		}
	}
}

func TestSqrtNegativeDomainError(t *testing.T) {
	if _, err := FromInt64(-4).Sqrt(); err != ErrDomain {
		t.Fatalf("expected ErrDomain, got %v", err)
	}
}

func TestPowIntegerExponent(t *testing.T) {
	got, err := Pow(FromInt64(2), FromInt64(10))
	if err != nil {
		t.Fatalf("pow: %v", err)
	}
	diff, err := got.Sub(FromInt64(1024))
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	if diff.Abs().Cmp(epsilon()) > 0 {
		t.Fatalf("2^10 = %s, want close to 1024", got)
	}
}

// epsilon returns the accuracy tolerance used across the iterative
// functions' tests, comfortably above 2^-40 to absorb table-lookup and
// Newton-step rounding without masking a real regression.
func epsilon() Fixed {
	e, err := FromFraction(1, 1_000_000)
	if err != nil {
		panic(err)
	}
	return e
}
