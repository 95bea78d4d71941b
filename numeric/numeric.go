// Package numeric supplies the integer traits and sign-safe shift
// primitives every other module builds on: query signedness and
// range, and shift right without destroying two's-complement sign
// bits carried in unsigned storage.
package numeric

import (
	"reflect"

	"golang.org/x/exp/constraints"
)

// BitWidth returns the bit width of T, read through reflect. It is
// called on every use of ShiftRight (for unsigned S), Abs, IsNegative
// and MinValue, and by the auto-ranger's attenuation search.
func BitWidth[T constraints.Integer]() int {
	var zero T
	return reflect.TypeOf(zero).Bits()
}

// IsSigned reports whether T is a signed integer type.
func IsSigned[T constraints.Integer]() bool {
	return ^T(0) < 0
}

// MinValue returns the minimum representable value of T.
func MinValue[T constraints.Integer]() T {
	if !IsSigned[T]() {
		return T(0)
	}
	return T(1) << uint(BitWidth[T]()-1)
}

// MaxValue returns the maximum representable value of T.
func MaxValue[T constraints.Integer]() T {
	if !IsSigned[T]() {
		return ^T(0)
	}
	return ^MinValue[T]()
}

// Asr is the arithmetic shift right for a signed integer type: Go's
// native >> on a signed operand already preserves sign, so this is a
// thin, explicitly-named wrapper used where callers need to state the
// intent (and where a unified shift would be wrong for the unsigned
// case handled by AsrU).
func Asr[S constraints.Signed](x S, k int) S {
	return x >> uint(k)
}

// AsrU performs a signed-logical shift right on unsigned storage that
// is carrying two's-complement signed values: if x, reinterpreted as
// signed, is negative, negate it, shift logically, then negate again;
// otherwise shift logically. A plain x>>k on an unsigned type would
// instead rotate in zeros from the top and destroy the sign.
func AsrU[S constraints.Unsigned](x S, k int) S {
	signBit := S(1) << uint(BitWidth[S]()-1)
	if x&signBit != 0 {
		negated := ^x + 1
		shifted := negated >> uint(k)
		return ^shifted + 1
	}
	return x >> uint(k)
}

// ShiftRight dispatches to Asr or AsrU based on the runtime-constant
// signedness of S, so generic modules over S (which may be
// instantiated with either a signed or an unsigned type carrying
// signed semantics) can call one function and get the correct
// behavior in both cases.
func ShiftRight[S constraints.Integer](x S, k int) S {
	if IsSigned[S]() {
		return x >> uint(k)
	}
	return asrUGeneric(x, k)
}

// asrUGeneric is AsrU without the constraints.Unsigned constraint, so
// ShiftRight can call it uniformly for any Integer S that turns out to
// be unsigned at instantiation.
func asrUGeneric[S constraints.Integer](x S, k int) S {
	signBit := S(1) << uint(BitWidth[S]()-1)
	if x&signBit != 0 {
		negated := ^x + 1
		shifted := negated >> uint(k)
		return ^shifted + 1
	}
	return x >> uint(k)
}

// FastModulo computes sample mod modulus assuming the quotient is
// known to lie in [0, 2^subcount), by repeated compare-and-subtract
// instead of division, the same cost model a pipelined hardware
// implementation pays.
func FastModulo[S constraints.Integer](sample S, modulus S, subcount int) S {
	for k := subcount - 1; k >= 0; k-- {
		shifted := modulus << uint(k)
		if sample >= shifted {
			sample -= shifted
		}
	}
	return sample
}

// Abs returns the sign-safe absolute value of a level-shifted sample,
// dispatching on signedness rather than assuming S is signed. The
// analytic estimator needs |v| whether S is a signed type or unsigned
// storage carrying signed values.
func Abs[S constraints.Integer](x S) S {
	if !IsSigned[S]() {
		signBit := S(1) << uint(BitWidth[S]()-1)
		if x&signBit != 0 {
			return ^x + 1
		}
		return x
	}
	if x < 0 {
		return -x
	}
	return x
}

// IsNegative reports whether x, interpreted as two's-complement,
// represents a negative value, regardless of whether S itself is a
// Go signed or unsigned type.
func IsNegative[S constraints.Integer](x S) bool {
	if IsSigned[S]() {
		return x < 0
	}
	signBit := S(1) << uint(BitWidth[S]()-1)
	return x&signBit != 0
}
