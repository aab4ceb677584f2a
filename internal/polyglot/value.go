package polyglot

import (
	"context"
	"math"
)

// Kind classifies a guest value for conversion to the host
type Kind int

const (
	KindNull Kind = iota
	KindExecutable
	KindString
	KindNumeric
	KindOpaque
	KindHashLike
	KindMemberBearing
	KindFallback
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindExecutable:
		return "executable"
	case KindString:
		return "string"
	case KindNumeric:
		return "numeric"
	case KindOpaque:
		return "opaque"
	case KindHashLike:
		return "hash-like"
	case KindMemberBearing:
		return "member-bearing"
	default:
		return "fallback"
	}
}

// Entry is one key/value pair of a hash-like guest value
type Entry struct {
	Key   Value
	Value Value
}

// Value is the host view of a value produced by a guest engine. Each language
// adapter implements it over its native values. Accessors only have to answer
// for the kinds they belong to; everything else returns the zero result
type Value interface {
	Kind() Kind

	// AsString is valid for KindString
	AsString() string

	// AsNumber is valid for KindNumeric. It reports false when the number has
	// no int64 or float64 form (big integers)
	AsNumber() (Number, bool)

	// AsOpaque is valid for KindOpaque and returns the wrapped host value
	AsOpaque() any

	// Entries is valid for KindHashLike
	Entries() ([]Entry, error)

	// MemberKeys is valid for KindMemberBearing
	MemberKeys() []string

	// Member looks a named member up on hash-like and member-bearing values
	Member(name string) (Value, bool)

	// Elements returns the items of an indexable collection
	Elements() ([]Value, bool)

	// Call invokes an executable value with no arguments. The call is
	// interrupted when ctx is done
	Call(ctx context.Context) (Value, error)

	// Export is the best-effort coercion used for KindFallback
	Export() (any, error)
}

// Number is a guest numeric value. Integer-typed engines set IsInt
type Number struct {
	Int   int64
	Float float64
	IsInt bool
}

// Narrow returns the narrowest of int32, int64, float32 and float64 that holds
// the number exactly, tested in that order
func (n Number) Narrow() any {
	if n.IsInt {
		if n.Int >= math.MinInt32 && n.Int <= math.MaxInt32 {
			return int32(n.Int)
		}
		return n.Int
	}

	f := n.Float
	if f == math.Trunc(f) && !math.IsInf(f, 0) && !(f == 0 && math.Signbit(f)) {
		if f >= math.MinInt32 && f <= math.MaxInt32 {
			return int32(f)
		}
		if f >= -(1<<63) && f < (1<<63) {
			return int64(f)
		}
	}
	if float64(float32(f)) == f {
		return float32(f)
	}
	return f
}
