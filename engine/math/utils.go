package math

import "golang.org/x/exp/constraints"

// AlignUp rounds v up to the next multiple of alignment, which must be a
// power of two. An alignment of zero leaves v unchanged.
func AlignUp[T constraints.Unsigned](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// IsAligned reports whether v is a multiple of alignment.
func IsAligned[T constraints.Unsigned](v, alignment T) bool {
	if alignment == 0 {
		return true
	}
	return v%alignment == 0
}

// IsPowerOfTwo reports whether v is a non zero power of two.
func IsPowerOfTwo[T constraints.Unsigned](v T) bool {
	return v != 0 && v&(v-1) == 0
}
