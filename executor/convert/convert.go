// Package convert moves host data in and out of the 32-bit word layout used by
// device buffers.
package convert

import (
	"math"
	"sync"
)

var wordPool = sync.Pool{
	New: func() interface{} {
		b := make([]uint32, 0, 4096)
		return &b
	},
}

// GetWords returns a pooled word slice of length n.
func GetWords(n int) *[]uint32 {
	p := wordPool.Get().(*[]uint32)
	if cap(*p) < n {
		*p = make([]uint32, n)
	}
	*p = (*p)[:n]
	return p
}

// PutWords returns a slice obtained from GetWords to the pool.
func PutWords(p *[]uint32) {
	wordPool.Put(p)
}

// Float32sToWords writes the IEEE-754 bits of src into dst.
func Float32sToWords(dst []uint32, src []float32) {
	for i, v := range src {
		dst[i] = math.Float32bits(v)
	}
}

// WordsToFloat32s is the inverse of Float32sToWords.
func WordsToFloat32s(dst []float32, src []uint32) {
	for i, w := range src {
		dst[i] = math.Float32frombits(w)
	}
}

// Words returns a newly allocated word copy of src.
func Words(src []float32) []uint32 {
	out := make([]uint32, len(src))
	for i, v := range src {
		out[i] = math.Float32bits(v)
	}
	return out
}

// Floats returns a newly allocated float copy of src.
func Floats(src []uint32) []float32 {
	out := make([]float32, len(src))
	for i, w := range src {
		out[i] = math.Float32frombits(w)
	}
	return out
}
