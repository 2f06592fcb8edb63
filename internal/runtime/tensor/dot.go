package tensor

// DotProduct computes the dot product of two equal-length float32 slices.
// The length of b must be at least the length of a.
func DotProduct(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}

	return sum
}
