package onnx

import "math"

// meanPool averages token vectors where mask is set, then L2-normalizes.
func meanPool(hidden []float32, mask []int64, dims int) []float32 {
	out := make([]float32, dims)
	var n float32
	for t, m := range mask {
		if m == 0 {
			continue
		}
		n++
		row := hidden[t*dims : (t+1)*dims]
		for i, v := range row {
			out[i] += v
		}
	}
	if n == 0 {
		return out
	}
	var sum float64
	for i := range out {
		out[i] /= n
		sum += float64(out[i]) * float64(out[i])
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}
