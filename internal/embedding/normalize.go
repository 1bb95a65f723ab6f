package embedding

import (
	"fmt"
	"math"
)

// NormalizeL2Slice normalizes the slice in place to unit L2 norm.
func NormalizeL2Slice(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}

func checkONNXShape(dimensions, maxTokens int) error {
	if dimensions <= 0 {
		return fmt.Errorf("onnx embedder: dimensions must be positive, got %d", dimensions)
	}
	if maxTokens < 2 {
		return fmt.Errorf("onnx embedder: max_tokens must be at least 2, got %d", maxTokens)
	}
	return nil
}
