package model

import (
	"errors"
	"fmt"
	"math"
)

var ErrEmptyDistribution = errors.New("model returned an empty distribution")

// Top1 returns the argmax of dist and its value. Ties resolve to the lowest index.
func Top1(dist []float32) (int, float32, error) {
	if len(dist) == 0 {
		return 0, 0, ErrEmptyDistribution
	}

	maxIdx := 0
	maxVal := dist[0]
	for i, val := range dist {
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return 0, 0, fmt.Errorf("model returned non-finite value at index %d", i)
		}
		if val > maxVal {
			maxVal = val
			maxIdx = i
		}
	}
	return maxIdx, maxVal, nil
}
