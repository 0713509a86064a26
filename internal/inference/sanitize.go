package inference

import "math"

// SanitizeClampValue is the magnitude logits are clamped to when they are
// non-finite. This is the only approved way to handle bad logits; sampling
// over untreated NaN is a fatal bug, not a warning.
const SanitizeClampValue = 100.0

// SanitizeLogits replaces NaN with -100, +Inf with +100, and -Inf with -100
// in place, and reports whether any replacement was made so the caller can
// take the retry-after-sanitize branch.
func SanitizeLogits(logits []float32) (hadBadValues bool) {
	for i, v := range logits {
		switch {
		case math.IsNaN(float64(v)):
			logits[i] = -SanitizeClampValue
			hadBadValues = true
		case math.IsInf(float64(v), 1):
			logits[i] = SanitizeClampValue
			hadBadValues = true
		case math.IsInf(float64(v), -1):
			logits[i] = -SanitizeClampValue
			hadBadValues = true
		}
	}
	return hadBadValues
}

// countBadValues reports how many NaN logits appear in the first k entries,
// used by the decode loop's first-K NaN-count-exceeded-2 break condition.
func countBadValues(logits []float32, k int) int {
	if k > len(logits) {
		k = len(logits)
	}
	n := 0
	for _, v := range logits[:k] {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			n++
		}
	}
	return n
}
