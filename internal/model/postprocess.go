package model

import (
	"math"
	"sort"
)

// Softmax converts logits into probabilities that sum to 1
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		maxLogit = math.Max(maxLogit, float64(v))
	}

	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// TopK returns the k most probable labels, highest score first. Ties keep
// class id order.
func TopK(probs []float64, labels []string, k int) []Prediction {
	if k <= 0 {
		k = DefaultTopK
	}

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}

	preds := make([]Prediction, 0, k)
	for _, i := range idx[:k] {
		label := ""
		if i < len(labels) {
			label = labels[i]
		}
		preds = append(preds, Prediction{Label: label, Score: probs[i]})
	}
	return preds
}
