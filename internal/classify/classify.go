// Package classify turns raw model output into ranked, labeled results.
package classify

import (
	"context"
	"fmt"
	"image"
)

// RawClass is a single entry of raw model output: a class id with its score.
type RawClass struct {
	ClassID int     `json:"class_id"`
	Score   float64 `json:"score"`
}

// Class is a labeled classification result entry.
type Class struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Engine runs model inference on a single frame and returns ranked
// (class id, score) pairs, highest score first.
type Engine interface {
	Invoke(ctx context.Context, img image.Image) ([]RawClass, error)
}

// UnknownLabelError reports a class id with no entry in the label map.
type UnknownLabelError struct {
	ClassID int
}

func (e *UnknownLabelError) Error() string {
	return fmt.Sprintf("no label for class id %d", e.ClassID)
}

// Interpret maps raw model output to labeled results, truncated to topK.
// The upstream descending score order is preserved. A class id missing
// from the label map yields an UnknownLabelError.
func Interpret(raw []RawClass, labelMap map[int]string, topK int) ([]Class, error) {
	if topK < 0 {
		topK = 0
	}
	n := len(raw)
	if n > topK {
		n = topK
	}

	result := make([]Class, 0, n)
	for _, rc := range raw[:n] {
		label, ok := labelMap[rc.ClassID]
		if !ok {
			return nil, &UnknownLabelError{ClassID: rc.ClassID}
		}
		result = append(result, Class{Label: label, Score: rc.Score})
	}
	return result, nil
}

// FilterScores drops entries below the display threshold, preserving order.
// This governs what is shown, not what the alert policy acts on.
func FilterScores(result []Class, threshold float64) []Class {
	filtered := make([]Class, 0, len(result))
	for _, c := range result {
		if c.Score >= threshold {
			filtered = append(filtered, c)
		}
	}
	return filtered
}
