package language

import (
	"context"

	"github.com/abadojack/whatlanggo"
)

// WhatlangDetector detects languages with whatlanggo's trigram and script models.
type WhatlangDetector struct {
	// MinConfidence rejects results below this confidence as inconclusive. Zero accepts
	// whatever whatlanggo considers reliable.
	MinConfidence float64
}

// NewWhatlangDetector creates a detector with the given confidence threshold.
func NewWhatlangDetector(minConfidence float64) *WhatlangDetector {
	return &WhatlangDetector{MinConfidence: minConfidence}
}

// Detect implements Detector.
func (d *WhatlangDetector) Detect(ctx context.Context, text string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return "", false, nil
	}
	if d.MinConfidence > 0 {
		if info.Confidence < d.MinConfidence {
			return code, false, nil
		}
	} else if !info.IsReliable() {
		return code, false, nil
	}
	return code, true, nil
}
