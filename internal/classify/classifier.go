package classify

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Score is one label's confidence, in percent
type Score struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Prediction is the enriched result for one image. Confidence is always a
// percentage (0-100), whatever scale the backing model reports.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
	Disposal   string  `json:"disposal"`
	Tips       string  `json:"tips"`
	Fact       string  `json:"fact"`
	Color      string  `json:"color"`
	Points     int     `json:"points"`
	All        []Score `json:"all_predictions,omitempty"`
}

// Classifier defines the interface for waste classification backends
type Classifier interface {
	// Classify analyzes a photo and returns the most likely waste label
	Classify(ctx context.Context, imageData []byte, contentType string) (*Prediction, error)
	// Name identifies the backend in logs and health output
	Name() string
	// Close releases any resources held by the backend
	Close() error
}

// Scale is the unit a backend reports confidence in
type Scale string

const (
	ScalePercent  Scale = "percent"  // 0-100
	ScaleFraction Scale = "fraction" // 0-1
)

// ParseScale maps a flag value to a Scale
func ParseScale(s string) (Scale, error) {
	switch sc := Scale(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScalePercent, ScaleFraction:
		return sc, nil
	default:
		return "", fmt.Errorf("unknown confidence scale %q (want percent or fraction)", s)
	}
}

// ToPercent converts v from this scale to a percentage rounded to one
// decimal place.
func (s Scale) ToPercent(v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("confidence is not a number")
	}
	max := 100.0
	if s == ScaleFraction {
		max = 1
	}
	if v < 0 || v > max {
		return 0, fmt.Errorf("confidence %v out of range for %s scale", v, s)
	}
	if s == ScaleFraction {
		v *= 100
	}
	return math.Round(v*10) / 10, nil
}

// enrich fills catalog details for label. Values already set by the
// backend are kept.
func enrich(p *Prediction) {
	info := Lookup(p.Label)
	if p.Category == "" {
		p.Category = info.Category
	}
	if p.Disposal == "" {
		p.Disposal = info.Disposal
	}
	if p.Tips == "" {
		p.Tips = info.Tips
	}
	if p.Fact == "" {
		p.Fact = info.Fact
	}
	if p.Color == "" {
		p.Color = info.Color
	}
}
