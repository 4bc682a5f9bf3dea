package classify

import (
	"context"
	"fmt"
)

// Demo always answers plastic at 89%. It lets the service run without a
// model server.
type Demo struct{}

// NewDemo creates a Demo classifier
func NewDemo() *Demo {
	return &Demo{}
}

var demoScores = []struct {
	label    string
	fraction float64
}{
	{"plastic", 0.89},
	{"metal", 0.03},
	{"trash", 0.03},
	{"cardboard", 0.02},
	{"paper", 0.02},
	{"glass", 0.01},
}

// Classify implements Classifier
func (d *Demo) Classify(ctx context.Context, imageData []byte, contentType string) (*Prediction, error) {
	if len(imageData) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	all := make([]Score, 0, len(demoScores))
	for _, s := range demoScores {
		c, err := ScaleFraction.ToPercent(s.fraction)
		if err != nil {
			return nil, err
		}
		all = append(all, Score{Label: s.label, Confidence: c})
	}

	top := all[0]
	p := &Prediction{
		Label:      top.Label,
		Confidence: top.Confidence,
		Points:     Lookup(top.Label).Points,
		All:        all,
	}
	enrich(p)
	return p, nil
}

// Name implements Classifier
func (d *Demo) Name() string {
	return "demo"
}

// Close implements Classifier
func (d *Demo) Close() error {
	return nil
}
