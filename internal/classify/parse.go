package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// modelAnswer is what the vision prompt asks for
type modelAnswer struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

// parseModelAnswer extracts the JSON object from a model reply and turns it
// into a catalog-enriched Prediction.
func parseModelAnswer(text string) (*Prediction, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var answer modelAnswer
	if err := json.Unmarshal([]byte(text), &answer); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	label := strings.ToLower(strings.TrimSpace(answer.Label))
	if label == "" {
		return nil, fmt.Errorf("response has no label")
	}
	if answer.Confidence == nil {
		return nil, fmt.Errorf("response has no confidence")
	}

	// the prompt asks for a fraction
	confidence, err := ScaleFraction.ToPercent(*answer.Confidence)
	if err != nil {
		return nil, err
	}

	p := &Prediction{
		Label:      label,
		Confidence: confidence,
		Points:     Lookup(label).Points,
	}
	enrich(p)
	return p, nil
}
