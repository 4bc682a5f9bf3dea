package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

// Remote implements the Classifier interface against a model server that
// exposes POST /predict with a multipart "image" field.
type Remote struct {
	baseURL string
	scale   Scale
	client  *http.Client
}

// NewRemote creates a Remote classifier. scale is the unit the server
// reports confidence in; it is configuration, not inferred from responses.
func NewRemote(baseURL string, scale Scale) (*Remote, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("predict url is required")
	}
	if _, err := ParseScale(string(scale)); err != nil {
		return nil, err
	}
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		scale:   scale,
		client:  &http.Client{Timeout: 60 * time.Second},
	}, nil
}

type remoteScore struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
}

type remotePrediction struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence"`
	Category   string   `json:"category"`
	Disposal   string   `json:"disposal"`
	Tips       string   `json:"tips"`
	Fact       string   `json:"fact"`
	Color      string   `json:"color"`
	Points     *int     `json:"points"`
}

type remoteResponse struct {
	Status         string            `json:"status"`
	Error          string            `json:"error"`
	Prediction     *remotePrediction `json:"prediction"`
	AllPredictions []remoteScore     `json:"all_predictions"`
}

// Classify uploads the photo to the model server
func (r *Remote) Classify(ctx context.Context, imageData []byte, contentType string) (*Prediction, error) {
	data, mimeType, err := forUpload(imageData, contentType)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="upload%s"`, extensionFor(mimeType)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("creating form part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("writing form part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("closing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling predict API: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var out remoteResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("predict API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || out.Status == "error" {
		msg := out.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("predict API error (status %d): %s", resp.StatusCode, msg)
	}

	return r.toPrediction(&out)
}

func (r *Remote) toPrediction(out *remoteResponse) (*Prediction, error) {
	if out.Prediction == nil {
		return nil, fmt.Errorf("response has no prediction")
	}
	rp := out.Prediction
	if strings.TrimSpace(rp.Label) == "" {
		return nil, fmt.Errorf("response has no label")
	}
	if rp.Confidence == nil {
		return nil, fmt.Errorf("response has no confidence")
	}
	confidence, err := r.scale.ToPercent(*rp.Confidence)
	if err != nil {
		return nil, err
	}

	p := &Prediction{
		Label:      rp.Label,
		Confidence: confidence,
		Category:   rp.Category,
		Disposal:   rp.Disposal,
		Tips:       rp.Tips,
		Fact:       rp.Fact,
		Color:      rp.Color,
	}
	if rp.Points != nil {
		if *rp.Points < 0 {
			return nil, fmt.Errorf("negative points %d in response", *rp.Points)
		}
		p.Points = *rp.Points
	} else {
		p.Points = Lookup(rp.Label).Points
	}
	for _, s := range out.AllPredictions {
		if s.Confidence == nil {
			continue
		}
		c, err := r.scale.ToPercent(*s.Confidence)
		if err != nil {
			return nil, fmt.Errorf("score for %s: %w", s.Label, err)
		}
		p.All = append(p.All, Score{Label: s.Label, Confidence: c})
	}
	enrich(p)
	return p, nil
}

// Name implements Classifier
func (r *Remote) Name() string {
	return "remote"
}

// Close is a no-op for the HTTP client
func (r *Remote) Close() error {
	return nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
