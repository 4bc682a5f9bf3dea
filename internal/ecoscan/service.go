package ecoscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pilah-ai/ecoscan/internal/classify"
	"github.com/pilah-ai/ecoscan/internal/ledger"
	"github.com/pilah-ai/ecoscan/internal/metrics"
)

var (
	// ErrNotFound is returned for unknown scan ids or missing images
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedImage is returned for uploads that are not a photo
	ErrUnsupportedImage = errors.New("unsupported image type")

	// ErrUnknownReward is returned when a reward id is not in the catalog
	ErrUnknownReward = errors.New("unknown reward")

	// ErrClassification wraps every classifier failure
	ErrClassification = errors.New("classification failed")
)

var allowedExtensions = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
	".pdf":  "application/pdf",
}

// Deps holds the collaborators of a Service. Images, Rewards and Metrics
// are optional.
type Deps struct {
	Ledger     *ledger.Ledger
	Classifier classify.Classifier
	Images     Storage
	Rewards    *Rewards
	Metrics    *metrics.Ledger
}

// Service wires classification, the image archive and the ledger together
type Service struct {
	ledger     *ledger.Ledger
	classifier classify.Classifier
	images     Storage
	rewards    *Rewards
	metrics    *metrics.Ledger
}

// NewService creates a Service from deps
func NewService(deps Deps) (*Service, error) {
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if deps.Classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	s := &Service{
		ledger:     deps.Ledger,
		classifier: deps.Classifier,
		images:     deps.Images,
		rewards:    deps.Rewards,
		metrics:    deps.Metrics,
	}
	s.refreshBalance()
	return s, nil
}

// ScanResult is the outcome of one photo scan
type ScanResult struct {
	Scan        *ledger.ScanRecord   `json:"scan"`
	Prediction  *classify.Prediction `json:"prediction"`
	DisplayName string               `json:"display_name"`
}

// detectContentType resolves the MIME type of an upload, preferring the
// client's header and falling back to the extension.
func detectContentType(filename, contentType string) (string, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	ext := strings.ToLower(filepath.Ext(filename))
	byExt, known := allowedExtensions[ext]
	if !known {
		return "", fmt.Errorf("%w: %q (use png, jpg, jpeg, gif, bmp, webp, heic, heif or pdf)", ErrUnsupportedImage, ext)
	}
	if contentType == "" || contentType == "application/octet-stream" {
		return byExt, nil
	}
	return contentType, nil
}

// Predict classifies a photo without recording anything
func (s *Service) Predict(ctx context.Context, filename string, data []byte, contentType string) (*classify.Prediction, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}
	contentType, err := detectContentType(filename, contentType)
	if err != nil {
		return nil, err
	}
	return s.classify(ctx, filename, data, contentType)
}

func (s *Service) classify(ctx context.Context, filename string, data []byte, contentType string) (*classify.Prediction, error) {
	start := time.Now()
	p, err := s.classifier.Classify(ctx, data, contentType)
	s.metrics.ObserveClassify(s.classifier.Name(), time.Since(start).Seconds(), err)
	if err != nil {
		slog.Error("Failed to classify image",
			"classifier", s.classifier.Name(),
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}
	return p, nil
}

// ProcessScan classifies a photo, archives it when an archive is configured
// and records the scan. The archived file is removed again if any later
// step fails.
func (s *Service) ProcessScan(ctx context.Context, filename string, data []byte, contentType string) (*ScanResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUnsupportedImage)
	}
	contentType, err := detectContentType(filename, contentType)
	if err != nil {
		return nil, err
	}

	var savedName string
	if s.images != nil {
		savedName, err = s.images.Save(fmt.Sprintf("%s_%s", uuid.NewString(), sanitizeFilename(filename)), data)
		if err != nil {
			return nil, fmt.Errorf("saving image: %w", err)
		}
	}
	cleanup := func() {
		if savedName == "" {
			return
		}
		if err := s.images.Delete(savedName); err != nil {
			slog.Warn("Failed to delete archived image", "image", savedName, "error", err)
		}
	}

	p, err := s.classify(ctx, filename, data, contentType)
	if err != nil {
		cleanup()
		return nil, err
	}

	record, err := s.ledger.RecordScan(ledger.Classification{
		Label:      p.Label,
		Category:   p.Category,
		Confidence: ledger.Float(p.Confidence),
		Points:     ledger.Int(p.Points),
		Fact:       p.Fact,
		Image:      savedName,
	})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("recording scan: %w", err)
	}
	s.metrics.ObserveScan(record.Label, record.Points)
	s.refreshBalance()

	slog.Info("Scan recorded", "id", record.ID, "label", record.Label, "points", record.Points)
	return &ScanResult{
		Scan:        record,
		Prediction:  p,
		DisplayName: classify.Lookup(p.Label).DisplayName,
	}, nil
}

// RecordClassification stores a classification produced elsewhere
func (s *Service) RecordClassification(c ledger.Classification) (*ledger.ScanRecord, error) {
	record, err := s.ledger.RecordScan(c)
	if err != nil {
		return nil, fmt.Errorf("recording scan: %w", err)
	}
	s.metrics.ObserveScan(record.Label, record.Points)
	s.refreshBalance()
	return record, nil
}

// ListScans returns scans in the filter window, most recent first
func (s *Service) ListScans(filter string) ([]ledger.ScanRecord, error) {
	f, err := ledger.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	scans, err := s.ledger.ListScans(f)
	if err != nil {
		return nil, fmt.Errorf("listing scans: %w", err)
	}
	return scans, nil
}

// CategoryCounts returns the number of scans per label
func (s *Service) CategoryCounts() (map[string]int, error) {
	counts, err := s.ledger.CategoryCounts()
	if err != nil {
		return nil, fmt.Errorf("counting categories: %w", err)
	}
	return counts, nil
}

// GetScanImage returns the archived photo of a scan
func (s *Service) GetScanImage(id string) ([]byte, string, error) {
	if s.images == nil {
		return nil, "", fmt.Errorf("%w: image archive disabled", ErrNotFound)
	}
	scans, err := s.ledger.ListScans(ledger.FilterAll)
	if err != nil {
		return nil, "", fmt.Errorf("listing scans: %w", err)
	}
	for _, scan := range scans {
		if scan.ID != id {
			continue
		}
		if scan.Image == "" {
			return nil, "", fmt.Errorf("%w: scan %s has no image", ErrNotFound, id)
		}
		data, err := s.images.Get(scan.Image)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		contentType := mime.TypeByExtension(filepath.Ext(scan.Image))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return data, contentType, nil
	}
	return nil, "", fmt.Errorf("%w: scan %s", ErrNotFound, id)
}

// Balance returns the current point balance
func (s *Service) Balance() (int, error) {
	balance, err := s.ledger.CurrentBalance()
	if err != nil {
		return 0, fmt.Errorf("reading balance: %w", err)
	}
	return balance, nil
}

// Stats returns the aggregate dashboard numbers
func (s *Service) Stats() (ledger.Stats, error) {
	stats, err := s.ledger.ComputeStats()
	if err != nil {
		return ledger.Stats{}, fmt.Errorf("computing stats: %w", err)
	}
	return stats, nil
}

// Achievements evaluates every milestone against the current stats
func (s *Service) Achievements() ([]ledger.Achievement, error) {
	stats, err := s.Stats()
	if err != nil {
		return nil, err
	}
	return ledger.Achievements(stats), nil
}

// Rewards lists the catalog with an affordable flag for the current balance
func (s *Service) Rewards() ([]RewardStatus, error) {
	balance, err := s.Balance()
	if err != nil {
		return nil, err
	}
	items := s.rewards.List()
	out := make([]RewardStatus, 0, len(items))
	for _, item := range items {
		out = append(out, RewardStatus{Reward: item, Affordable: balance >= item.Points})
	}
	return out, nil
}

// RedeemRequest names a catalog reward by id, or a free-form reward and cost
type RedeemRequest struct {
	RewardID string `json:"reward_id"`
	Reward   string `json:"reward"`
	Points   int    `json:"points"`
}

// Redeem exchanges points for a reward
func (s *Service) Redeem(req RedeemRequest) (*ledger.RedemptionRecord, error) {
	name, cost := req.Reward, req.Points
	if req.RewardID != "" {
		item, ok := s.rewards.Find(req.RewardID)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownReward, req.RewardID)
		}
		name, cost = item.Name, item.Points
	}

	record, err := s.ledger.Redeem(name, cost)
	if err != nil {
		return nil, fmt.Errorf("redeeming %q: %w", name, err)
	}
	s.metrics.ObserveRedemption(record.Points)
	s.refreshBalance()

	slog.Info("Points redeemed", "id", record.ID, "reward", record.Reward, "points", record.Points)
	return record, nil
}

// ListRedemptions returns every redemption, most recent first
func (s *Service) ListRedemptions() ([]ledger.RedemptionRecord, error) {
	redemptions, err := s.ledger.ListRedemptions()
	if err != nil {
		return nil, fmt.Errorf("listing redemptions: %w", err)
	}
	return redemptions, nil
}

// Subscribe streams ledger change events until ctx is done
func (s *Service) Subscribe(ctx context.Context) <-chan ledger.Event {
	return s.ledger.Subscribe(ctx)
}

// ClassifierName identifies the configured classifier
func (s *Service) ClassifierName() string {
	return s.classifier.Name()
}

func (s *Service) refreshBalance() {
	if s.metrics == nil {
		return
	}
	balance, err := s.ledger.CurrentBalance()
	if err != nil {
		slog.Warn("Failed to read balance for metrics", "error", err)
		return
	}
	s.metrics.SetBalance(balance)
}
