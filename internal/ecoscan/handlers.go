package ecoscan

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pilah-ai/ecoscan/internal/classify"
	"github.com/pilah-ai/ecoscan/internal/ledger"
)

// maxUploadSize is the largest photo accepted by /predict and /api/scans
const maxUploadSize = int64(10 << 20)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// statusFor maps service and ledger errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, ErrUnsupportedImage),
		errors.Is(err, ErrUnknownReward):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, ErrClassification):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs server-side faults and hides their details from clients
func respondError(w http.ResponseWriter, msg string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error(msg, "error", err)
	}
	switch code {
	case http.StatusInternalServerError:
		writeError(w, code, "Internal server error")
	case http.StatusBadGateway:
		writeError(w, code, "Classification failed. Please try again.")
	default:
		writeError(w, code, err.Error())
	}
}

type upload struct {
	filename    string
	contentType string
	data        []byte
}

// readUpload pulls the photo out of a multipart form. The file field is
// "image", with "file" accepted as an alias.
func readUpload(w http.ResponseWriter, r *http.Request) (*upload, string) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+(1<<20))
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, "File is too large. Maximum size is 10MB."
		}
		slog.Error("Error parsing multipart form", "error", err)
		return nil, "Error parsing form"
	}

	f, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		f, header, err = r.FormFile("file")
	}
	if err != nil {
		return nil, "No image uploaded"
	}
	defer f.Close()

	if header.Filename == "" {
		return nil, "No file selected"
	}
	if header.Size > maxUploadSize {
		return nil, "File is too large. Maximum size is 10MB."
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		return nil, "Error reading file. Please try again."
	}
	return &upload{
		filename:    header.Filename,
		contentType: header.Header.Get("Content-Type"),
		data:        data,
	}, ""
}

// handleHealth reports liveness and the configured classifier
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": true,
		"classifier":   s.service.ClassifierName(),
	})
}

// handlePredict classifies a photo without recording it
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	predictError := func(code int, message string) {
		writeJSON(w, code, map[string]string{"error": message, "status": "error"})
	}

	up, msg := readUpload(w, r)
	if up == nil {
		predictError(http.StatusBadRequest, msg)
		return
	}

	p, err := s.service.Predict(r.Context(), up.filename, up.data, up.contentType)
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			slog.Error("Error predicting", "filename", up.filename, "error", err)
			predictError(code, "Prediction failed")
			return
		}
		predictError(code, err.Error())
		return
	}

	all := p.All
	if all == nil {
		all = []classify.Score{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"prediction":      p,
		"all_predictions": all,
		"model_info": map[string]any{
			"classifier":    s.service.ClassifierName(),
			"total_classes": len(classify.Labels()),
		},
	})
}

// handleUploadScan classifies a photo and records the scan
func (s *Server) handleUploadScan(w http.ResponseWriter, r *http.Request) {
	up, msg := readUpload(w, r)
	if up == nil {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	result, err := s.service.ProcessScan(r.Context(), up.filename, up.data, up.contentType)
	if err != nil {
		respondError(w, "Error processing scan", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleRecordScan records a classification made on the client
func (s *Server) handleRecordScan(w http.ResponseWriter, r *http.Request) {
	var c ledger.Classification
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	// Images only enter the archive through uploads.
	c.Image = ""

	record, err := s.service.RecordClassification(c)
	if err != nil {
		respondError(w, "Error recording scan", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleListScans returns scans, optionally filtered by time window
func (s *Server) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := s.service.ListScans(r.URL.Query().Get("filter"))
	if err != nil {
		respondError(w, "Error listing scans", err)
		return
	}
	if scans == nil {
		scans = []ledger.ScanRecord{}
	}
	writeJSON(w, http.StatusOK, scans)
}

// handleCategoryCounts returns scan counts per label
func (s *Server) handleCategoryCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.service.CategoryCounts()
	if err != nil {
		respondError(w, "Error counting categories", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// handleGetScanImage returns the archived photo of a scan
func (s *Server) handleGetScanImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetScanImage(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Image not found")
			return
		}
		respondError(w, "Error reading scan image", err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(data); err != nil {
		slog.Error("Error writing scan image", "error", err)
	}
}

// handleBalance returns the current point balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.service.Balance()
	if err != nil {
		respondError(w, "Error reading balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"balance": balance})
}

// handleStats returns the dashboard aggregates
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats()
	if err != nil {
		respondError(w, "Error computing stats", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAchievements returns every milestone with its unlocked state
func (s *Server) handleAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := s.service.Achievements()
	if err != nil {
		respondError(w, "Error computing achievements", err)
		return
	}
	writeJSON(w, http.StatusOK, achievements)
}

// handleListRewards returns the reward catalog
func (s *Server) handleListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := s.service.Rewards()
	if err != nil {
		respondError(w, "Error listing rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, rewards)
}

// handleListRedemptions returns the redemption history
func (s *Server) handleListRedemptions(w http.ResponseWriter, r *http.Request) {
	redemptions, err := s.service.ListRedemptions()
	if err != nil {
		respondError(w, "Error listing redemptions", err)
		return
	}
	if redemptions == nil {
		redemptions = []ledger.RedemptionRecord{}
	}
	writeJSON(w, http.StatusOK, redemptions)
}

// handleRedeem exchanges points for a reward
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	record, err := s.service.Redeem(req)
	if err != nil {
		var insufficient *ledger.InsufficientBalanceError
		if errors.As(err, &insufficient) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   insufficient.Error(),
				"balance": insufficient.Balance,
				"cost":    insufficient.Cost,
			})
			return
		}
		respondError(w, "Error redeeming reward", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

// handleEvents streams ledger changes as server-sent events, starting with
// a snapshot of the current stats.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	events := s.service.Subscribe(r.Context())
	stats, err := s.service.Stats()
	if err != nil {
		respondError(w, "Error computing stats", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(ev ledger.Event) bool {
		payload, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Error encoding event", "error", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(ledger.Event{Kind: ledger.EventSnapshot, Stats: stats}) {
		return
	}
	for ev := range events {
		if !send(ev) {
			return
		}
	}
}
