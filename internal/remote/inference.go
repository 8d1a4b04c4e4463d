package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/arborsense/leafvault/pkg/types"
)

// Detection is one disease finding from the inference service.
type Detection struct {
	DiseaseName     string  `json:"disease_name"`
	LikelihoodScore float64 `json:"likelihood_score"`
}

// AnalysisResult is the inference service's answer for one scan: the
// annotated image plus the regions and diseases it found.
type AnalysisResult struct {
	AnalyzedImage []byte              `json:"analyzed_image"`
	BoundingBoxes []types.BoundingBox `json:"bounding_boxes"`
	Detections    []Detection         `json:"detections"`
}

// InferenceClient submits captured leaf images to the disease-detection
// service.
type InferenceClient struct {
	baseURL string
	http    *http.Client
	logger  *log.Logger
}

// NewInferenceClient creates an inference client. If logger is nil, a default
// logger writing to stderr is used.
func NewInferenceClient(baseURL string, timeout time.Duration, logger *log.Logger) *InferenceClient {
	if logger == nil {
		logger = log.New(os.Stderr, "[inference] ", log.LstdFlags)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &InferenceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Analyze submits a scan and returns the analysis. Contract refusals come
// back as *RejectedError; transport failures and 5xx responses are plain
// errors the pending machinery will retry.
func (c *InferenceClient) Analyze(ctx context.Context, scan *types.ScanRequest) (*AnalysisResult, error) {
	body, err := json.Marshal(scan)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			return nil, &RejectedError{StatusCode: resp.StatusCode, Body: msg}
		}
		return nil, fmt.Errorf("analysis failed: status %d: %s", resp.StatusCode, msg)
	}

	var result AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding analysis result: %w", err)
	}
	return &result, nil
}
