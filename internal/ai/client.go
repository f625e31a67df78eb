// Package ai is the HTTP client of the external business-model service
// that screens idea submissions.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusInvalid  = "invalid"
)

// Submission carries the idea text fields the service evaluates.
type Submission struct {
	IdeaName       string   `json:"ideaName"`
	Problem        string   `json:"problem"`
	Solution       string   `json:"solution"`
	Advantages     string   `json:"advantages"`
	ReadinessLevel string   `json:"readinessLevel"`
	Fields         []string `json:"fields"`
}

// Evaluation is the service verdict. Exactly one of the three status
// shapes is populated: accepted carries the canvas and summary, rejected
// carries the similarity feedback, invalid carries per-field errors.
type Evaluation struct {
	Status          string              `json:"status"`
	BusinessModel   map[string][]string `json:"businessModel,omitempty"`
	Summary         string              `json:"summary,omitempty"`
	SimilarityScore float64             `json:"similarity_score,omitempty"`
	NearestMatch    string              `json:"nearest_match,omitempty"`
	ImprovementTips map[string][]string `json:"improvement_tips,omitempty"`
	Errors          map[string]string   `json:"errors,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Evaluate submits the idea text and returns the service verdict.
func (c *Client) Evaluate(ctx context.Context, submission Submission) (Evaluation, error) {
	body, err := json.Marshal(submission)
	if err != nil {
		return Evaluation{}, fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ideas", bytes.NewReader(body))
	if err != nil {
		return Evaluation{}, fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Evaluation{}, fmt.Errorf("evaluate idea: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Evaluation{}, fmt.Errorf("business-model service responded with %d", resp.StatusCode)
	}

	var evaluation Evaluation
	if err := json.NewDecoder(resp.Body).Decode(&evaluation); err != nil {
		return Evaluation{}, fmt.Errorf("decode evaluation: %w", err)
	}

	switch evaluation.Status {
	case StatusAccepted, StatusRejected, StatusInvalid:
		return evaluation, nil
	default:
		return Evaluation{}, fmt.Errorf("business-model service returned unknown status %q", evaluation.Status)
	}
}
