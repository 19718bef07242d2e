// Package extraction talks to the classification collaborator that reads a
// communication and proposes a category, urgency, and structured fields.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"commhub/internal/comms/models"
	dErrors "commhub/pkg/domain-errors"
)

// Result is the collaborator's verdict. Confidence is its own estimate in
// [0, 1]; callers decide whether it clears their threshold. Engine, tokens,
// and cost describe what the verdict took to produce and end up in the
// processing log.
type Result struct {
	Category   models.ContentCategory `json:"content_category"`
	Urgency    models.UrgencyLevel    `json:"urgency_level"`
	Confidence float64                `json:"confidence"`
	Engine     string                 `json:"engine,omitempty"`
	TokensUsed int                    `json:"tokens_used,omitempty"`
	CostCents  int                    `json:"cost_cents,omitempty"`
	Fields     map[string]string      `json:"fields,omitempty"`
}

// Classifier is implemented by the HTTP client below and by test fakes.
type Classifier interface {
	Classify(ctx context.Context, c *models.Communication) (*Result, error)
}

// Client calls the extraction service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type classifyRequest struct {
	Platform    string `json:"platform"`
	SubjectLine string `json:"subject_line,omitempty"`
	Content     string `json:"content"`
	SenderName  string `json:"sender_name,omitempty"`
}

func (c *Client) Classify(ctx context.Context, comm *models.Communication) (*Result, error) {
	body, err := json.Marshal(classifyRequest{
		Platform:    string(comm.Platform),
		SubjectLine: comm.SubjectLine,
		Content:     comm.Content,
		SenderName:  comm.SenderDisplayName,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/classify", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "extraction service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.New(dErrors.CodeInternal,
			fmt.Sprintf("extraction service returned %d", resp.StatusCode))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "decode extraction response", err)
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		return nil, dErrors.New(dErrors.CodeInternal, "extraction confidence out of range")
	}
	return &result, nil
}
