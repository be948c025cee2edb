// Package ai is the optional signal-adjudication hook: an external model
// gets a short window to veto an entry before it is emitted. The caller
// treats any failure as "no opinion".
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tickdrive/tickdrive/internal/domain"
)

// Adjudicator reviews a proposed entry. Approve returns false to veto.
type Adjudicator interface {
	Approve(ctx context.Context, sig domain.Signal, vec *domain.IndicatorVector) (bool, error)
}

// HTTPAdjudicator posts the signal and its indicator context to an
// external scoring endpoint.
type HTTPAdjudicator struct {
	url    string
	client *http.Client
}

func NewHTTPAdjudicator(url string, timeout time.Duration) *HTTPAdjudicator {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPAdjudicator{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

type reviewRequest struct {
	Signal    domain.Signal           `json:"signal"`
	Indicator *domain.IndicatorVector `json:"indicator"`
}

type reviewResponse struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

func (a *HTTPAdjudicator) Approve(ctx context.Context, sig domain.Signal, vec *domain.IndicatorVector) (bool, error) {
	body, err := json.Marshal(reviewRequest{Signal: sig, Indicator: vec})
	if err != nil {
		return false, fmt.Errorf("marshal review request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build review request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("review request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("review request: HTTP %d", resp.StatusCode)
	}

	var out reviewResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode review response: %w", err)
	}
	return out.Approved, nil
}
