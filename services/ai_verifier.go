package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrVerifierNotConfigured = errors.New("ai verifier is not configured")
	ErrVerifierUnreachable   = errors.New("ai verifier unreachable")
	ErrVerifierBadStatus     = errors.New("ai verifier returned non-2xx")
	ErrVerifierMalformed     = errors.New("ai verifier returned a malformed verdict")
	ErrNoProofImage          = errors.New("no proof image to analyse")
)

// AIVerdict is the collaborator's structured answer
type AIVerdict struct {
	Approved   bool     `json:"approved"`
	Reason     string   `json:"reason"`
	Confidence *float64 `json:"confidence"`
}

type VerificationRequest struct {
	Image           []byte
	TaskDescription string
}

// ProofVerifier judges a proof image. Implementations must not retry internally.
type ProofVerifier interface {
	Verify(ctx context.Context, req VerificationRequest) (*AIVerdict, error)
}

// ProofFetcher loads proof image bytes by object key, falling back to the public URL.
type ProofFetcher interface {
	FetchProof(ctx context.Context, key, url string) ([]byte, error)
}

// AIVerifierClient calls the external vision endpoint over HTTP
type AIVerifierClient struct {
	URL        string
	APIKey     string
	httpClient *http.Client
}

func NewAIVerifierClient(url, apiKey string, timeout time.Duration) *AIVerifierClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &AIVerifierClient{
		URL:    url,
		APIKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type aiRequestBody struct {
	Image           string `json:"image"`
	TaskDescription string `json:"task_description"`
}

func (c *AIVerifierClient) Verify(ctx context.Context, req VerificationRequest) (*AIVerdict, error) {
	if c == nil || c.URL == "" {
		return nil, ErrVerifierNotConfigured
	}

	payload, err := json.Marshal(aiRequestBody{
		Image:           base64.StdEncoding.EncodeToString(req.Image),
		TaskDescription: req.TaskDescription,
	})
	if err != nil {
		return nil, fmt.Errorf("encode verifier request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifierNotConfigured, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifierUnreachable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %d %s", ErrVerifierBadStatus, resp.StatusCode, string(body))
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerifierMalformed, err)
	}
	if _, ok := raw["approved"]; !ok {
		return nil, fmt.Errorf("%w: missing approved", ErrVerifierMalformed)
	}
	var verdict AIVerdict
	if err := json.Unmarshal(raw["approved"], &verdict.Approved); err != nil {
		return nil, fmt.Errorf("%w: approved: %v", ErrVerifierMalformed, err)
	}
	if r, ok := raw["reason"]; ok {
		if err := json.Unmarshal(r, &verdict.Reason); err != nil {
			return nil, fmt.Errorf("%w: reason: %v", ErrVerifierMalformed, err)
		}
	}
	if cf, ok := raw["confidence"]; ok && string(cf) != "null" {
		var v float64
		if err := json.Unmarshal(cf, &v); err != nil {
			return nil, fmt.Errorf("%w: confidence: %v", ErrVerifierMalformed, err)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: confidence %v outside [0,1]", ErrVerifierMalformed, v)
		}
		verdict.Confidence = &v
	}
	return &verdict, nil
}
