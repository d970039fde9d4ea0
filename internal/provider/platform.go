package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmynk/iouledger/internal/models"
)

// Platform is the HTTP client for the payments platform API.
type Platform struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewPlatform creates a client for the API at baseURL authenticated with
// the server API key.
func NewPlatform(baseURL, apiKey string, client *http.Client) (*Platform, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("payment platform base URL is empty")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("payment platform api key is empty")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Platform{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    client,
	}, nil
}

func (p *Platform) Available() bool { return true }

type createPaymentRequest struct {
	Amount   json.Number       `json:"amount"`
	Memo     string            `json:"memo"`
	UID      string            `json:"uid,omitempty"`
	Metadata map[string]string `json:"metadata"`
}

type paymentResponse struct {
	Identifier string `json:"identifier"`
}

type meResponse struct {
	UID      string `json:"uid"`
	Username string `json:"username"`
}

type errorResponse struct {
	Error        string `json:"error"`
	ErrorMessage string `json:"error_message"`
}

// Initiate creates a payment with POST /v2/payments.
func (p *Platform) Initiate(ctx context.Context, req PaymentRequest) (string, error) {
	body, err := json.Marshal(createPaymentRequest{
		Amount: json.Number(req.Amount.String()),
		Memo:   req.Memo,
		UID:    req.Payer,
		Metadata: map[string]string{
			"iou_id":     req.IOUID,
			"attempt_id": req.AttemptID,
		},
	})
	if err != nil {
		return "", err
	}

	var parsed paymentResponse
	if err := p.do(ctx, http.MethodPost, "/v2/payments", "Key "+p.apiKey, bytes.NewReader(body), &parsed); err != nil {
		return "", err
	}
	if parsed.Identifier == "" {
		return "", errors.New("payment platform returned no payment identifier")
	}
	return parsed.Identifier, nil
}

// VerifyIdentity resolves a user access token with GET /v2/me.
func (p *Platform) VerifyIdentity(ctx context.Context, accessToken string) (*Identity, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%w: access token is required", models.ErrValidation)
	}
	var parsed meResponse
	if err := p.do(ctx, http.MethodGet, "/v2/me", "Bearer "+accessToken, nil, &parsed); err != nil {
		return nil, err
	}
	if parsed.UID == "" {
		return nil, fmt.Errorf("%w: access token did not resolve to a user", models.ErrPermissionDenied)
	}
	return &Identity{UID: parsed.UID, Username: parsed.Username}, nil
}

func (p *Platform) do(ctx context.Context, method, path, authorization string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", authorization)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: payment platform refused credentials (%d)", models.ErrPermissionDenied, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: payment platform error %d", models.ErrProviderUnavailable, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("payment platform error %d: %s", resp.StatusCode, describeError(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode payment platform response: %w", err)
	}
	return nil
}

func describeError(body []byte) string {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil {
		if e.ErrorMessage != "" {
			return e.ErrorMessage
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return strings.TrimSpace(string(body))
}
