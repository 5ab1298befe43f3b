/**
 * @description
 * This package provides a client for the chain-indexer API, used by the
 * settlement engine for exactly one thing: reading a participant's current
 * on-chain balance of a token, for the fixed-mode minimum-balance gate.
 * It encapsulates the logic for making authenticated HTTP requests and
 * parsing responses.
 *
 * @dependencies
 * - context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package tokenclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a client for the chain-indexer balance API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new chain-indexer API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// balanceResponse is the expected response from the balance endpoint.
// Amount is the balance in base units as an integer string.
type balanceResponse struct {
	Data struct {
		UserID       string `json:"user_id"`
		TokenAddress string `json:"token_address"`
		Amount       string `json:"amount"`
	} `json:"data"`
}

// errorResponse represents an error from the chain-indexer API.
type errorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *errorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("chain indexer error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown chain indexer error"
}

// GetTokenBalance fetches a participant's current balance of a token in base
// units. The indexer resolves the participant's linked wallet internally, so
// the settlement engine never handles wallet addresses.
func (c *Client) GetTokenBalance(ctx context.Context, userID uuid.UUID, tokenAddress string) (string, error) {
	endpoint := fmt.Sprintf("%s/internal/users/%s/token-balance?token=%s",
		c.BaseURL, userID, url.QueryEscape(tokenAddress))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build balance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("balance request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read balance response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && len(apiErr.Errors) > 0 {
			return "", &apiErr
		}
		return "", fmt.Errorf("chain indexer returned status %d", resp.StatusCode)
	}

	var parsed balanceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode balance response: %w", err)
	}
	if strings.TrimSpace(parsed.Data.Amount) == "" {
		return "", fmt.Errorf("chain indexer returned empty balance for user %s", userID)
	}
	return strings.TrimSpace(parsed.Data.Amount), nil
}
