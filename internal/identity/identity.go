// Package identity resolves payment keys to bank customers through the
// user directory service.
package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	ErrNotFound           = errors.New("identity not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Identity is the part of a customer profile other stages need
type Identity struct {
	OwnerID  string `json:"owner_id"`
	FullName string `json:"full_name"`
	TaxID    string `json:"tax_id,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

// Directory looks customers up by any of their keys: owner id, tax id,
// phone or email.
type Directory interface {
	FindIdentity(ctx context.Context, key string) (*Identity, error)
	VerifyCredential(ctx context.Context, ownerID, secret string) error
}

// Config holds directory client configuration
type Config struct {
	BaseURL string        `envconfig:"IDENTITY_URL" default:"http://localhost:8081/api/v1/users"`
	Timeout time.Duration `envconfig:"IDENTITY_TIMEOUT" default:"5s"`
}

// Client calls the user directory over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new directory client
func NewClient(cfg Config) *Client {
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// FindIdentity resolves key to exactly one customer.
func (c *Client) FindIdentity(ctx context.Context, key string) (*Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/lookup?key="+url.QueryEscape(key), nil)
	if err != nil {
		return nil, fmt.Errorf("building lookup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling user directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("user directory error: status=%d body=%s", resp.StatusCode, string(body))
	}

	var envelope struct {
		Data []Identity `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decoding lookup response: %w", err)
	}

	// an ambiguous key resolves to nobody
	if len(envelope.Data) != 1 {
		return nil, ErrNotFound
	}
	return &envelope.Data[0], nil
}

// VerifyCredential checks secret for ownerID.
func (c *Client) VerifyCredential(ctx context.Context, ownerID, secret string) error {
	if secret == "" {
		return ErrInvalidCredentials
	}

	body, _ := json.Marshal(map[string]string{"owner_id": ownerID, "secret": secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/credentials/verify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling user directory: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusNotFound:
		return ErrInvalidCredentials
	case resp.StatusCode >= 400:
		return fmt.Errorf("user directory error: status=%d", resp.StatusCode)
	}
	return nil
}
