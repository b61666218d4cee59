// Package httpgen calls a language-model gateway that answers with a
// newline-delimited JSON stream of text and tool_call records.
package httpgen

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

	"github.com/bnema/whiteboard-tutor/internal/adapters/secrets/file"
	"github.com/bnema/whiteboard-tutor/internal/domain"
	"github.com/bnema/whiteboard-tutor/internal/ports"
)

const maxErrorBody = 4 << 10

type Config struct {
	BaseURL string
	Model   string
	// APIKey wins over the secret store when set.
	APIKey string
	// Timeout bounds the wait for response headers; the body may stream longer.
	Timeout time.Duration
}

type Client struct {
	cfg        Config
	secrets    ports.SecretStore
	httpClient *http.Client
}

var _ ports.Generator = (*Client)(nil)

func NewClient(cfg Config, secrets ports.SecretStore) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	return &Client{
		cfg:        cfg,
		secrets:    secrets,
		httpClient: &http.Client{Transport: transport},
	}
}

type generateRequest struct {
	Model             string          `json:"model,omitempty"`
	SystemInstruction string          `json:"systemInstruction,omitempty"`
	Contents          []content       `json:"contents"`
	Tools             json.RawMessage `json:"tools,omitempty"`
	ResponseMimeType  string          `json:"responseMimeType,omitempty"`
}

type content struct {
	Role  domain.Role   `json:"role"`
	Parts []domain.Part `json:"parts"`
}

// Generate posts the request and hands back the streaming body.
func (c *Client) Generate(ctx context.Context, req ports.GenerateRequest) (io.ReadCloser, error) {
	apiKey, err := c.apiKey(ctx)
	if err != nil {
		return nil, err
	}

	payload := generateRequest{
		Model:             c.cfg.Model,
		SystemInstruction: req.SystemInstruction,
		Contents:          make([]content, 0, len(req.History)),
		Tools:             req.Tools,
	}
	if req.JSONOutput {
		payload.ResponseMimeType = "application/json"
	}
	for _, message := range req.History {
		payload.Contents = append(payload.Contents, content{Role: message.Role, Parts: message.Parts})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrUpstreamGenerator, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrUpstreamGenerator, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return resp.Body, nil
}

func (c *Client) apiKey(ctx context.Context) (string, error) {
	if key := strings.TrimSpace(c.cfg.APIKey); key != "" {
		return key, nil
	}
	if c.secrets == nil {
		return "", domain.ErrMissingCredential
	}

	key, err := c.secrets.Get(ctx, file.GeneratorAPIKey)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotFound) {
			return "", fmt.Errorf("%w: %w", domain.ErrMissingCredential, err)
		}
		return "", fmt.Errorf("read generator credential: %w", err)
	}
	return key, nil
}
