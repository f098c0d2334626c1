package generate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/scriptorium-ai/scriptorium/internal/model"
)

const defaultTimeout = 120 * time.Second

// provider is one configured endpoint with its key resolved.
type provider struct {
	name     string
	endpoint string
	model    string
	apiKey   string
}

// Client implements Service over an ordered provider chain. Providers
// are tried in configured order; the first non-empty answer wins.
// Identical in-flight requests are deduplicated.
type Client struct {
	providers    []provider
	httpClient   *http.Client
	dedup        bool
	singleflight singleflight.Group
}

// NewClient builds a client from configuration. Providers whose
// api_key_env names an unset variable are skipped.
func NewClient(cfg model.GenerationConfig) *Client {
	timeout := defaultTimeout
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		dedup:      cfg.DedupInflight,
	}

	for _, p := range cfg.Providers {
		if p.Endpoint == "" {
			continue
		}
		apiKey := ""
		if p.APIKeyEnv != "" {
			apiKey = os.Getenv(p.APIKeyEnv)
			if apiKey == "" {
				continue
			}
		}
		c.providers = append(c.providers, provider{
			name:     p.Name,
			endpoint: p.Endpoint,
			model:    p.Model,
			apiKey:   apiKey,
		})
	}
	return c
}

type generateRequest struct {
	Model  string `json:"model,omitempty"`
	Worker string `json:"worker,omitempty"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Generate tries each provider in order and returns the first
// non-empty answer.
func (c *Client) Generate(ctx context.Context, workerID, systemPrompt, userPrompt string) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProviders
	}

	if !c.dedup {
		return c.generateChain(ctx, workerID, systemPrompt, userPrompt)
	}

	// Deduplicate identical in-flight requests
	key := requestKey(workerID, systemPrompt, userPrompt)
	result, err, _ := c.singleflight.Do(key, func() (interface{}, error) {
		return c.generateChain(ctx, workerID, systemPrompt, userPrompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Client) generateChain(ctx context.Context, workerID, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	for _, p := range c.providers {
		text, err := c.call(ctx, p, workerID, systemPrompt, userPrompt)
		if err != nil {
			lastErr = fmt.Errorf("provider %s: %w", p.name, err)
			continue
		}
		if text != "" {
			return text, nil
		}
		lastErr = fmt.Errorf("provider %s: empty answer", p.name)
	}
	return "", fmt.Errorf("all %d providers failed: %w", len(c.providers), lastErr)
}

func (c *Client) call(ctx context.Context, p provider, workerID, systemPrompt, userPrompt string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  p.model,
		Worker: workerID,
		System: systemPrompt,
		Prompt: userPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var gr generateResponse
	if err := json.Unmarshal(data, &gr); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if gr.Error != "" {
		return "", fmt.Errorf("provider error: %s", gr.Error)
	}
	return strings.TrimSpace(gr.Text), nil
}

// Providers returns the names of usable providers in chain order.
func (c *Client) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.name
	}
	return names
}

func requestKey(workerID, systemPrompt, userPrompt string) string {
	h := sha256.New()
	h.Write([]byte(workerID))
	h.Write([]byte{0})
	h.Write([]byte(systemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(userPrompt))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
