// Package gemini talks to the Gemini generateContent REST endpoint, either on
// the public Generative Language API (API key) or on Vertex AI (OAuth2).
package gemini

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

	"github.com/echolog/echolog-server/internal/genai"
	"github.com/echolog/echolog-server/internal/metrics"
	"golang.org/x/oauth2/google"
)

const (
	defaultTimeout       = 90 * time.Second
	generativeLanguage   = "https://generativelanguage.googleapis.com/v1beta"
	cloudPlatformScope   = "https://www.googleapis.com/auth/cloud-platform"
	vertexEndpointFormat = "https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:generateContent"
)

// Config captures the runtime settings required to reach the model.
type Config struct {
	APIKey   string
	Model    string
	BaseURL  string // Overrides the derived endpoint base.
	Project  string // Vertex AI project; used when APIKey is empty.
	Location string
	Timeout  time.Duration
}

// Client implements genai.Generator.
type Client struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// New builds a client. Without an API key the client authenticates with
// application default credentials against Vertex AI.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Model == "" {
		return nil, errors.New("gemini: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case cfg.APIKey != "":
		base := cfg.BaseURL
		if base == "" {
			base = generativeLanguage
		}
		c.endpoint = fmt.Sprintf("%s/models/%s:generateContent", base, cfg.Model)
	case cfg.BaseURL != "":
		c.endpoint = fmt.Sprintf("%s/models/%s:generateContent", cfg.BaseURL, cfg.Model)
	default:
		if cfg.Project == "" || cfg.Location == "" {
			return nil, errors.New("gemini: api key or project and location are required")
		}
		c.endpoint = fmt.Sprintf(vertexEndpointFormat, cfg.Location, cfg.Project, cfg.Location, cfg.Model)
	}

	if c.httpClient == nil {
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			authClient, err := google.DefaultClient(ctx, cloudPlatformScope)
			if err != nil {
				return nil, fmt.Errorf("gemini: default credentials: %w", err)
			}
			authClient.Timeout = cfg.Timeout
			c.httpClient = authClient
		} else {
			c.httpClient = &http.Client{Timeout: cfg.Timeout}
		}
	}
	return c, nil
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int32   `json:"topK,omitempty"`
	MaxOutputTokens int32   `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("gemini request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Generate sends one user turn and returns the first candidate's text.
func (c *Client) Generate(ctx context.Context, prompt string, cfg genai.GenerationConfig) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("gemini generate: prompt required")
	}
	payload := generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     cfg.Temperature,
			TopP:            cfg.TopP,
			TopK:            cfg.TopK,
			MaxOutputTokens: cfg.MaxOutputTokens,
		},
	}
	return metrics.ObserveCall("genai", "generate", func() (string, error) {
		return c.send(ctx, payload)
	})
}

func (c *Client) send(ctx context.Context, payload generateRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gemini request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("gemini request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: http error (timeout=%s): %w", c.cfg.Timeout, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("gemini request: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("gemini request: api error %s: %s", parsed.Error.Status, strings.TrimSpace(parsed.Error.Message))
	}
	if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini request: prompt blocked: %s", parsed.PromptFeedback.BlockReason)
	}
	for _, candidate := range parsed.Candidates {
		var text strings.Builder
		for _, p := range candidate.Content.Parts {
			text.WriteString(p.Text)
		}
		if strings.TrimSpace(text.String()) != "" {
			return text.String(), nil
		}
	}
	return "", genai.ErrEmptyResponse
}
