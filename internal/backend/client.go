package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatbridge/internal/domain"
)

const defaultHTTPTimeout = 120 * time.Second

// Client implements domain.Backend against the conversational HTTP API.
// One request per envelope; failures surface to the caller untouched — the
// dispatcher owns the (deliberately absent) retry policy.
type Client struct {
	apiBase string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

type ClientConfig struct {
	APIBase string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
	}
}

func (c *Client) Name() string { return "backend" }

// wire types

type wirePart struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Name    string `json:"name,omitempty"`
	DataURL string `json:"data_url,omitempty"`
}

type wireRequest struct {
	User  string     `json:"user"`
	Input []wirePart `json:"input"`
}

type wireResponse struct {
	Output []wirePart `json:"output"`
}

// SendMessage posts the envelope and decodes the backend's ordered reply
// parts. Unknown part types are preserved with their kind so the caller's
// rendering decides what to surface.
func (c *Client) SendMessage(ctx context.Context, env domain.PromptEnvelope, userKey string) (domain.ReplyEnvelope, error) {
	req := wireRequest{User: userKey, Input: make([]wirePart, 0, len(env.Parts))}
	for _, p := range env.Parts {
		switch p.Kind {
		case domain.PartText:
			req.Input = append(req.Input, wirePart{Type: "text", Text: p.Value})
		case domain.PartImage:
			req.Input = append(req.Input, wirePart{Type: "image", Name: p.Name, DataURL: p.DataURL})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.ReplyEnvelope{}, fmt.Errorf("marshal: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return domain.ReplyEnvelope{}, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return domain.ReplyEnvelope{}, fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return domain.ReplyEnvelope{}, fmt.Errorf("backend %d: %s", resp.StatusCode, string(respBody))
	}

	var wresp wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wresp); err != nil {
		return domain.ReplyEnvelope{}, fmt.Errorf("decode: %w", err)
	}

	reply := domain.ReplyEnvelope{Parts: make([]domain.ContentPart, 0, len(wresp.Output))}
	for _, p := range wresp.Output {
		switch p.Type {
		case "text":
			reply.Parts = append(reply.Parts, domain.TextPart(p.Text))
		case "image":
			reply.Parts = append(reply.Parts, domain.ImagePart(p.Name, p.DataURL))
		default:
			reply.Parts = append(reply.Parts, domain.ContentPart{Kind: domain.PartKind(p.Type), Value: p.Text})
		}
	}

	c.logger.Debug("backend reply",
		"user", userKey,
		"parts_in", len(req.Input),
		"parts_out", len(reply.Parts),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return reply, nil
}

// Healthy checks backend reachability and credentials.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/v1/health", nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("backend: invalid API key")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}
