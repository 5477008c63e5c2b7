// Package llm talks to an OpenAI-compatible chat completions endpoint to
// write and repair document scripts.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// ErrNoScript is returned when a completion holds no usable script.
var ErrNoScript = errors.New("completion contained no script")

type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Client is safe for concurrent use; all requests share one http.Client.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: cfg.Timeout},
		logger:   cfg.Logger,
	}
}

// Generate asks for a fresh script from the job instructions.
func (c *Client) Generate(ctx context.Context, instructions string) (string, error) {
	return c.script(ctx, "generate", fmt.Sprintf(generatePrompt, instructions))
}

// Regenerate asks for a repaired version of source given the error it
// raised.
func (c *Client) Regenerate(ctx context.Context, source, errMsg string) (string, error) {
	return c.script(ctx, "regenerate", fmt.Sprintf(repairPrompt, errMsg, source))
}

func (c *Client) script(ctx context.Context, kind, prompt string) (source string, err error) {
	start := time.Now()
	var text string
	defer func() {
		c.record(ctx, Call{
			Time:       start,
			Kind:       kind,
			Model:      c.model,
			Prompt:     prompt,
			Response:   text,
			Script:     source,
			Error:      errString(err),
			DurationMs: time.Since(start).Milliseconds(),
		})
	}()

	text, err = c.complete(ctx, []message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", err
	}
	source = ExtractScript(text)
	if source == "" {
		return "", ErrNoScript
	}
	c.logger.Debug("script generated", "model", c.model, "bytes", len(source), "duration", time.Since(start))
	return source, nil
}

func (c *Client) record(ctx context.Context, call Call) {
	l := callLogFrom(ctx)
	if l == nil {
		return
	}
	if err := l.Record(call); err != nil {
		c.logger.Warn("failed to record model call", "kind", call.Kind, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) complete(ctx context.Context, msgs []message) (string, error) {
	body, err := json.Marshal(completionRequest{Model: c.model, Messages: msgs, Temperature: 0.2})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call completion endpoint: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("completion endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion endpoint returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

var fence = regexp.MustCompile("(?s)```([A-Za-z0-9_-]*)[ \t]*\n(.*?)```")

// ExtractScript pulls the script out of a completion. A lua fence wins,
// then the first fence of any language, then the whole text.
func ExtractScript(text string) string {
	matches := fence.FindAllStringSubmatch(text, -1)
	for _, m := range matches {
		if strings.EqualFold(m[1], "lua") {
			return strings.TrimSpace(m[2])
		}
	}
	if len(matches) > 0 {
		return strings.TrimSpace(matches[0][2])
	}
	return strings.TrimSpace(text)
}
