package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/solverai/companion/internal/domain"
)

// Default configuration values.
const (
	DefaultOllamaBaseURL = "http://127.0.0.1:11434"
	DefaultOllamaModel   = "llama3.1:8b"
	DefaultGenTimeout    = 120 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434).
	BaseURL string

	// Model is the generation model to use (default: llama3.1:8b).
	Model string

	// Timeout is the generation request timeout (default: 120s).
	Timeout time.Duration

	// ProbeTimeout bounds the liveness check (default: 5s).
	ProbeTimeout time.Duration
}

// OllamaClient generates text through a local Ollama server.
type OllamaClient struct {
	client       *http.Client
	baseURL      string
	model        string
	probeTimeout time.Duration
}

// ollamaGenerateRequest is the Ollama /api/generate request format.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// ollamaGenerateResponse is one /api/generate response object; in
// streaming mode each NDJSON line carries one.
type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaBaseURL
	}
	// localhost can resolve to the IPv6 loopback first, which Ollama may
	// not listen on; pin it to IPv4.
	cfg.BaseURL = strings.Replace(cfg.BaseURL, "localhost", "127.0.0.1", 1)
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultGenTimeout
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}

	return &OllamaClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL:      cfg.BaseURL,
		model:        cfg.Model,
		probeTimeout: cfg.ProbeTimeout,
	}
}

// Ping checks the server is reachable via /api/tags. This is a
// lightweight liveness probe, not an inference call.
func (c *OllamaClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: create ping request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama: ping failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama: ping returned status %d", resp.StatusCode)
	}
	return nil
}

// FormatPrompt concatenates the message list into a single Llama 3
// role-tagged prompt terminated with an open assistant turn.
func FormatPrompt(messages []domain.ChatMessage) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	for _, msg := range messages {
		b.WriteString("<|start_header_id|>")
		b.WriteString(string(msg.Role))
		b.WriteString("<|end_header_id|>\n\n")
		b.WriteString(msg.Content)
		b.WriteString("<|eot_id|>")
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

// Generate produces the full completion for the message list.
func (c *OllamaClient) Generate(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	resp, err := c.post(ctx, ollamaGenerateRequest{
		Model:  c.model,
		Prompt: FormatPrompt(messages),
		Stream: false,
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var genResp ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("ollama: decode response: %w", err)
	}
	return genResp.Response, nil
}

// Stream produces incremental completion fragments for the message
// list. Malformed stream lines are skipped, not fatal; transport errors
// surface on the returned channel.
func (c *OllamaClient) Stream(ctx context.Context, messages []domain.ChatMessage) (<-chan StreamDelta, error) {
	resp, err := c.post(ctx, ollamaGenerateRequest{
		Model:  c.model,
		Prompt: FormatPrompt(messages),
		Stream: true,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan StreamDelta)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var chunk ollamaGenerateResponse
			if err := json.Unmarshal([]byte(line), &chunk); err != nil {
				// Malformed line: skip, don't abort the stream.
				continue
			}
			if chunk.Response != "" {
				select {
				case out <- StreamDelta{Text: chunk.Response}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- StreamDelta{Err: fmt.Errorf("ollama: read stream: %w", err)}
		}
	}()
	return out, nil
}

func (c *OllamaClient) post(ctx context.Context, body ollamaGenerateRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL+"/api/generate",
		bytes.NewReader(jsonBody),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("ollama error (status %d): failed to read response", resp.StatusCode)
		}
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(data))
	}
	return resp, nil
}

// ModelName returns the generation model in use.
func (c *OllamaClient) ModelName() string {
	return c.model
}
