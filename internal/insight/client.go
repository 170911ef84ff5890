// Package insight calls an external inference endpoint to turn a finding
// set into a short human-readable narrative. The endpoint is an opaque
// text generator: its response is parsed defensively and any failure just
// leaves the narrative empty.
package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sentinelsec/sentinel/internal/scan"
)

// Client posts a summarization request to a configured endpoint.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.Logger
}

// New creates a Client; an empty endpoint yields nil, meaning narratives
// are disabled.
func New(endpoint, apiKey string, timeout time.Duration, logger *zap.Logger) *Client {
	if endpoint == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// generateResponse covers the common response shapes of text-generation
// APIs; whichever field is populated first wins.
type generateResponse struct {
	Narrative string `json:"narrative"`
	Text      string `json:"text"`
	Output    string `json:"output"`
	Choices   []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// Narrative asks the endpoint to summarize the findings for target. It
// never fails the caller: on any error it logs and returns "".
func (c *Client) Narrative(ctx context.Context, targetURL string, summary scan.Summary, findings []scan.Finding) string {
	body, err := json.Marshal(generateRequest{Prompt: buildPrompt(targetURL, summary, findings)})
	if err != nil {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return ""
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("insight request failed", zap.Error(err))
		return ""
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil || resp.StatusCode != http.StatusOK {
		c.logger.Warn("insight response rejected", zap.Int("status", resp.StatusCode))
		return ""
	}

	return extractText(raw)
}

// extractText pulls a usable string out of whatever the endpoint sent
// back. Responses that are not JSON at all are used verbatim.
func extractText(raw []byte) string {
	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return strings.TrimSpace(string(raw))
	}
	for _, candidate := range []string{parsed.Narrative, parsed.Text, parsed.Output} {
		if s := strings.TrimSpace(candidate); s != "" {
			return s
		}
	}
	if len(parsed.Choices) > 0 {
		return strings.TrimSpace(parsed.Choices[0].Text)
	}
	return ""
}

func buildPrompt(targetURL string, summary scan.Summary, findings []scan.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the security posture of %s for a non-technical business owner. ", targetURL)
	fmt.Fprintf(&b, "Score %d/100, risk %s. Findings:", summary.Score, summary.Risk)
	for _, f := range findings {
		fmt.Fprintf(&b, " [%s] %s;", f.Severity, f.Title)
	}
	if len(findings) == 0 {
		b.WriteString(" none.")
	}
	return b.String()
}
