// Package inference is the I/O boundary to the external scoring engine.
// The client performs a single bounded-timeout call and classifies the
// outcome; retry and backoff policy live entirely with the caller.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout tolerates upstream cold starts, which can take tens of
// seconds on a scaled-to-zero model server.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an upstream failure body is captured.
const maxErrorBody = 512

// PayloadFormat selects the request shape the scoring engine expects.
// Deployments disagree on this, so it is normalized at this boundary.
type PayloadFormat string

const (
	// FormatSequence sends {"sequence": [[...], ...]}.
	FormatSequence PayloadFormat = "sequence"
	// FormatTelemetry sends {"session_id": "...", "telemetry": [[...], ...]}.
	FormatTelemetry PayloadFormat = "telemetry"
)

// ParseFormat maps a config string to a PayloadFormat, defaulting to
// FormatSequence for anything unrecognized.
func ParseFormat(s string) PayloadFormat {
	if PayloadFormat(s) == FormatTelemetry {
		return FormatTelemetry
	}
	return FormatSequence
}

// Result is a parsed scoring response. Missing fields are substituted
// with defaults; a degraded upstream response is still a result.
type Result struct {
	Score float64
	Label string
}

// Config configures the Client.
type Config struct {
	BaseURL string        // e.g. "http://scoring:8000"; /predict is appended
	Timeout time.Duration // zero means DefaultTimeout
	Format  PayloadFormat
	Logger  *zap.Logger
}

// Client calls the external scoring engine. It never retries; one call
// per Score invocation.
type Client struct {
	baseURL string
	format  PayloadFormat
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a scoring client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	format := cfg.Format
	if format == "" {
		format = FormatSequence
	}
	return &Client{
		baseURL: cfg.BaseURL,
		format:  format,
		http:    &http.Client{Timeout: timeout},
		logger:  cfg.Logger,
	}
}

// scoreResponse is the upstream wire shape. Both fields are optional.
type scoreResponse struct {
	Score *float64 `json:"score"`
	Label *string  `json:"label"`
}

// Score submits a frame sequence for session sessionID and returns the
// parsed result. Errors are always *Error; callers branch on Kind.
func (c *Client) Score(ctx context.Context, sessionID string, frames [][]float64) (Result, error) {
	body, err := c.encode(sessionID, frames)
	if err != nil {
		return Result{}, &Error{Kind: KindUnreachable, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Kind: KindUnreachable, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, &Error{Kind: KindCancelled, Err: ctx.Err()}
		}
		return Result{}, &Error{Kind: KindUnreachable, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Result{}, &Error{Kind: KindRateLimited, Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Result{}, &Error{Kind: KindUpstream, Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var parsed scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, &Error{Kind: KindUpstream, Status: resp.StatusCode, Body: "malformed response body", Err: err}
	}

	result := Result{Score: 0, Label: "normal"}
	if parsed.Score != nil {
		result.Score = *parsed.Score
	}
	if parsed.Label != nil && *parsed.Label != "" {
		result.Label = *parsed.Label
	}

	if c.logger != nil {
		c.logger.Debug("inference response",
			zap.String("session_id", sessionID),
			zap.Float64("score", result.Score),
			zap.String("label", result.Label),
		)
	}
	return result, nil
}

// encode builds the request body in the configured payload shape.
func (c *Client) encode(sessionID string, frames [][]float64) ([]byte, error) {
	switch c.format {
	case FormatTelemetry:
		return json.Marshal(map[string]any{
			"session_id": sessionID,
			"telemetry":  frames,
		})
	default:
		return json.Marshal(map[string]any{
			"sequence": frames,
		})
	}
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBody))
	if err != nil {
		return ""
	}
	return string(b)
}
