// Package apiclient talks to the remote label analysis service.
package apiclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/example/ingrediscan/internal/analysis"
	"github.com/example/ingrediscan/internal/logging"
)

// AnalyzePath is appended to the resolved base URL.
const AnalyzePath = "/api/v1/analyze"

const maxErrorBody = 64 << 10

// Config describes how to reach the analysis service.
type Config struct {
	BaseURL      string        `yaml:"base_url" validate:"omitempty,url"`
	Host         string        `yaml:"host"`
	FallbackPort int           `yaml:"fallback_port" validate:"gte=0,lte=65535"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
}

// Analyzer is the subset of the client used by the scan pipeline.
type Analyzer interface {
	Analyze(ctx context.Context, payload []byte, mediaType string) (*analysis.Result, error)
}

// Client performs one request per Analyze call and never retries.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// New constructs a Client.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("apiclient"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type analyzeRequest struct {
	ImageBase64 string `json:"image_base64"`
	ImageType   string `json:"image_type"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string { return e.Message }

// Classification implements analysis.Classifier. Client errors carry no class
// of their own and fall through to the message heuristics.
func (e *StatusError) Classification() analysis.Classification {
	if e.StatusCode >= 500 {
		return analysis.Classification{Kind: analysis.KindServer, Reason: analysis.ReasonServer}
	}
	return analysis.Classification{}
}

// ParseError reports a success response whose body could not be decoded.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("failed to parse analysis response: %v", e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }

// Classification implements analysis.Classifier.
func (e *ParseError) Classification() analysis.Classification {
	return analysis.Classification{Kind: analysis.KindParse, Reason: analysis.ReasonParse}
}

// Endpoint resolves the full analyze URL without touching the network.
func (c *Client) Endpoint() (string, error) {
	base, err := ResolveBaseURL(c.cfg.BaseURL, c.cfg.Host, c.cfg.FallbackPort)
	if err != nil {
		return "", err
	}
	return base + AnalyzePath, nil
}

// Analyze uploads payload and returns the decoded result.
func (c *Client) Analyze(ctx context.Context, payload []byte, mediaType string) (*analysis.Result, error) {
	endpoint, err := c.Endpoint()
	if err != nil {
		return nil, logging.NewOperationError("apiclient.resolve_endpoint", "", err)
	}
	if mediaType == "" {
		mediaType = "image/jpeg"
	}

	body, err := json.Marshal(analyzeRequest{
		ImageBase64: "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(payload),
		ImageType:   mediaType,
	})
	if err != nil {
		return nil, fmt.Errorf("encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("analyze request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, fmt.Errorf("analysis network request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Info("analyze response",
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.String("payload_size", humanize.IBytes(uint64(len(payload)))),
		zap.Duration("latency", time.Since(started)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	var result analysis.Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ParseError{Err: err}
	}
	return result.Normalize(), nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if msg := errorBodyMessage(raw); msg != "" {
		return &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
	text := http.StatusText(resp.StatusCode)
	if parts := strings.SplitN(resp.Status, " ", 2); len(parts) == 2 && parts[1] != "" {
		text = parts[1]
	}
	return &StatusError{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("HTTP %d: %s", resp.StatusCode, text),
	}
}

// errorBodyMessage extracts error, detail or message (in that order) from a
// JSON error body. FastAPI validation details arrive as a list of objects.
func errorBodyMessage(raw []byte) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ""
	}
	for _, key := range []string{"error", "detail", "message"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if s != "" {
				return s
			}
			continue
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(v, &items); err == nil {
			var msgs []string
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	return ""
}

// IsConfigError reports whether err stems from endpoint resolution.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
