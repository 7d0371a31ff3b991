// Package reconcile keeps the local violation picture aligned with the
// exam server.
//
// The server is the authority on termination: every reported violation
// comes back with the server-side count and a shouldTerminate directive,
// delivered on the results channel for the session controller to act on.
// Reporting is fire-and-forget; a dead or slow server degrades the exam to
// local-only enforcement and never blocks the capture path.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"proctord/internal/violation"
)

var (
	// ErrNoCredential is returned when the client is built without a
	// bearer credential.
	ErrNoCredential = errors.New("reconcile: no bearer credential")
)

const (
	// DefaultTimeout bounds each request. There are no retries: a missed
	// report is logged and the exam continues on local enforcement.
	DefaultTimeout = 10 * time.Second

	resultBuffer = 32
)

// Config configures the reconciliation client.
type Config struct {
	// BaseURL is the exam server root, e.g. https://exams.example.com/api.
	BaseURL string `toml:"base_url" json:"base_url" yaml:"base_url"`

	// Timeout bounds each request.
	Timeout time.Duration `toml:"timeout" json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns client defaults. BaseURL has no default.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// Status is the server's view of the exam, fetched at session start.
type Status struct {
	TotalViolations      int `json:"totalViolations"`
	TerminationThreshold int `json:"terminationThreshold"`
}

// Result is the server's response to one violation report.
type Result struct {
	// ViolationCount is the server-side count after the report.
	ViolationCount int `json:"violationCount"`

	// ShouldTerminate directs the session to terminate. The server holds
	// final authority; a true here overrides local policy.
	ShouldTerminate bool `json:"shouldTerminate"`

	// Kind is the reported violation kind, echoed for logging.
	Kind violation.Kind `json:"-"`
}

// violationReport is the wire form of one violation report.
type violationReport struct {
	ViolationType string            `json:"violationType"`
	Severity      string            `json:"severity"`
	Details       map[string]string `json:"details,omitempty"`
}

// fullscreenReport is the wire form of one fullscreen state report.
type fullscreenReport struct {
	IsFullscreen bool  `json:"isFullscreen"`
	Timestamp    int64 `json:"timestamp"`
}

// Client talks to the exam server for one exam.
type Client struct {
	baseURL    string
	examID     string
	credential string
	httpClient *http.Client
	logger     *slog.Logger

	violationSchema *schemaValidator
	statusSchema    *schemaValidator

	results chan Result
	wg      sync.WaitGroup
}

// New creates a client for the given exam. The credential is sent as a
// bearer token on every request; if it parses as a JWT with an expiry
// inside the exam window, a warning is logged up front.
func New(cfg Config, examID, credential string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "reconcile", "exam_id", examID)

	if credential == "" {
		return nil, ErrNoCredential
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	vs, err := newSchemaValidator("violation-response.json", violationResponseSchema)
	if err != nil {
		return nil, err
	}
	ss, err := newSchemaValidator("status-response.json", statusResponseSchema)
	if err != nil {
		return nil, err
	}

	warnOnExpiredCredential(credential, logger)

	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		examID:          examID,
		credential:      credential,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		logger:          logger,
		violationSchema: vs,
		statusSchema:    ss,
		results:         make(chan Result, resultBuffer),
	}, nil
}

// Results returns the channel of server verdicts on reported violations.
func (c *Client) Results() <-chan Result {
	return c.results
}

// FetchStatus retrieves the server's current view of the exam. Unlike the
// report paths this is synchronous: the caller seeds local state from it
// at session start.
func (c *Client) FetchStatus(ctx context.Context) (Status, error) {
	body, err := c.do(ctx, http.MethodGet, c.endpoint("fullscreen-status"), nil)
	if err != nil {
		return Status{}, err
	}

	if err := c.statusSchema.Validate(body); err != nil {
		return Status{}, fmt.Errorf("status response failed validation: %w", err)
	}

	var status Status
	if err := json.Unmarshal(body, &status); err != nil {
		return Status{}, fmt.Errorf("decoding status response: %w", err)
	}
	return status, nil
}

// ReportViolation sends one violation to the server in the background. The
// verdict, when one arrives, lands on the results channel. Failures are
// logged and dropped.
func (c *Client) ReportViolation(v violation.Violation) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()

		payload, err := json.Marshal(violationReport{
			ViolationType: string(v.Kind),
			Severity:      string(v.Severity),
			Details:       v.Details,
		})
		if err != nil {
			c.logger.Error("encoding violation report", "error", err)
			return
		}

		body, err := c.do(ctx, http.MethodPost, c.endpoint("violations"), payload)
		if err != nil {
			c.logger.Warn("violation report failed", "kind", v.Kind, "error", err)
			return
		}

		if err := c.violationSchema.Validate(body); err != nil {
			c.logger.Warn("violation response failed validation, discarding", "kind", v.Kind, "error", err)
			return
		}

		var result Result
		if err := json.Unmarshal(body, &result); err != nil {
			c.logger.Warn("decoding violation response", "kind", v.Kind, "error", err)
			return
		}
		result.Kind = v.Kind

		select {
		case c.results <- result:
		default:
			c.logger.Warn("result channel full, dropping server verdict", "kind", v.Kind)
		}
	}()
}

// ReportFullscreen sends the current fullscreen state in the background.
// The server records it; no verdict comes back.
func (c *Client) ReportFullscreen(isFullscreen bool) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout)
		defer cancel()

		payload, err := json.Marshal(fullscreenReport{
			IsFullscreen: isFullscreen,
			Timestamp:    time.Now().UnixMilli(),
		})
		if err != nil {
			c.logger.Error("encoding fullscreen report", "error", err)
			return
		}

		if _, err := c.do(ctx, http.MethodPost, c.endpoint("fullscreen-status"), payload); err != nil {
			c.logger.Warn("fullscreen report failed", "error", err)
		}
	}()
}

// Close waits for in-flight reports to finish.
func (c *Client) Close() {
	c.wg.Wait()
}

// endpoint builds the URL for one exam resource.
func (c *Client) endpoint(resource string) string {
	return fmt.Sprintf("%s/exams/%s/%s", c.baseURL, url.PathEscape(c.examID), resource)
}

// do executes one request with the bearer credential and returns the body.
func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.credential)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// warnOnExpiredCredential inspects the credential as a JWT without
// verifying it. Opaque tokens are fine; only a parseable JWT with a past
// expiry draws a warning.
func warnOnExpiredCredential(credential string, logger *slog.Logger) {
	token, _, err := jwt.NewParser().ParseUnverified(credential, jwt.MapClaims{})
	if err != nil {
		return
	}

	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}

	if exp.Before(time.Now()) {
		logger.Warn("bearer credential is expired", "expired_at", exp.Time)
	}
}
