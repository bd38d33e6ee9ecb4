// Package client talks to a crategate server: it submits exports and
// validations and polls deferred jobs until they finish.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crategate/crategate/internal/crate"
	"github.com/crategate/crategate/internal/engine"
	"github.com/crategate/crategate/internal/job"
)

const (
	// DefaultBasePath is where the server mounts its API by default.
	DefaultBasePath = "/api/v1/ro-crate"
	// DefaultPollInterval is the wait between two status requests.
	DefaultPollInterval = 5 * time.Second
)

// ErrPollTimeout is returned by Poll when the job is still SCHEDULED or
// RUNNING after the last allowed attempt.
var ErrPollTimeout = errors.New("job did not finish within the allowed attempts")

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Errors lists unresolved identifiers on a 404 export.
	Errors []job.Error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is a crategate API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key in the api-key header of every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a Client for the API rooted at baseURL, e.g.
// "http://localhost:8080/api/v1/ro-crate".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExportResponse is the answer to an export. JobID is set when the server
// deferred the request; otherwise Content or DownloadURL is.
type ExportResponse struct {
	JobID       string
	Content     []byte
	ContentType string
	DownloadURL string
}

// Export requests identifiers as an RO-Crate in format
// (crate.MediaTypeJSONLD or crate.MediaTypeZip).
func (c *Client) Export(ctx context.Context, identifiers []string, format string, flags engine.Flags) (*ExportResponse, error) {
	body, err := json.Marshal(identifiers)
	if err != nil {
		return nil, fmt.Errorf("encode identifiers: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", crate.MediaTypeJSON)
	if format != "" {
		header.Set("export", format)
	}
	flags.SetHeader(header)

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/export", header, body)
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusAccepted:
		id, err := decodeJobID(resp.body)
		if err != nil {
			return nil, err
		}
		return &ExportResponse{JobID: id}, nil
	case http.StatusOK:
		if resp.contentType == crate.MediaTypeJSON {
			var link struct {
				DownloadURL string `json:"downloadUrl"`
			}
			if json.Unmarshal(resp.body, &link) == nil && link.DownloadURL != "" {
				return &ExportResponse{DownloadURL: link.DownloadURL}, nil
			}
		}
		return &ExportResponse{Content: resp.body, ContentType: resp.contentType}, nil
	default:
		return nil, apiError(resp)
	}
}

// ValidateResponse is the answer to a validation: a Report when it ran
// inline, a JobID when it was deferred.
type ValidateResponse struct {
	JobID  string
	Report *crate.Report
}

// Validate submits a crate document. contentType is crate.MediaTypeJSONLD
// for a bare metadata document or crate.MediaTypeZip for an archive.
func (c *Client) Validate(ctx context.Context, document []byte, contentType string) (*ValidateResponse, error) {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	header.Set("Accept", crate.MediaTypeJSON)

	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/validate", header, document)
	if err != nil {
		return nil, err
	}

	switch resp.status {
	case http.StatusAccepted:
		id, err := decodeJobID(resp.body)
		if err != nil {
			return nil, err
		}
		return &ValidateResponse{JobID: id}, nil
	case http.StatusOK:
		var report crate.Report
		if err := json.Unmarshal(resp.body, &report); err != nil {
			return nil, fmt.Errorf("decode report: %w", err)
		}
		return &ValidateResponse{Report: &report}, nil
	default:
		return nil, apiError(resp)
	}
}

// Status fetches a job once.
func (c *Client) Status(ctx context.Context, jobID string) (*job.Job, error) {
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/status/"+url.PathEscape(jobID), nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, apiError(resp)
	}
	var j job.Job
	if err := json.Unmarshal(resp.body, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}

// Download fetches a downloadUrl. Relative URLs are resolved against the
// client's base URL.
func (c *Client) Download(ctx context.Context, downloadURL string) (content []byte, contentType string, err error) {
	target, err := c.resolve(downloadURL)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, "", err
	}
	if resp.status != http.StatusOK {
		return nil, "", apiError(resp)
	}
	return resp.body, resp.contentType, nil
}

// PollOptions bound Poll. A zero Interval means DefaultPollInterval; a zero
// MaxAttempts polls until ctx is done.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
}

// Poll fetches the job until it is COMPLETED or FAILED. A FAILED job is
// returned without error. Running out of attempts returns the last job seen
// together with ErrPollTimeout.
func (c *Client) Poll(ctx context.Context, jobID string, opts PollOptions) (*job.Job, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		j, err := c.Status(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if j.Status.IsTerminal() {
			return j, nil
		}
		if opts.MaxAttempts > 0 && attempt >= opts.MaxAttempts {
			return j, fmt.Errorf("job %s still %s after %d attempts: %w", jobID, j.Status, attempt, ErrPollTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse download url: %w", err)
	}
	if u.IsAbs() {
		return ref, nil
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

type response struct {
	status      int
	contentType string
	body        []byte
}

func (c *Client) do(ctx context.Context, method, target string, header http.Header, body []byte) (*response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if header != nil {
		req.Header = header.Clone()
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return &response{status: resp.StatusCode, contentType: strings.TrimSpace(ct), body: data}, nil
}

func decodeJobID(body []byte) (string, error) {
	var accepted struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return "", fmt.Errorf("decode job id: %w", err)
	}
	if accepted.JobID == "" {
		return "", errors.New("server accepted the request without a jobId")
	}
	return accepted.JobID, nil
}

func apiError(resp *response) error {
	e := &APIError{StatusCode: resp.status}
	var payload struct {
		Message string      `json:"message"`
		Errors  []job.Error `json:"errors"`
	}
	if json.Unmarshal(resp.body, &payload) == nil {
		e.Message = payload.Message
		e.Errors = payload.Errors
	}
	return e
}
