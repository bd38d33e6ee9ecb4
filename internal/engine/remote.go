package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/crategate/crategate/internal/crate"
)

const (
	retryAttempts = 4
	retryBase     = 250 * time.Millisecond
	retryCap      = 10 * time.Second

	// maxRemoteResponse bounds what is read from an engine response.
	maxRemoteResponse = 256 << 20
)

// RemoteValidator forwards validation to an external engine over HTTP.
type RemoteValidator struct {
	baseURL string
	client  *http.Client
}

// NewRemoteValidator targets baseURL + "/validate".
func NewRemoteValidator(baseURL string, timeout time.Duration) *RemoteValidator {
	return &RemoteValidator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (v *RemoteValidator) Validate(ctx context.Context, g *crate.Graph) (*crate.Report, error) {
	header := http.Header{}
	header.Set("Content-Type", crate.MediaTypeJSONLD)
	header.Set("Accept", crate.MediaTypeJSON)

	resp, err := send(ctx, v.client, v.baseURL+"/validate", header, g.Raw)
	if err != nil {
		return nil, fmt.Errorf("remote validate: %w", err)
	}
	if resp.status != http.StatusOK {
		return nil, fmt.Errorf("remote validate: unexpected status %d: %s", resp.status, snippet(resp.body))
	}

	var report crate.Report
	if err := json.Unmarshal(resp.body, &report); err != nil {
		return nil, fmt.Errorf("remote validate: decode report: %w", err)
	}
	return crate.NewReport(report.IsValid, report.Entities, report.Issues), nil
}

// RemoteExporter forwards exports to an external engine over HTTP.
type RemoteExporter struct {
	baseURL string
	client  *http.Client
}

// NewRemoteExporter targets baseURL + "/export".
func NewRemoteExporter(baseURL string, timeout time.Duration) *RemoteExporter {
	return &RemoteExporter{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (x *RemoteExporter) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	body, err := json.Marshal(req.Identifiers)
	if err != nil {
		return nil, fmt.Errorf("encode identifiers: %w", err)
	}
	header := http.Header{}
	header.Set("Content-Type", crate.MediaTypeJSON)
	header.Set("export", req.Format)
	req.Flags.SetHeader(header)

	resp, err := send(ctx, x.client, x.baseURL+"/export", header, body)
	if err != nil {
		return nil, fmt.Errorf("remote export: %w", err)
	}

	switch resp.status {
	case http.StatusOK:
		if resp.contentType == crate.MediaTypeJSON {
			var link struct {
				DownloadURL string `json:"downloadUrl"`
			}
			if json.Unmarshal(resp.body, &link) == nil && link.DownloadURL != "" {
				return &ExportResult{DownloadURL: link.DownloadURL}, nil
			}
		}
		return &ExportResult{Content: resp.body, ContentType: resp.contentType}, nil
	case http.StatusNotFound:
		return nil, &NotFoundError{Identifiers: notFoundIdentifiers(resp.body, req.Identifiers)}
	default:
		return nil, fmt.Errorf("remote export: unexpected status %d: %s", resp.status, snippet(resp.body))
	}
}

// notFoundIdentifiers reads {"errors": [{"identifier": ...}]} from a 404
// body, falling back to every requested identifier.
func notFoundIdentifiers(body []byte, requested []string) []string {
	var payload struct {
		Errors []struct {
			Identifier string `json:"identifier"`
		} `json:"errors"`
	}
	if json.Unmarshal(body, &payload) == nil {
		var ids []string
		for _, e := range payload.Errors {
			if e.Identifier != "" {
				ids = append(ids, e.Identifier)
			}
		}
		if len(ids) > 0 {
			return ids
		}
	}
	return requested
}

type response struct {
	status      int
	contentType string
	body        []byte
}

// errRetryable marks failures worth another attempt: transport errors and 5xx.
var errRetryable = errors.New("retryable")

// send POSTs body with full-jitter exponential backoff between attempts.
// The caller's API key travels in the api-key header.
func send(ctx context.Context, client *http.Client, url string, header http.Header, body []byte) (*response, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		resp, err := post(ctx, client, url, header, body)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, errRetryable) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		slog.Warn("engine request failed", "attempt", attempt, "url", url, "error", err)
		if attempt < retryAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter(attempt)):
			}
		}
	}
	return nil, fmt.Errorf("all %d attempts failed: %w", retryAttempts, lastErr)
}

// jitter returns a random duration between 0 and min(retryCap, retryBase * 2^attempt).
func jitter(attempt int) time.Duration {
	exp := retryBase * (1 << attempt)
	if exp > retryCap {
		exp = retryCap
	}
	return time.Duration(rand.Int64N(int64(exp)))
}

func post(ctx context.Context, client *http.Client, url string, header http.Header, body []byte) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header = header.Clone()
	if key := APIKey(ctx); key != "" {
		req.Header.Set("api-key", key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errRetryable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteResponse))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", errRetryable, err)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: status %d: %s", errRetryable, resp.StatusCode, snippet(data))
	}

	ct := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return &response{status: resp.StatusCode, contentType: strings.TrimSpace(ct), body: data}, nil
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
