// Package exchange sends one recorded turn to the remote voice endpoint and
// returns the audio it answers with.
package exchange

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/audio"
)

const (
	FieldAudio   = "audio"
	FieldSession = "session"

	RequestIDHeader = "X-Request-ID"
)

// TransportError is a non-200 answer or a network failure. StatusCode is 0
// for the latter.
type TransportError struct {
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("exchange failed: %v", e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("exchange failed: %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("exchange failed: %s", e.Status)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Result is the answer to one turn.
type Result struct {
	Audio     audio.Blob
	RequestID string
	Metrics   *NetworkMetrics
}

type Exchanger interface {
	Exchange(ctx context.Context, blob audio.Blob, sessionID string) (*Result, error)
}

type Client struct {
	client   *http.Client
	endpoint string
	timeout  time.Duration
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		client:   newHTTPClient(),
		endpoint: endpoint,
		timeout:  timeout,
	}
}

func (c *Client) Endpoint() string { return c.endpoint }

func extensionFor(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "audio/flac"):
		return "flac"
	case strings.HasPrefix(contentType, "audio/L16"):
		return "pcm"
	case strings.HasPrefix(contentType, "audio/wav"):
		return "wav"
	case strings.HasPrefix(contentType, "audio/webm"):
		return "webm"
	default:
		return "bin"
	}
}

// writeForm writes the multipart body of one turn to w and returns its
// Content-Type.
func writeForm(w io.Writer, blob audio.Blob, sessionID string) (string, error) {
	writer := multipart.NewWriter(w)

	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FieldAudio, "recording."+extensionFor(contentType)))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("creating audio part: %w", err)
	}
	if _, err := part.Write(blob.Data); err != nil {
		return "", fmt.Errorf("writing audio part: %w", err)
	}
	if err := writer.WriteField(FieldSession, sessionID); err != nil {
		return "", fmt.Errorf("writing session field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("closing multipart body: %w", err)
	}
	return writer.FormDataContentType(), nil
}

func (c *Client) Exchange(ctx context.Context, blob audio.Blob, sessionID string) (*Result, error) {
	var body bytes.Buffer
	formType, err := writeForm(&body, blob, sessionID)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", formType)
	req.Header.Set(RequestIDHeader, requestID)

	resp, err := roundTrip(c.client, req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		status := http.StatusText(resp.StatusCode)
		if status == "" {
			status = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, &TransportError{
			StatusCode: resp.StatusCode,
			Status:     fmt.Sprintf("%d %s", resp.StatusCode, status),
			Body:       truncate(strings.TrimSpace(string(resp.Body)), 200),
		}
	}

	respType := resp.Header.Get("Content-Type")
	if respType == "" || respType == "application/octet-stream" {
		respType = http.DetectContentType(resp.Body)
	}

	return &Result{
		Audio:     audio.Blob{Data: resp.Body, ContentType: respType},
		RequestID: requestID,
		Metrics:   resp.Metrics,
	}, nil
}

// Probe sends a HEAD to the endpoint and reports how long the round trip
// took. Any HTTP answer counts as reachable.
func (c *Client) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, &TransportError{Err: err}
	}
	resp.Body.Close()
	return time.Since(start), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
