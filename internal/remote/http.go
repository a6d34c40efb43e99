package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	DefaultTimeout       = 5 * time.Second
	DefaultPublicTimeout = 10 * time.Second
	maxResponseBytes     = 16 << 20
	maxErrorMessageLen   = 200
)

type httpRequest struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
}

type httpResponse struct {
	status int
	header http.Header
	body   []byte
}

// httpTransport does one attempt per call. Failures are classified, never
// retried inline; the next poll or user action is the retry.
type httpTransport struct {
	mode       Mode
	httpClient *http.Client
	authorize  func(req *http.Request)
}

func newHTTPTransport(mode Mode, httpClient *http.Client, timeout time.Duration, authorize func(req *http.Request)) httpTransport {
	if httpClient == nil {
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return httpTransport{mode: mode, httpClient: httpClient, authorize: authorize}
}

func (t httpTransport) do(ctx context.Context, op string, r httpRequest) (httpResponse, error) {
	var bodyReader io.Reader
	if r.body != nil {
		bodyReader = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, bodyReader)
	if err != nil {
		return httpResponse{}, newError(t.mode, op, KindUnknown, err)
	}
	req.Header.Set("X-Correlation-Id", correlationID(t.mode))
	if t.authorize != nil {
		t.authorize(req)
	}
	for key, value := range r.headers {
		req.Header.Set(key, value)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return httpResponse{}, newError(t.mode, op, KindRemoteUnavailable, err)
	}
	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	_ = resp.Body.Close()
	if readErr != nil {
		return httpResponse{}, newError(t.mode, op, KindRemoteUnavailable, readErr)
	}
	out := httpResponse{status: resp.StatusCode, header: resp.Header, body: payload}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return out, nil
	}
	return out, &Error{
		Kind:       kindForStatus(resp.StatusCode),
		Mode:       t.mode,
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(payload),
	}
}

// errorMessage pulls a readable message out of an error body without
// assuming any one backend's envelope.
func errorMessage(payload []byte) string {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return ""
	}
	var parsed map[string]any
	if json.Unmarshal(trimmed, &parsed) == nil {
		for _, key := range []string{"error_summary", "message", "error_description", "error"} {
			if value, ok := parsed[key].(string); ok && strings.TrimSpace(value) != "" {
				return strings.TrimSpace(value)
			}
		}
	}
	if trimmed[0] == '<' {
		return "html error page"
	}
	return truncateRunes(string(trimmed), maxErrorMessageLen)
}

// truncateRunes cuts s to at most limit bytes without splitting a rune.
func truncateRunes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func correlationID(mode Mode) string {
	return fmt.Sprintf("tasksync_%s_%d", mode, time.Now().UnixNano())
}

func bearer(token string) func(req *http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
