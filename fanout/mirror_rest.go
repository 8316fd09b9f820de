package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// RESTMirror writes the latest entity state to a JSON tree over HTTP
// (Firebase Realtime Database REST semantics: PUT <base>/<path>.json).
type RESTMirror struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

func NewRESTMirror(baseURL, secret string, httpClient *http.Client) *RESTMirror {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &RESTMirror{baseURL: baseURL, secret: secret, httpClient: httpClient}
}

func (m *RESTMirror) Name() string { return "rest" }

func (m *RESTMirror) Write(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	target := fmt.Sprintf("%s/%s.json", m.baseURL, evt.Path())
	if m.secret != "" {
		target += "?auth=" + url.QueryEscape(m.secret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, auth query included
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("put %s: %w", evt.Path(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("put %s: status %d: %s", evt.Path(), resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
