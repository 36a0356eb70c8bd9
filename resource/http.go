package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const bodySnippetLimit = 2048

// HTTPOptions configure an HTTPClient.
type HTTPOptions struct {
	// BaseURL is required, e.g. "https://api.example.com/v1".
	BaseURL string
	// Client lets callers bring their own transport (auth round trippers,
	// tracing). nil => a client with a 15s timeout.
	Client *http.Client
	// Header is attached to every request (e.g. Authorization).
	Header http.Header
}

// HTTPClient is the net/http implementation of Client.
type HTTPClient struct {
	base   *url.URL
	hc     *http.Client
	header http.Header
}

var _ Client = (*HTTPClient)(nil)

func NewHTTP(opts HTTPOptions) (*HTTPClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("resource: BaseURL is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("resource: parse base url: %w", err)
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{base: base, hc: hc, header: opts.Header}, nil
}

func (c *HTTPClient) Get(ctx context.Context, path string, query url.Values) (any, error) {
	p := path
	if len(query) > 0 {
		p += "?" + query.Encode()
	}
	return c.Do(ctx, http.MethodGet, p, nil)
}

func (c *HTTPClient) Do(ctx context.Context, method, path string, body any) (any, error) {
	pathOnly, rawQuery, _ := strings.Cut(path, "?")
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(pathOnly, "/")
	u.RawQuery = rawQuery

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("resource: encode body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, bodySnippetLimit))
		return nil, &StatusError{
			Status: resp.StatusCode,
			Method: method,
			Path:   path,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("resource: read body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("resource: decode %s %s: %w", method, path, err)
	}
	return out, nil
}
