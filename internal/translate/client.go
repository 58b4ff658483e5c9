// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package translate is the HTTP client used to warm the translation
// cache. A warm request is an ordinary translation request flagged as
// pre-cache so the backend can deprioritize it.
package translate

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/goccy/go-json"
)

// Request is one translation to warm into the cache.
type Request struct {
	Text            string `json:"text"`
	SourceLanguage  string `json:"sourceLanguage"`
	TargetLanguage  string `json:"targetLanguage"`
	Context         string `json:"context,omitempty"`
	OfflinePriority bool   `json:"offlinePriority,omitempty"`
	PreCached       bool   `json:"preCached"`
	Reason          string `json:"reason,omitempty"`
}

// Response is the backend's answer.
type Response struct {
	TranslatedText string  `json:"translatedText"`
	Confidence     float64 `json:"confidence,omitempty"`
	CacheKey       string  `json:"cacheKey,omitempty"`
}

// Client talks to the translation backend.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// New creates a client. A non-positive timeout defaults to 30 seconds.
func New(endpoint, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: timeout},
	}
}

// Translate performs one warm request.
func (c *Client) Translate(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("translate: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("translate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept-Encoding", "br, gzip")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("translate: %w", err)
	}
	defer resp.Body.Close()

	reader, err := decodeBody(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(reader, 512))
		return nil, fmt.Errorf("translate: backend returned %d: %s", resp.StatusCode, snippet)
	}

	var out Response
	if err := json.NewDecoder(reader).Decode(&out); err != nil {
		return nil, fmt.Errorf("translate: decode response: %w", err)
	}
	return &out, nil
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("translate: gzip response: %w", err)
		}
		return gz, nil
	default:
		return resp.Body, nil
	}
}
