// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package translate

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	json "github.com/goccy/go-json"
)

func TestTranslateRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q", got)
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Text != "Where is the pain?" || !req.PreCached || !req.OfflinePriority {
			t.Errorf("request = %+v", req)
		}

		_ = json.NewEncoder(w).Encode(Response{
			TranslatedText: "Donde le duele?",
			Confidence:     0.93,
			CacheKey:       "translation:en:es:emergency:abc",
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "secret", time.Second)
	got, err := c.Translate(context.Background(), Request{
		Text:            "Where is the pain?",
		SourceLanguage:  "en",
		TargetLanguage:  "es",
		Context:         "emergency",
		OfflinePriority: true,
		PreCached:       true,
	})
	if err != nil {
		t.Fatalf("Translate() failed: %v", err)
	}
	if got.TranslatedText != "Donde le duele?" || got.Confidence != 0.93 {
		t.Errorf("response = %+v", got)
	}
}

func TestTranslateNoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Errorf("Authorization = %q, want unset", got)
		}
		_ = json.NewEncoder(w).Encode(Response{TranslatedText: "ok"})
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	if _, err := c.Translate(context.Background(), Request{Text: "hi"}); err != nil {
		t.Fatalf("Translate() failed: %v", err)
	}
}

func TestTranslateGzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_ = json.NewEncoder(gz).Encode(Response{TranslatedText: "comprimido"})
		gz.Close()
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	got, err := c.Translate(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Translate() failed: %v", err)
	}
	if got.TranslatedText != "comprimido" {
		t.Errorf("TranslatedText = %q", got.TranslatedText)
	}
}

func TestTranslateBrotliResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		bw := brotli.NewWriter(w)
		_ = json.NewEncoder(bw).Encode(Response{TranslatedText: "comprimido"})
		bw.Close()
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	got, err := c.Translate(context.Background(), Request{Text: "hi"})
	if err != nil {
		t.Fatalf("Translate() failed: %v", err)
	}
	if got.TranslatedText != "comprimido" {
		t.Errorf("TranslatedText = %q", got.TranslatedText)
	}
}

func TestTranslateBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "", time.Second)
	_, err := c.Translate(context.Background(), Request{Text: "hi"})
	if err == nil {
		t.Fatal("Translate() succeeded on a 429")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limit") {
		t.Errorf("error = %v, want status and body snippet", err)
	}
}

func TestTranslateContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect
		// and cancels the request context; otherwise Close hangs.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := New(srv.URL, "", time.Second)
	if _, err := c.Translate(ctx, Request{Text: "hi"}); err == nil {
		t.Error("Translate() ignored context cancellation")
	}
}

func TestNewDefaultTimeout(t *testing.T) {
	c := New("http://localhost", "", 0)
	if c.http.Timeout != 30*time.Second {
		t.Errorf("timeout = %s, want 30s default", c.http.Timeout)
	}
}
