// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package store persists the engine's two durable artifacts, the usage
// log and the prediction model, as schema-versioned JSON documents. A
// zstd-compressed backend is preferred; a plain flat file is the
// fallback, and any parse failure degrades to empty defaults.
package store

import (
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/medtranslate/edgecache/internal/util"
)

// Backend reads and writes a serialized document at a path.
type Backend interface {
	// Ext is the filename suffix appended to the artifact base path.
	Ext() string
	Write(path string, data []byte) error
	Read(path string) ([]byte, error)
}

// plainBackend writes documents as flat JSON files.
type plainBackend struct{}

func (plainBackend) Ext() string { return ".json" }

func (plainBackend) Write(path string, data []byte) error {
	return util.SecureWrite(path, data, nil)
}

func (plainBackend) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// zstdBackend wraps documents in zstd compression.
type zstdBackend struct{}

func (zstdBackend) Ext() string { return ".json.zst" }

func (zstdBackend) Write(path string, data []byte) error {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("store: failed to create zstd encoder: %w", err)
	}
	compressed := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	if err := enc.Close(); err != nil {
		return fmt.Errorf("store: failed to close zstd encoder: %w", err)
	}
	return util.SecureWrite(path, compressed, nil)
}

func (zstdBackend) Read(path string) ([]byte, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("store: failed to create zstd decoder: %w", err)
	}
	defer dec.Close()
	data, err := dec.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("store: failed to decompress %s: %w", path, err)
	}
	return data, nil
}
