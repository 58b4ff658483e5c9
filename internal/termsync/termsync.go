// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package termsync keeps the local terminology dictionaries current
// with the fleet bucket. The bucket carries a manifest naming each
// dictionary object with its SHA-256; only objects whose digest differs
// from the local copy are downloaded, and every download is verified
// before it replaces the previous file.
package termsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	log "github.com/sirupsen/logrus"

	"github.com/medtranslate/edgecache/internal/terminology"
	"github.com/medtranslate/edgecache/internal/util"
)

// ManifestEntry describes one dictionary object in the bucket.
type ManifestEntry struct {
	Key            string `json:"key"` // object key, e.g. "dictionaries/es-en.json"
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	SHA256         string `json:"sha256"`
	Version        int    `json:"version"`
}

// Manifest is the bucket's dictionary index.
type Manifest struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Entries     []ManifestEntry `json:"entries"`
}

// Config locates the bucket and the local dictionary directory.
type Config struct {
	Endpoint    string
	Bucket      string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	ManifestKey string
	LocalDir    string
}

// Result summarizes one sync pass.
type Result struct {
	Checked    int `json:"checked"`
	Downloaded int `json:"downloaded"`
	Failed     int `json:"failed"`
	UpToDate   int `json:"up_to_date"`
}

// Syncer downloads dictionary updates.
type Syncer struct {
	cfg     Config
	client  *minio.Client
	catalog *terminology.Catalog
}

// New creates a syncer bound to a catalog. The catalog is invalidated
// per pair after a successful download.
func New(cfg Config, catalog *terminology.Catalog) (*Syncer, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("termsync: endpoint is required")
	}
	if cfg.ManifestKey == "" {
		cfg.ManifestKey = "dictionaries/manifest.json"
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("termsync: create client: %w", err)
	}
	return &Syncer{cfg: cfg, client: client, catalog: catalog}, nil
}

// Sync runs one pass: fetch the manifest, compare digests, download
// what changed. Per-object failures are counted, not fatal.
func (s *Syncer) Sync(ctx context.Context) (*Result, error) {
	manifest, err := s.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{Checked: len(manifest.Entries)}
	for _, entry := range manifest.Entries {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		switch err := s.syncEntry(ctx, entry); {
		case err == nil:
			res.Downloaded++
		case err == errUpToDate:
			res.UpToDate++
		default:
			res.Failed++
			log.Warnf("Terminology sync: %s: %v", entry.Key, err)
		}
	}

	log.Infof("Terminology sync: %d checked, %d downloaded, %d current, %d failed",
		res.Checked, res.Downloaded, res.UpToDate, res.Failed)
	return res, nil
}

var errUpToDate = fmt.Errorf("up to date")

func (s *Syncer) fetchManifest(ctx context.Context) (*Manifest, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, s.cfg.ManifestKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("termsync: get manifest: %w", err)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("termsync: read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("termsync: parse manifest: %w", err)
	}
	return &manifest, nil
}

func (s *Syncer) syncEntry(ctx context.Context, entry ManifestEntry) error {
	if entry.SourceLanguage == "" || entry.TargetLanguage == "" {
		return fmt.Errorf("manifest entry missing language pair")
	}
	localPath := filepath.Join(s.cfg.LocalDir,
		fmt.Sprintf("%s-%s.json", entry.SourceLanguage, entry.TargetLanguage))

	if digest, err := fileSHA256(localPath); err == nil && digest == strings.ToLower(entry.SHA256) {
		return errUpToDate
	}

	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, entry.Key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return fmt.Errorf("read object: %w", err)
	}

	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != strings.ToLower(entry.SHA256) {
		return fmt.Errorf("digest mismatch: manifest %s, object %s", entry.SHA256, got)
	}

	if err := os.MkdirAll(s.cfg.LocalDir, 0o755); err != nil {
		return fmt.Errorf("create dictionary dir: %w", err)
	}
	if err := util.SecureWrite(localPath, data, nil); err != nil {
		return fmt.Errorf("write dictionary: %w", err)
	}

	if s.catalog != nil {
		s.catalog.Invalidate(entry.SourceLanguage, entry.TargetLanguage)
	}
	log.Debugf("Terminology sync: updated %s-%s (v%d)",
		entry.SourceLanguage, entry.TargetLanguage, entry.Version)
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
