// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package terminology loads per-language-pair medical terminology
// dictionaries and extracts known terms from text. Extracted terms feed
// the usage log and the term-based prediction strategy; the verifier
// checks that critical terms survived a warmed translation.
package terminology

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
)

// Entry is one terminology mapping. Dictionaries may map a term to a
// single translation or to per-context translations.
type Entry struct {
	Translation string            `json:"translation,omitempty"`
	ByContext   map[string]string `json:"by_context,omitempty"`
}

// translationFor resolves an entry for a context, preferring an exact
// context match, then "general", then the flat translation.
func (e Entry) translationFor(context string) string {
	if e.ByContext != nil {
		if t, ok := e.ByContext[context]; ok {
			return t
		}
		if t, ok := e.ByContext["general"]; ok {
			return t
		}
	}
	return e.Translation
}

// Dictionary is a loaded terminology dictionary for one language pair.
type Dictionary struct {
	SourceLanguage string
	TargetLanguage string
	entries        map[string]Entry
	// patterns are precompiled word-boundary matchers, multi-word
	// terms first and longest first so partial matches never win.
	patterns []termPattern
}

type termPattern struct {
	term string
	re   *regexp.Regexp
}

// Len returns the number of terms in the dictionary.
func (d *Dictionary) Len() int { return len(d.entries) }

// Terms returns the dictionary's terms that have a translation for the
// given context, sorted for deterministic output, at most limit.
func (d *Dictionary) Terms(context string, limit int) []string {
	out := make([]string, 0, len(d.entries))
	for term, e := range d.entries {
		if e.translationFor(context) != "" {
			out = append(out, term)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// VerificationResult reports whether one term's expected translation
// appeared in a translated text.
type VerificationResult struct {
	Term                string `json:"term"`
	ExpectedTranslation string `json:"expected_translation"`
	Found               bool   `json:"found"`
}

// Catalog caches dictionaries per language pair, loading them lazily
// from a directory of <src>-<tgt>.json files.
type Catalog struct {
	dir string

	mu    sync.RWMutex
	cache map[string]*Dictionary
}

// NewCatalog creates a catalog rooted at dir. The directory may be
// empty or missing; lookups then return empty dictionaries.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, cache: make(map[string]*Dictionary)}
}

// Invalidate drops a cached dictionary, forcing a reload on next use.
// The terminology syncer calls this after downloading an update.
func (c *Catalog) Invalidate(source, target string) {
	c.mu.Lock()
	delete(c.cache, source+"-"+target)
	c.mu.Unlock()
}

// TopTerms returns up to limit source-language terms translatable for
// the context, for warming the cache ahead of a disconnect.
func (c *Catalog) TopTerms(source, target, context string, limit int) []string {
	return c.Dictionary(source, target).Terms(context, limit)
}

// Dictionary returns the dictionary for a language pair, loading and
// caching it on first use. A missing file yields an empty dictionary.
func (c *Catalog) Dictionary(source, target string) *Dictionary {
	key := source + "-" + target

	c.mu.RLock()
	if d, ok := c.cache[key]; ok {
		c.mu.RUnlock()
		return d
	}
	c.mu.RUnlock()

	d := c.load(source, target)

	c.mu.Lock()
	c.cache[key] = d
	c.mu.Unlock()
	return d
}

func (c *Catalog) load(source, target string) *Dictionary {
	d := &Dictionary{
		SourceLanguage: source,
		TargetLanguage: target,
		entries:        make(map[string]Entry),
	}

	path := filepath.Join(c.dir, fmt.Sprintf("%s-%s.json", source, target))
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("Terminology: unreadable dictionary %s: %v", path, err)
		}
		return d
	}

	// Accept both the simple term->translation form and the rich
	// term->entry form.
	var rich map[string]Entry
	if err := json.Unmarshal(data, &rich); err == nil && hasTranslations(rich) {
		d.entries = rich
	} else {
		var flat map[string]string
		if err := json.Unmarshal(data, &flat); err != nil {
			log.Warnf("Terminology: corrupt dictionary %s: %v", path, err)
			return d
		}
		for term, tr := range flat {
			d.entries[term] = Entry{Translation: tr}
		}
	}

	d.compile()
	log.Infof("Terminology: loaded %d terms for %s->%s", len(d.entries), source, target)
	return d
}

func hasTranslations(m map[string]Entry) bool {
	for _, e := range m {
		if e.Translation != "" || len(e.ByContext) > 0 {
			return true
		}
	}
	return false
}

// compile builds word-boundary matchers, multi-word terms before
// single words and longest first.
func (d *Dictionary) compile() {
	terms := make([]string, 0, len(d.entries))
	for t := range d.entries {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		mi, mj := strings.Contains(terms[i], " "), strings.Contains(terms[j], " ")
		if mi != mj {
			return mi
		}
		return len(terms[i]) > len(terms[j])
	})

	d.patterns = make([]termPattern, 0, len(terms))
	for _, t := range terms {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
		if err != nil {
			log.Warnf("Terminology: skipping unmatchable term %q: %v", t, err)
			continue
		}
		d.patterns = append(d.patterns, termPattern{term: t, re: re})
	}
}

// ExtractTerms returns the known terms appearing in text, multi-word
// terms first. Matching is case-insensitive on word boundaries.
func (d *Dictionary) ExtractTerms(text string) []string {
	if len(d.patterns) == 0 || text == "" {
		return nil
	}
	var found []string
	for _, p := range d.patterns {
		if p.re.MatchString(text) {
			found = append(found, p.term)
		}
	}
	return found
}

// Verify checks whether the expected translation of each source term
// appears in the translated text.
func (d *Dictionary) Verify(sourceText, translatedText, context string) []VerificationResult {
	terms := d.ExtractTerms(sourceText)
	if len(terms) == 0 {
		return nil
	}

	results := make([]VerificationResult, 0, len(terms))
	for _, term := range terms {
		expected := d.entries[term].translationFor(context)
		if expected == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(expected) + `\b`)
		found := false
		if err != nil {
			found = strings.Contains(strings.ToLower(translatedText), strings.ToLower(expected))
		} else {
			found = re.MatchString(translatedText)
		}
		results = append(results, VerificationResult{
			Term:                term,
			ExpectedTranslation: expected,
			Found:               found,
		})
	}
	return results
}

// ExtractTerms is the catalog-level convenience used when logging a
// translation event: it extracts terms against the source->English
// dictionary, the richest one available, falling back to the pair's
// own dictionary.
func (c *Catalog) ExtractTerms(text, source, target string) []string {
	d := c.Dictionary(source, "en")
	if d.Len() == 0 && target != "en" {
		d = c.Dictionary(source, target)
	}
	return d.ExtractTerms(text)
}
