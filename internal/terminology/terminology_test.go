// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package terminology

import (
	"os"
	"path/filepath"
	"testing"
)

func writeDictionary(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("writing dictionary: %v", err)
	}
}

func TestCatalogMissingDirectory(t *testing.T) {
	c := NewCatalog(filepath.Join(t.TempDir(), "nope"))
	d := c.Dictionary("es", "en")
	if d.Len() != 0 {
		t.Errorf("missing directory yielded %d terms", d.Len())
	}
	if got := c.TopTerms("es", "en", "general", 5); got != nil {
		t.Errorf("TopTerms on empty dictionary = %v", got)
	}
}

func TestCatalogFlatDictionary(t *testing.T) {
	dir := t.TempDir()
	writeDictionary(t, dir, "es-en.json", `{
		"dolor": "pain",
		"fiebre": "fever",
		"insulina": "insulin"
	}`)

	c := NewCatalog(dir)
	d := c.Dictionary("es", "en")
	if d.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", d.Len())
	}
	terms := d.Terms("general", 0)
	want := []string{"dolor", "fiebre", "insulina"}
	if len(terms) != 3 {
		t.Fatalf("Terms() = %v", terms)
	}
	for i, w := range want {
		if terms[i] != w {
			t.Errorf("Terms()[%d] = %q, want %q (sorted)", i, terms[i], w)
		}
	}
	if got := d.Terms("general", 2); len(got) != 2 {
		t.Errorf("limited Terms() = %v", got)
	}
}

func TestCatalogRichDictionary(t *testing.T) {
	dir := t.TempDir()
	writeDictionary(t, dir, "es-en.json", `{
		"alta": {"by_context": {"discharge": "discharge", "general": "high"}},
		"dolor": {"translation": "pain"},
		"receta": {"by_context": {"medication": "prescription"}}
	}`)

	c := NewCatalog(dir)
	d := c.Dictionary("es", "en")
	if d.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", d.Len())
	}

	// Context resolution: exact context, then general, then flat.
	if got := d.entries["alta"].translationFor("discharge"); got != "discharge" {
		t.Errorf("alta/discharge = %q", got)
	}
	if got := d.entries["alta"].translationFor("emergency"); got != "high" {
		t.Errorf("alta/emergency = %q, want general fallback", got)
	}
	if got := d.entries["dolor"].translationFor("emergency"); got != "pain" {
		t.Errorf("dolor/emergency = %q, want flat translation", got)
	}
	if got := d.entries["receta"].translationFor("emergency"); got != "" {
		t.Errorf("receta/emergency = %q, want empty", got)
	}

	// Terms filters out entries with no translation for the context.
	got := d.Terms("emergency", 0)
	if len(got) != 2 || got[0] != "alta" || got[1] != "dolor" {
		t.Errorf("Terms(emergency) = %v, want [alta dolor]", got)
	}
}

func TestCatalogCorruptDictionary(t *testing.T) {
	dir := t.TempDir()
	writeDictionary(t, dir, "es-en.json", `{not json`)

	c := NewCatalog(dir)
	if got := c.Dictionary("es", "en").Len(); got != 0 {
		t.Errorf("corrupt dictionary yielded %d terms", got)
	}
}

func TestCatalogInvalidate(t *testing.T) {
	dir := t.TempDir()
	writeDictionary(t, dir, "es-en.json", `{"dolor": "pain"}`)

	c := NewCatalog(dir)
	if got := c.Dictionary("es", "en").Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}

	// Cached dictionary survives a file rewrite until invalidated.
	writeDictionary(t, dir, "es-en.json", `{"dolor": "pain", "fiebre": "fever"}`)
	if got := c.Dictionary("es", "en").Len(); got != 1 {
		t.Errorf("Len() after rewrite = %d, want cached 1", got)
	}
	c.Invalidate("es", "en")
	if got := c.Dictionary("es", "en").Len(); got != 2 {
		t.Errorf("Len() after invalidate = %d, want 2", got)
	}
}

func TestExtractTerms(t *testing.T) {
	dir := t.TempDir()
	writeDictionary(t, dir, "es-en.json", `{
		"dolor": "pain",
		"dolor de cabeza": "headache",
		"fiebre": "fever"
	}`)

	c := NewCatalog(dir)
	d := c.Dictionary("es", "en")

	got := d.ExtractTerms("Tengo dolor de cabeza y fiebre")
	if len(got) != 3 {
		t.Fatalf("ExtractTerms() = %v", got)
	}
	// Multi-word terms come first.
	if got[0] != "dolor de cabeza" {
		t.Errorf("ExtractTerms()[0] = %q, want multi-word term first", got[0])
	}

	// Word boundaries: a term inside a longer word does not match.
	if got := d.ExtractTerms("dolores nada"); got != nil {
		t.Errorf("ExtractTerms(embedded) = %v", got)
	}
	if got := d.ExtractTerms(""); got != nil {
		t.Errorf("ExtractTerms(empty) = %v", got)
	}

	// Case-insensitive on word boundaries.
	if got := d.ExtractTerms("FIEBRE alta"); len(got) != 1 || got[0] != "fiebre" {
		t.Errorf("ExtractTerms(upper) = %v", got)
	}
}

func TestCatalogExtractTermsFallback(t *testing.T) {
	dir := t.TempDir()
	writeDictionary(t, dir, "es-ar.json", `{"dolor": "alam"}`)

	c := NewCatalog(dir)
	// No es-en dictionary exists, so the pair's own dictionary is used.
	got := c.ExtractTerms("dolor fuerte", "es", "ar")
	if len(got) != 1 || got[0] != "dolor" {
		t.Errorf("ExtractTerms fallback = %v", got)
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	writeDictionary(t, dir, "es-en.json", `{
		"dolor": "pain",
		"insulina": {"by_context": {"medication": "insulin"}}
	}`)

	c := NewCatalog(dir)
	d := c.Dictionary("es", "en")

	results := d.Verify("tome su insulina para el dolor", "take your insulin for the pain", "medication")
	if len(results) != 2 {
		t.Fatalf("Verify() = %v", results)
	}
	for _, r := range results {
		if !r.Found {
			t.Errorf("term %q (expected %q) not found in translation", r.Term, r.ExpectedTranslation)
		}
	}

	// Missing translation in the output is reported, not dropped.
	results = d.Verify("el dolor", "the discomfort", "general")
	if len(results) != 1 || results[0].Found {
		t.Errorf("Verify(missing) = %v", results)
	}

	// Terms with no translation for the context are skipped entirely.
	results = d.Verify("insulina", "insulin", "general")
	if len(results) != 0 {
		t.Errorf("Verify(no context translation) = %v", results)
	}

	if got := d.Verify("nada", "nothing", "general"); got != nil {
		t.Errorf("Verify(no terms) = %v", got)
	}
}
