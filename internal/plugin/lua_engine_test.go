// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/predict"
)

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "strategy.lua")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing script: %v", err)
	}
	return path
}

func testOptions() predict.Options {
	return predict.Options{
		Now:           time.Date(2026, 3, 16, 14, 0, 0, 0, time.UTC),
		ActivePair:    "es->en",
		ActiveContext: "emergency",
		OfflineRisk:   0.4,
	}
}

func TestLoadStrategyEmptyPath(t *testing.T) {
	e, err := LoadStrategy("location", "")
	if err != nil {
		t.Fatalf("LoadStrategy() failed: %v", err)
	}
	if e != nil {
		t.Fatal("empty path returned an engine")
	}
	if e.StrategyFunc() != nil {
		t.Error("nil engine yielded a strategy func")
	}
}

func TestLoadStrategyMissingFile(t *testing.T) {
	if _, err := LoadStrategy("location", filepath.Join(t.TempDir(), "absent.lua")); err == nil {
		t.Error("missing script accepted")
	}
}

func TestLoadStrategyCompileError(t *testing.T) {
	path := writeScript(t, "function predict( -- broken")
	if _, err := LoadStrategy("location", path); err == nil {
		t.Error("unparseable script accepted")
	}
}

func TestStrategyEmitsPredictions(t *testing.T) {
	path := writeScript(t, `
function predict(input)
  if input.offline_risk < 0.3 then
    return {}
  end
  return {
    {
      source_language = "es",
      target_language = "en",
      context = input.active_context,
      score = 0.55,
      reason = "location",
      offline_relevant = true,
    },
  }
end
`)
	e, err := LoadStrategy("location", path)
	if err != nil {
		t.Fatalf("LoadStrategy() failed: %v", err)
	}

	fn := e.StrategyFunc()
	got := fn(context.Background(), model.NewPredictionModel(), testOptions())
	if len(got) != 1 {
		t.Fatalf("predictions = %v", got)
	}
	p := got[0]
	if p.SourceLanguage != "es" || p.TargetLanguage != "en" {
		t.Errorf("pair = %s->%s", p.SourceLanguage, p.TargetLanguage)
	}
	if p.Context != "emergency" || p.Score != 0.55 {
		t.Errorf("prediction = %+v", p)
	}
	if p.Reason != model.ReasonLocation || !p.OfflineRelevant {
		t.Errorf("reason/offline = %v/%v", p.Reason, p.OfflineRelevant)
	}

	// Below the script's own risk gate nothing comes back.
	opts := testOptions()
	opts.OfflineRisk = 0.1
	if got := fn(context.Background(), model.NewPredictionModel(), opts); len(got) != 0 {
		t.Errorf("low-risk predictions = %v", got)
	}
}

func TestStrategyReturnedTableForm(t *testing.T) {
	path := writeScript(t, `
local M = {}
function M.predict(input)
  return {
    {source_language = "ar", target_language = "en", score = 0.3, reason = "device_state"},
  }
end
return M
`)
	e, err := LoadStrategy("device", path)
	if err != nil {
		t.Fatalf("LoadStrategy() failed: %v", err)
	}
	got := e.StrategyFunc()(context.Background(), model.NewPredictionModel(), testOptions())
	if len(got) != 1 || got[0].Reason != model.ReasonDeviceState {
		t.Errorf("predictions = %v", got)
	}
	if got[0].Context != "general" {
		t.Errorf("context = %q, want general default", got[0].Context)
	}
}

func TestStrategyDropsInvalidEntries(t *testing.T) {
	path := writeScript(t, `
function predict(input)
  return {
    {source_language = "es", score = 0.5},
    {source_language = "es", target_language = "en", score = 0},
    "not a table",
    {source_language = "es", target_language = "en", score = 0.5},
  }
end
`)
	e, err := LoadStrategy("location", path)
	if err != nil {
		t.Fatalf("LoadStrategy() failed: %v", err)
	}
	got := e.StrategyFunc()(context.Background(), model.NewPredictionModel(), testOptions())
	if len(got) != 1 {
		t.Errorf("predictions = %v, want only the complete entry", got)
	}
}

func TestStrategyWithoutPredictFunction(t *testing.T) {
	path := writeScript(t, `local x = 1`)
	e, err := LoadStrategy("location", path)
	if err != nil {
		t.Fatalf("LoadStrategy() failed: %v", err)
	}
	if got := e.StrategyFunc()(context.Background(), model.NewPredictionModel(), testOptions()); got != nil {
		t.Errorf("predictions = %v, want nil for a script without predict()", got)
	}
}

func TestStrategyRuntimeErrorIsContained(t *testing.T) {
	path := writeScript(t, `
function predict(input)
  error("boom")
end
`)
	e, err := LoadStrategy("location", path)
	if err != nil {
		t.Fatalf("LoadStrategy() failed: %v", err)
	}
	if got := e.StrategyFunc()(context.Background(), model.NewPredictionModel(), testOptions()); got != nil {
		t.Errorf("predictions = %v, want nil on script error", got)
	}
}
