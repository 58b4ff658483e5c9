// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package prepare turns ranked predictions into warmed cache entries.
// Predictions are tiered by priority, trimmed to the cache's capacity,
// and fetched in concurrent batches with a pause between batches so the
// device is never saturated.
package prepare

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tiktoken-go/tokenizer"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/terminology"
	"github.com/medtranslate/edgecache/internal/translate"
)

// Tier is a preparation priority band.
type Tier string

const (
	TierCritical Tier = "critical"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// Tier score cut points.
const (
	criticalCut = 0.8
	highCut     = 0.5
	mediumCut   = 0.3
)

// complexTokenCount marks a warm text as complex for reporting.
const complexTokenCount = 60

// Status values for a whole preparation run.
const (
	StatusCompleted         = "completed"
	StatusSkippedOffline    = "skipped_offline"
	StatusInsufficientSpace = "insufficient_space"
	StatusNothingToDo       = "nothing_to_do"
)

// Item is one tiered unit of work: a prediction plus the texts that
// will be warmed for it.
type Item struct {
	Prediction model.Prediction
	Tier       Tier
	TierScore  float64
	Texts      []string
}

// ItemResult reports one warmed text.
type ItemResult struct {
	CacheKey  string `json:"cache_key"`
	Pair      string `json:"pair"`
	Context   string `json:"context"`
	Tier      Tier   `json:"tier"`
	Status    string `json:"status"` // "cached", "already_cached", "failed"
	Error     string `json:"error,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms"`
	Complex   bool   `json:"complex,omitempty"`
}

// Summary is the outcome of a preparation run.
type Summary struct {
	Status       string        `json:"status"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Selected     int           `json:"selected"`
	Cached       int           `json:"cached"`
	AlreadyThere int           `json:"already_cached"`
	Failed       int           `json:"failed"`
	ComplexItems int           `json:"complex_items"`
	ByTier       map[Tier]int  `json:"by_tier"`
	Results      []ItemResult  `json:"results,omitempty"`
}

// Config tunes a run.
type Config struct {
	// BatchSize is the in-batch concurrency, clamped to [5, 15].
	BatchSize int
	// BatchPause separates consecutive batches.
	BatchPause time.Duration
	// MinCriticalItems is the smallest useful run; below it the cache
	// is asked to free space first.
	MinCriticalItems int
	// MaxTextsPerItem caps warm texts generated per prediction.
	MaxTextsPerItem int
}

func (c *Config) normalize() {
	if c.BatchSize < 5 {
		c.BatchSize = 5
	}
	if c.BatchSize > 15 {
		c.BatchSize = 15
	}
	if c.BatchPause <= 0 {
		c.BatchPause = 500 * time.Millisecond
	}
	if c.MinCriticalItems <= 0 {
		c.MinCriticalItems = 3
	}
	if c.MaxTextsPerItem <= 0 {
		c.MaxTextsPerItem = 5
	}
}

// Orchestrator drives preparation runs.
type Orchestrator struct {
	cfg        Config
	translator *translate.Client
	cache      collab.CacheManager
	storage    collab.StorageManager
	catalog    *terminology.Catalog
	codec      tokenizer.Codec
}

// New creates an orchestrator. The token codec is optional; without it
// complexity reporting is skipped.
func New(cfg Config, tr *translate.Client, cache collab.CacheManager, storage collab.StorageManager, catalog *terminology.Catalog) *Orchestrator {
	cfg.normalize()
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warnf("Preparation: tokenizer unavailable, complexity reporting disabled: %v", err)
		codec = nil
	}
	return &Orchestrator{
		cfg:        cfg,
		translator: tr,
		cache:      cache,
		storage:    storage,
		catalog:    catalog,
		codec:      codec,
	}
}

// Run executes one preparation pass. maxItems is the aggressiveness-
// scaled item cap; non-positive means the capacity budget alone limits
// the run. Run never returns an error for per-item failures; those are
// reported in the summary.
func (o *Orchestrator) Run(ctx context.Context, m *model.PredictionModel, preds []model.Prediction, net collab.NetworkStatus, risk float64, maxItems int) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		Status:    StatusCompleted,
		StartedAt: start,
		ByTier:    make(map[Tier]int),
	}

	if !net.Online {
		summary.Status = StatusSkippedOffline
		return summary, nil
	}
	if len(preds) == 0 {
		summary.Status = StatusNothingToDo
		return summary, nil
	}

	capacity, err := o.capacityBudget(ctx)
	if err != nil {
		return nil, err
	}
	budget := itemBudget(maxItems, capacity)
	if budget < o.cfg.MinCriticalItems {
		capacity, err = o.reclaimSpace(ctx, capacity)
		if err != nil {
			return nil, err
		}
		budget = itemBudget(maxItems, capacity)
		if budget < o.cfg.MinCriticalItems {
			log.Warnf("Preparation: only %d cache slots free, need %d", budget, o.cfg.MinCriticalItems)
			summary.Status = StatusInsufficientSpace
			summary.Duration = time.Since(start)
			return summary, nil
		}
	}

	items := o.selectItems(m, preds, net, risk, budget)
	if len(items) == 0 {
		summary.Status = StatusNothingToDo
		summary.Duration = time.Since(start)
		return summary, nil
	}
	summary.Selected = len(items)
	for _, it := range items {
		summary.ByTier[it.Tier]++
	}

	o.runBatches(ctx, items, risk, summary)
	o.rePrioritize(ctx, items)

	summary.Duration = time.Since(start)
	log.Infof("Preparation: %s selected=%d cached=%d already=%d failed=%d in %s",
		summary.Status, summary.Selected, summary.Cached, summary.AlreadyThere, summary.Failed, summary.Duration)
	return summary, nil
}

// capacityBudget is 80% of the cache's free item slots; warming never
// fills the cache completely.
func (o *Orchestrator) capacityBudget(ctx context.Context) (int, error) {
	stats, err := o.cache.Stats(ctx)
	if err != nil {
		return 0, fmt.Errorf("prepare: cache stats: %w", err)
	}
	return int(0.8 * float64(stats.AvailableItems)), nil
}

// itemBudget is the smaller of the caller's item cap and the capacity
// budget.
func itemBudget(maxItems, capacity int) int {
	if maxItems > 0 && maxItems < capacity {
		return maxItems
	}
	return capacity
}

func (o *Orchestrator) reclaimSpace(ctx context.Context, have int) (int, error) {
	want := o.cfg.MinCriticalItems - have
	log.Infof("Preparation: asking cache to free %d slots", want)
	if err := o.cache.Optimize(ctx, collab.OptimizeOptions{
		TargetFreeItems:  want,
		PreservePriority: true,
	}); err != nil {
		log.Warnf("Preparation: cache optimize failed: %v", err)
	}
	if o.storage != nil {
		if freed, err := o.storage.Optimize(ctx); err == nil && freed > 0 {
			log.Infof("Preparation: storage optimize freed %d bytes", freed)
		}
	}
	return o.capacityBudget(ctx)
}

// selectItems tiers the predictions, applies per-tier network gates,
// and trims to the capacity budget in tier order.
func (o *Orchestrator) selectItems(m *model.PredictionModel, preds []model.Prediction, net collab.NetworkStatus, risk float64, budget int) []Item {
	maxCount := 0
	for _, ps := range m.LanguagePairs {
		if ps.Count > maxCount {
			maxCount = ps.Count
		}
	}

	items := make([]Item, 0, len(preds))
	for _, p := range preds {
		score := p.Score
		if p.OfflineRelevant {
			score *= 1 + risk
		}
		if ps := m.LanguagePairs[p.PairKeyOf()]; ps != nil && maxCount > 0 {
			score *= 1 + 0.5*float64(ps.Count)/float64(maxCount)
			score *= 1 + 0.5*ps.RecencyScore
		}

		var tier Tier
		switch {
		case score >= criticalCut:
			tier = TierCritical
		case score >= highCut:
			tier = TierHigh
		case score >= mediumCut:
			tier = TierMedium
		default:
			tier = TierLow
		}

		// Lower tiers only ride on a healthy connection.
		if tier == TierMedium && net.Quality <= 0.4 {
			continue
		}
		if tier == TierLow && net.Quality <= 0.7 {
			continue
		}

		items = append(items, Item{
			Prediction: p,
			Tier:       tier,
			TierScore:  score,
			Texts:      o.warmTexts(p),
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].TierScore > items[j].TierScore
	})
	if len(items) > budget {
		items = items[:budget]
	}
	return items
}

// warmTexts picks the texts to pre-translate for one prediction:
// dictionary terms for the pair when available, otherwise common
// clinical phrases for the context.
func (o *Orchestrator) warmTexts(p model.Prediction) []string {
	var texts []string
	if o.catalog != nil {
		texts = o.catalog.TopTerms(p.SourceLanguage, p.TargetLanguage, p.Context, o.cfg.MaxTextsPerItem)
	}
	if len(texts) == 0 {
		texts = commonPhrases(p.Context, o.cfg.MaxTextsPerItem)
	}
	return texts
}

// runBatches executes the work in serial batches of concurrent
// requests, pausing between batches.
func (o *Orchestrator) runBatches(ctx context.Context, items []Item, risk float64, summary *Summary) {
	type work struct {
		item Item
		text string
	}
	var queue []work
	for _, it := range items {
		for _, t := range it.Texts {
			queue = append(queue, work{item: it, text: t})
		}
	}

	for off := 0; off < len(queue); off += o.cfg.BatchSize {
		if ctx.Err() != nil {
			log.Warnf("Preparation: cancelled after %d/%d items", off, len(queue))
			return
		}
		end := off + o.cfg.BatchSize
		if end > len(queue) {
			end = len(queue)
		}

		results := make([]ItemResult, end-off)
		var wg sync.WaitGroup
		for i, w := range queue[off:end] {
			wg.Add(1)
			go func(i int, w work) {
				defer wg.Done()
				results[i] = o.warmOne(ctx, w.item, w.text, risk)
			}(i, w)
		}
		wg.Wait()

		for _, r := range results {
			summary.Results = append(summary.Results, r)
			switch r.Status {
			case "cached":
				summary.Cached++
			case "already_cached":
				summary.AlreadyThere++
			case "failed":
				summary.Failed++
			}
			if r.Complex {
				summary.ComplexItems++
			}
		}

		if end < len(queue) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(o.cfg.BatchPause):
			}
		}
	}
}

func (o *Orchestrator) warmOne(ctx context.Context, it Item, text string, risk float64) ItemResult {
	p := it.Prediction
	key := cacheKey(p.SourceLanguage, p.TargetLanguage, p.Context, text)
	res := ItemResult{
		CacheKey: key,
		Pair:     p.PairKeyOf(),
		Context:  p.Context,
		Tier:     it.Tier,
		Complex:  o.isComplex(text),
	}

	if o.cache.HasItem(ctx, key) {
		res.Status = "already_cached"
		return res
	}

	start := time.Now()
	_, err := o.translator.Translate(ctx, translate.Request{
		Text:            text,
		SourceLanguage:  p.SourceLanguage,
		TargetLanguage:  p.TargetLanguage,
		Context:         p.Context,
		OfflinePriority: it.Tier == TierCritical || it.Tier == TierHigh || (p.OfflineRelevant && risk > 0.3),
		PreCached:       true,
		Reason:          string(p.Reason),
	})
	res.ElapsedMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Status = "failed"
		res.Error = err.Error()
		log.Debugf("Preparation: warm %s failed: %v", key, err)
		return res
	}
	res.Status = "cached"
	return res
}

// rePrioritize marks cached entries for the critical and high tiers as
// offline priority so eviction spares them.
func (o *Orchestrator) rePrioritize(ctx context.Context, items []Item) {
	for _, it := range items {
		if it.Tier != TierCritical && it.Tier != TierHigh {
			continue
		}
		p := it.Prediction
		for _, text := range it.Texts {
			key := cacheKey(p.SourceLanguage, p.TargetLanguage, p.Context, text)
			if err := o.cache.SetPriority(ctx, key, "translation", true); err != nil {
				log.Debugf("Preparation: set priority %s: %v", key, err)
			}
		}
	}
}

func (o *Orchestrator) isComplex(text string) bool {
	if o.codec == nil {
		return false
	}
	n, err := o.codec.Count(text)
	if err != nil {
		return false
	}
	return n >= complexTokenCount
}

func cacheKey(src, tgt, ctx, text string) string {
	return fmt.Sprintf("translation:%s:%s:%s:%s", src, tgt, ctx, model.HashContent(text))
}

// commonPhrases are fallback warm texts when no terminology dictionary
// covers the pair.
func commonPhrases(context string, limit int) []string {
	phrases, ok := phrasesByContext[context]
	if !ok {
		phrases = phrasesByContext["general"]
	}
	if limit < len(phrases) {
		phrases = phrases[:limit]
	}
	out := make([]string, len(phrases))
	copy(out, phrases)
	return out
}

var phrasesByContext = map[string][]string{
	"general": {
		"How are you feeling today?",
		"Where does it hurt?",
		"Do you have any allergies?",
		"Are you taking any medications?",
		"Please describe your symptoms.",
	},
	"emergency": {
		"Can you hear me?",
		"Where is the pain?",
		"When did this start?",
		"Are you having trouble breathing?",
		"Have you lost consciousness?",
	},
	"medication": {
		"Take this medication twice a day with food.",
		"Do not exceed the prescribed dose.",
		"Are you allergic to any medications?",
		"This may cause drowsiness.",
		"Finish the full course of antibiotics.",
	},
	"consultation": {
		"What brings you in today?",
		"How long have you had these symptoms?",
		"Does anything make it better or worse?",
		"Have you had this before?",
		"I am going to examine you now.",
	},
	"discharge": {
		"You are being discharged today.",
		"Follow up with your doctor in one week.",
		"Return immediately if symptoms worsen.",
		"Here are your discharge instructions.",
		"Rest and drink plenty of fluids.",
	},
}
