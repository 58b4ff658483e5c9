// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mlbridge implements the forecaster collaborator over a local
// ONNX model. The model consumes a fixed feature vector of learned
// offline history plus the current time and link quality, and emits an
// offline risk with a confidence and a score per clinical context.
//
// Training happens out of process: Train hands the aggregate statistics
// to an external trainer through a stats file and hot-reloads the model
// when the trainer publishes a newer one.
package mlbridge

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/medtranslate/edgecache/internal/collab"
	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/util"
)

const (
	// featureDim is the model's input width: 24 hourly offline shares,
	// 7 weekly shares, hour sin/cos, weekday sin/cos, link quality.
	featureDim = 36

	defaultInitTimeout  = 30 * time.Second
	defaultTrainTimeout = 60 * time.Second

	// forecastTTL bounds how long one inference result stays valid.
	forecastTTL = time.Hour
)

// contextClasses is the model's output vocabulary, in tensor order.
var contextClasses = [5]string{"general", "emergency", "medication", "consultation", "discharge"}

// Config locates the model and runtime.
type Config struct {
	ModelPath         string
	SharedLibraryPath string
	InitTimeout       time.Duration
	TrainTimeout      time.Duration
}

// Bridge implements collab.Forecaster.
type Bridge struct {
	cfg Config

	mu          sync.RWMutex
	session     *ort.DynamicAdvancedSession
	initialized bool
	lastTrained time.Time
	modelName   string
	lastErr     string
	stats       collab.TrainingStats
}

// New creates a bridge. Initialize must be called before use.
func New(cfg Config) (*Bridge, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("mlbridge: model path is required")
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = defaultInitTimeout
	}
	if cfg.TrainTimeout <= 0 {
		cfg.TrainTimeout = defaultTrainTimeout
	}
	return &Bridge{cfg: cfg}, nil
}

// Initialize loads the ONNX runtime and model, bounded by the init
// timeout. A timeout leaves the bridge uninitialized, not broken; the
// engine stays rule-based.
func (b *Bridge) Initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.InitTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.loadModel() }()

	select {
	case <-ctx.Done():
		b.setError(fmt.Sprintf("initialization timed out after %s", b.cfg.InitTimeout))
		return fmt.Errorf("mlbridge: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			b.setError(err.Error())
			return err
		}
		return nil
	}
}

func (b *Bridge) loadModel() error {
	if _, err := os.Stat(b.cfg.ModelPath); os.IsNotExist(err) {
		return fmt.Errorf("mlbridge: model file not found: %s", b.cfg.ModelPath)
	}

	if b.cfg.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(b.cfg.SharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("mlbridge: initialize ONNX runtime: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return fmt.Errorf("mlbridge: session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		b.cfg.ModelPath,
		[]string{"features"},
		[]string{"risk", "context_scores"},
		options,
	)
	if err != nil {
		return fmt.Errorf("mlbridge: load model: %w", err)
	}

	name, trained := b.readMetadata()

	b.mu.Lock()
	if b.session != nil {
		b.session.Destroy()
	}
	b.session = session
	b.initialized = true
	b.modelName = name
	b.lastTrained = trained
	b.lastErr = ""
	b.mu.Unlock()

	log.Infof("Forecaster initialized with model %s", filepath.Base(b.cfg.ModelPath))
	return nil
}

// readMetadata parses the trainer's metadata file next to the model.
func (b *Bridge) readMetadata() (name string, trained time.Time) {
	name = filepath.Base(b.cfg.ModelPath)
	raw, err := os.ReadFile(b.metadataPath())
	if err != nil {
		return name, time.Time{}
	}
	if v := gjson.GetBytes(raw, "model_name"); v.Exists() {
		name = v.String()
	}
	if v := gjson.GetBytes(raw, "trained_at"); v.Exists() {
		if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
			trained = t
		}
	}
	return name, trained
}

func (b *Bridge) metadataPath() string {
	return filepath.Join(filepath.Dir(b.cfg.ModelPath), "metadata.json")
}

func (b *Bridge) statsPath() string {
	return filepath.Join(filepath.Dir(b.cfg.ModelPath), "training_stats.json")
}

// Train publishes the aggregate statistics for the external trainer and
// reloads the model if the trainer has produced a newer one.
func (b *Bridge) Train(ctx context.Context, stats collab.TrainingStats) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.TrainTimeout)
	defer cancel()

	b.mu.Lock()
	b.stats = stats
	b.mu.Unlock()

	payload, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("mlbridge: encode training stats: %w", err)
	}
	if err := util.SecureWrite(b.statsPath(), payload, nil); err != nil {
		return fmt.Errorf("mlbridge: write training stats: %w", err)
	}

	_, trained := b.readMetadata()
	b.mu.RLock()
	stale := !trained.IsZero() && trained.After(b.lastTrained)
	b.mu.RUnlock()
	if !stale {
		return nil
	}

	log.Infof("Forecaster: newer model available (trained %s), reloading", trained.Format(time.RFC3339))
	done := make(chan error, 1)
	go func() { done <- b.loadModel() }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("mlbridge: model reload timed out: %w", ctx.Err())
	case err := <-done:
		return err
	}
}

// OfflineRisk runs one inference for the current moment.
func (b *Bridge) OfflineRisk(ctx context.Context) (collab.RiskForecast, error) {
	now := time.Now()
	risk, confidence, _, err := b.infer(now.Hour(), int(now.Weekday()), b.currentQuality())
	if err != nil {
		return collab.RiskForecast{}, err
	}
	return collab.RiskForecast{
		Risk:       util.Clamp(risk, 0, 1),
		Hour:       now.Hour(),
		Confidence: util.Clamp(confidence, 0, 1),
		ValidUntil: now.Add(forecastTTL),
	}, nil
}

// Predictions maps the model's per-context scores onto the live
// language pair.
func (b *Bridge) Predictions(ctx context.Context, fc collab.ForecastContext) ([]model.Prediction, error) {
	if fc.LanguagePair == "" {
		return nil, nil
	}
	src, tgt, err := model.SplitPairKey(fc.LanguagePair)
	if err != nil {
		return nil, fmt.Errorf("mlbridge: %w", err)
	}

	risk, confidence, scores, err := b.infer(fc.Hour, fc.DayOfWeek, fc.Quality)
	if err != nil {
		return nil, err
	}

	var out []model.Prediction
	for i, score := range scores {
		if score < 0.1 {
			continue
		}
		out = append(out, model.Prediction{
			SourceLanguage:  src,
			TargetLanguage:  tgt,
			Context:         contextClasses[i],
			Score:           float64(score) * confidence,
			Reason:          model.ReasonMLForecast,
			OfflineRelevant: risk > 0.3,
		})
	}
	return out, nil
}

// infer runs the session. Returns risk, confidence and the raw context
// scores.
func (b *Bridge) infer(hour, weekday int, quality float64) (float64, float64, []float32, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.initialized {
		return 0, 0, nil, fmt.Errorf("mlbridge: not initialized")
	}

	features := b.buildFeatures(hour, weekday, quality)
	inputTensor, err := ort.NewTensor(ort.NewShape(1, featureDim), features)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("mlbridge: create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	riskTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 2))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("mlbridge: create risk tensor: %w", err)
	}
	defer riskTensor.Destroy()

	scoresTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(contextClasses))))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("mlbridge: create scores tensor: %w", err)
	}
	defer scoresTensor.Destroy()

	err = b.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{riskTensor, scoresTensor},
	)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("mlbridge: inference failed: %w", err)
	}

	riskOut := riskTensor.GetData()
	scores := make([]float32, len(contextClasses))
	copy(scores, scoresTensor.GetData())
	return float64(riskOut[0]), float64(riskOut[1]), scores, nil
}

// buildFeatures assembles the input vector from the last training
// statistics and the live moment. Must be called with the lock held.
func (b *Bridge) buildFeatures(hour, weekday int, quality float64) []float32 {
	features := make([]float32, featureDim)

	totalHourly := 0
	for _, n := range b.stats.OfflineTimeOfDay {
		totalHourly += n
	}
	for i, n := range b.stats.OfflineTimeOfDay {
		if totalHourly > 0 {
			features[i] = float32(n) / float32(totalHourly)
		}
	}

	totalWeekly := 0
	for _, n := range b.stats.WeeklyOffline {
		totalWeekly += n
	}
	for i, n := range b.stats.WeeklyOffline {
		if totalWeekly > 0 {
			features[24+i] = float32(n) / float32(totalWeekly)
		}
	}

	hourAngle := 2 * math.Pi * float64(hour) / 24
	dayAngle := 2 * math.Pi * float64(weekday) / 7
	features[31] = float32(math.Sin(hourAngle))
	features[32] = float32(math.Cos(hourAngle))
	features[33] = float32(math.Sin(dayAngle))
	features[34] = float32(math.Cos(dayAngle))
	features[35] = float32(quality)
	return features
}

// currentQuality is the quality feature fallback when the caller has no
// live reading: derive it from the trained offline frequency.
func (b *Bridge) currentQuality() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return util.Clamp(1-b.stats.OfflineFrequency, 0, 1)
}

// Status reports readiness.
func (b *Bridge) Status() collab.ForecasterStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return collab.ForecasterStatus{
		Initialized: b.initialized,
		LastTrained: b.lastTrained,
		ModelName:   b.modelName,
		Error:       b.lastErr,
	}
}

func (b *Bridge) setError(msg string) {
	b.mu.Lock()
	b.lastErr = msg
	b.mu.Unlock()
}

// Close releases the session.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		b.session.Destroy()
		b.session = nil
	}
	b.initialized = false
}

var _ collab.Forecaster = (*Bridge)(nil)
