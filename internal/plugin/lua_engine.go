// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package plugin runs Lua strategy hooks. A hospital deployment can
// ship a site-specific location or device-state strategy as a script
// instead of forking the engine. Each script defines a predict(input)
// function returning an array of prediction tables.
package plugin

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/medtranslate/edgecache/internal/model"
	"github.com/medtranslate/edgecache/internal/predict"
)

// hookTimeout bounds one script invocation.
const hookTimeout = 2 * time.Second

// Engine hosts one compiled strategy script with a pooled state.
type Engine struct {
	name  string
	proto *lua.FunctionProto
	pool  sync.Pool
}

// LoadStrategy compiles the script at path. An empty path returns a nil
// engine, which yields a nil StrategyFunc.
func LoadStrategy(name, path string) (*Engine, error) {
	if path == "" {
		return nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: read script: %w", name, err)
	}

	// Compile once against a throwaway state; protos are shareable.
	L := newState()
	defer L.Close()
	fn, err := L.LoadString(string(content))
	if err != nil {
		return nil, fmt.Errorf("plugin %s: compile script: %w", name, err)
	}

	e := &Engine{name: name, proto: fn.Proto}
	e.pool = sync.Pool{New: func() interface{} { return newState() }}
	log.Infof("Plugin %s loaded from %s", name, path)
	return e, nil
}

// newState creates a Lua state with only safe libraries opened.
func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	// os is intentionally absent except a time() shim.
	osTbl := L.NewTable()
	L.SetField(osTbl, "time", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	L.SetGlobal("os", osTbl)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	return L
}

// StrategyFunc adapts the engine to the prediction pipeline. A nil
// engine yields nil so the caller can wire it unconditionally.
func (e *Engine) StrategyFunc() predict.StrategyFunc {
	if e == nil {
		return nil
	}
	return func(ctx context.Context, m *model.PredictionModel, opts predict.Options) []model.Prediction {
		preds, err := e.run(ctx, buildInput(m, opts))
		if err != nil {
			log.Debugf("Plugin %s: %v", e.name, err)
			return nil
		}
		return preds
	}
}

// buildInput assembles the script's view of the world.
func buildInput(m *model.PredictionModel, opts predict.Options) map[string]any {
	topPairs := make([]any, 0, 5)
	for _, pair := range m.TopPairsByCombinedScore(5) {
		topPairs = append(topPairs, pair)
	}
	locations := make(map[string]any, len(m.Location.Visits))
	for key, v := range m.Location.Visits {
		locations[key] = map[string]any{
			"visits":        v.VisitCount,
			"online_count":  v.OnlineCount,
			"offline_count": v.OfflineCount,
		}
	}
	return map[string]any{
		"hour":               opts.Now.Hour(),
		"weekday":            int(opts.Now.Weekday()),
		"active_pair":        opts.ActivePair,
		"active_context":     opts.ActiveContext,
		"offline_risk":       opts.OfflineRisk,
		"top_pairs":          topPairs,
		"locations":          locations,
		"discharge_per_hour": m.Device.DischargeRatePerHour,
		"avg_idle_minutes":   m.Device.AvgIdleMinutes,
	}
}

func (e *Engine) run(ctx context.Context, input map[string]any) ([]model.Prediction, error) {
	L := e.pool.Get().(*lua.LState)
	defer func() {
		L.SetContext(context.Background())
		e.pool.Put(L)
	}()

	ctx, cancel := context.WithTimeout(ctx, hookTimeout)
	defer cancel()
	L.SetContext(ctx)

	// Run the chunk; it defines predict either globally or on a
	// returned table.
	fn := L.NewFunctionFromProto(e.proto)
	L.Push(fn)
	if err := L.PCall(0, 1, nil); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	var hookFn lua.LValue
	if tbl, ok := ret.(*lua.LTable); ok {
		hookFn = L.GetField(tbl, "predict")
	}
	if hookFn == nil || hookFn == lua.LNil {
		hookFn = L.GetGlobal("predict")
	}
	if hookFn == lua.LNil || hookFn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("script does not define predict()")
	}

	L.Push(hookFn)
	L.Push(goMapToLuaTable(L, input))
	if err := L.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("predict() failed: %w", err)
	}
	result := L.Get(-1)
	L.Pop(1)

	tbl, ok := result.(*lua.LTable)
	if !ok {
		return nil, nil
	}
	return decodePredictions(tbl), nil
}

// decodePredictions converts the script's array of tables.
func decodePredictions(tbl *lua.LTable) []model.Prediction {
	var out []model.Prediction
	tbl.ForEach(func(_, v lua.LValue) {
		item, ok := v.(*lua.LTable)
		if !ok {
			return
		}
		p := model.Prediction{
			SourceLanguage:  stringField(item, "source_language"),
			TargetLanguage:  stringField(item, "target_language"),
			Context:         stringField(item, "context"),
			Score:           numberField(item, "score"),
			OfflineRelevant: boolField(item, "offline_relevant"),
		}
		switch stringField(item, "reason") {
		case string(model.ReasonDeviceState):
			p.Reason = model.ReasonDeviceState
		default:
			p.Reason = model.ReasonLocation
		}
		if p.Context == "" {
			p.Context = "general"
		}
		if p.SourceLanguage != "" && p.TargetLanguage != "" && p.Score > 0 {
			out = append(out, p)
		}
	})
	return out
}

func stringField(tbl *lua.LTable, key string) string {
	if v, ok := tbl.RawGetString(key).(lua.LString); ok {
		return string(v)
	}
	return ""
}

func numberField(tbl *lua.LTable, key string) float64 {
	if v, ok := tbl.RawGetString(key).(lua.LNumber); ok {
		return float64(v)
	}
	return 0
}

func boolField(tbl *lua.LTable, key string) bool {
	if v, ok := tbl.RawGetString(key).(lua.LBool); ok {
		return bool(v)
	}
	return false
}

func goMapToLuaTable(L *lua.LState, m map[string]any) *lua.LTable {
	tbl := L.NewTable()
	for k, v := range m {
		L.SetField(tbl, k, goValueToLua(L, v))
	}
	return tbl
}

func goValueToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.RawSetInt(tbl, i+1, goValueToLua(L, item))
		}
		return tbl
	case map[string]any:
		return goMapToLuaTable(L, val)
	default:
		if b, err := json.Marshal(val); err == nil {
			return lua.LString(string(b))
		}
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
