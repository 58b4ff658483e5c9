// Copyright 2026 The MedTranslate Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package util

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestHaversineMeters(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want                   float64
		tolerance              float64
	}{
		{"same point", 40.4168, -3.7038, 40.4168, -3.7038, 0, 0.001},
		{"madrid to barcelona", 40.4168, -3.7038, 41.3874, 2.1686, 505_000, 5_000},
		{"one degree latitude", 0, 0, 1, 0, 111_195, 100},
		{"across the date line", 0, 179.5, 0, -179.5, 111_195, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMeters(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineMeters() = %.1f, want %.1f +/- %.1f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestHaversineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	coord := gen.Float64Range(-85, 85)
	lon := gen.Float64Range(-180, 180)

	properties.Property("distance is symmetric", prop.ForAll(
		func(lat1, lon1, lat2, lon2 float64) bool {
			a := HaversineMeters(lat1, lon1, lat2, lon2)
			b := HaversineMeters(lat2, lon2, lat1, lon1)
			return math.Abs(a-b) < 1e-6
		},
		coord, lon, coord, lon,
	))

	properties.Property("distance is non-negative and bounded", prop.ForAll(
		func(lat1, lon1, lat2, lon2 float64) bool {
			d := HaversineMeters(lat1, lon1, lat2, lon2)
			// Half the Earth's circumference is the ceiling.
			return d >= 0 && d <= math.Pi*earthRadiusMeters+1
		},
		coord, lon, coord, lon,
	))

	properties.TestingRun(t)
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want float64
	}{
		{0.5, 0, 1, 0.5},
		{-0.1, 0, 1, 0},
		{1.7, 0, 1, 1},
		{0.1, 0.1, 2.0, 0.1},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("Clamp(%v, %v, %v) = %v, want %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestSecureWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "state.json")

	if err := SecureWrite(path, []byte(`{"v":1}`), nil); err != nil {
		t.Fatalf("SecureWrite() failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading back: %v", err)
	}
	if string(got) != `{"v":1}` {
		t.Errorf("content = %s", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}

	// Overwrite replaces atomically and leaves no temp files behind.
	if err := SecureWrite(path, []byte(`{"v":2}`), nil); err != nil {
		t.Fatalf("SecureWrite() overwrite failed: %v", err)
	}
	got, _ = os.ReadFile(path)
	if string(got) != `{"v":2}` {
		t.Errorf("content after overwrite = %s", got)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover files: %v", entries)
	}
}

func TestSecureWriteBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	opts := &SecureWriteOptions{CreateBackup: true, Permissions: 0o644}

	// First write: nothing to back up.
	if err := SecureWrite(path, []byte("one"), opts); err != nil {
		t.Fatalf("SecureWrite() failed: %v", err)
	}
	if _, err := os.Stat(path + ".bak"); !os.IsNotExist(err) {
		t.Error("backup created on first write")
	}

	if err := SecureWrite(path, []byte("two"), opts); err != nil {
		t.Fatalf("SecureWrite() failed: %v", err)
	}
	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(bak) != "one" {
		t.Errorf("backup content = %s, want previous version", bak)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "two" {
		t.Errorf("content = %s", got)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o644 {
		t.Errorf("permissions = %o, want 644", info.Mode().Perm())
	}
}
