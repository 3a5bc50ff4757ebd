package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultDefaults_IsValid(t *testing.T) {
	d := DefaultDefaults()
	if err := d.Validate(); err != nil {
		t.Fatalf("DefaultDefaults().Validate() = %v; want nil", err)
	}
}

func TestDefaults_Validate_RejectsNonPositiveFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Defaults)
	}{
		{"bufferCapacity", func(d *Defaults) { d.BufferCapacity = 0 }},
		{"threadDiscardDelay", func(d *Defaults) { d.ThreadDiscardDelay = 0 }},
		{"processDiscardDelay", func(d *Defaults) { d.ProcessDiscardDelay = -1 }},
		{"commandAndStatusBufferSize", func(d *Defaults) { d.CommandAndStatusBufferSize = 0 }},
		{"finalJoinTimeout", func(d *Defaults) { d.FinalJoinTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DefaultDefaults()
			tc.mutate(&d)
			if err := d.Validate(); err == nil {
				t.Fatalf("Validate() = nil; want error for invalid %s", tc.name)
			}
		})
	}
}

func TestLoad_OverridesOnlyGivenFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conduit.yaml")
	contents := "bufferCapacity: 64\nwarnOnDiscard: false\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	d, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.BufferCapacity != 64 {
		t.Fatalf("BufferCapacity = %d; want 64", d.BufferCapacity)
	}
	if d.WarnOnDiscard {
		t.Fatalf("WarnOnDiscard = true; want false (overridden)")
	}
	if d.FinalJoinTimeout != 30*time.Second {
		t.Fatalf("FinalJoinTimeout = %s; want default 30s (not overridden)", d.FinalJoinTimeout)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/path/conduit.yaml"); err == nil {
		t.Fatal("Load() = nil error; want failure for missing file")
	}
}

func TestLoad_InvalidValuesFailValidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conduit.yaml")
	if err := os.WriteFile(path, []byte("bufferCapacity: 0\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() = nil error; want Validate failure surfaced")
	}
}
