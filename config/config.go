// Package config holds the declarative defaults every buffer, runner, and
// multicaster in the conduit package starts from unless overridden with a
// functional option. Grounded on the teacher's config.go/defaults.go (a
// plain struct plus a defaultConfig() constructor and a validateConfig()
// function) and on the YAML-loaded daemon config pattern in
// _examples/supervizio-daemon/src/internal/config.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults centralizes every tunable constant spec.md §9 and §4.4 call out
// by name: buffer capacity/warn-on-discard, the two discard delays, the
// command/status buffer size, and the final join timeout.
type Defaults struct {
	BufferCapacity             int           `yaml:"bufferCapacity"`
	WarnOnDiscard              bool          `yaml:"warnOnDiscard"`
	ThreadDiscardDelay         time.Duration `yaml:"threadDiscardDelay"`
	ProcessDiscardDelay        time.Duration `yaml:"processDiscardDelay"`
	CommandAndStatusBufferSize int           `yaml:"commandAndStatusBufferSize"`
	FinalJoinTimeout           time.Duration `yaml:"finalJoinTimeout"`
}

// DefaultDefaults returns the built-in defaults, matching the constants
// declared alongside buffer.go and runner.go in the root package
// (ThreadDiscardDelay, ProcessDiscardDelay,
// DefaultCommandAndStatusBufferSize, DefaultFinalJoinTimeout).
func DefaultDefaults() Defaults {
	return Defaults{
		BufferCapacity:             16,
		WarnOnDiscard:              true,
		ThreadDiscardDelay:         3 * time.Second,
		ProcessDiscardDelay:        8 * time.Second,
		CommandAndStatusBufferSize: 10,
		FinalJoinTimeout:           30 * time.Second,
	}
}

// Validate performs the same lightweight invariant checks the teacher's
// validateConfig did, extended with the bounds this package actually
// needs (every duration and the buffer capacity must be positive).
func (d *Defaults) Validate() error {
	if d.BufferCapacity < 1 {
		return fmt.Errorf("config: bufferCapacity must be >= 1, got %d", d.BufferCapacity)
	}
	if d.ThreadDiscardDelay <= 0 {
		return fmt.Errorf("config: threadDiscardDelay must be positive, got %s", d.ThreadDiscardDelay)
	}
	if d.ProcessDiscardDelay <= 0 {
		return fmt.Errorf("config: processDiscardDelay must be positive, got %s", d.ProcessDiscardDelay)
	}
	if d.CommandAndStatusBufferSize < 1 {
		return fmt.Errorf("config: commandAndStatusBufferSize must be >= 1, got %d", d.CommandAndStatusBufferSize)
	}
	if d.FinalJoinTimeout <= 0 {
		return fmt.Errorf("config: finalJoinTimeout must be positive, got %s", d.FinalJoinTimeout)
	}
	return nil
}

// Load reads a YAML file at path, decoding onto DefaultDefaults() so an
// omitted field keeps its built-in value, then validates the result —
// open, decode, Validate, the same three-step shape as
// supervizio-daemon's config loader.
func Load(path string) (*Defaults, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %q: %w", path, err)
	}
	defer f.Close()

	d := DefaultDefaults()
	if err := yaml.NewDecoder(f).Decode(&d); err != nil {
		return nil, fmt.Errorf("config: decoding %q: %w", path, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}
