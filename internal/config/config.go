// Package config holds the immutable run configuration: loading
// from YAML/JSON files, schema validation, and the semantic checks
// that reject nonsensical option combinations before any goroutine
// starts.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Default sleep values in seconds, matching the original tool's
// defaults; overridden by flags or config file as appropriate.
const (
	DefaultDelaySeconds = 10
	DefaultHoldSeconds  = 10
)

// Output modes.
const (
	OutputVerbose = "verbose"
	OutputPlot    = "plot"
	OutputJSON    = "json"
)

// Provider kinds.
const (
	ProviderBtrfs  = "btrfs"
	ProviderScript = "script"
)

// Known operation names for the --ops selector.
var knownOps = map[string]bool{
	"chmod":    true,
	"create":   true,
	"snapshot": true,
	"sync":     true,
}

// OpSet is the validated, enumerated form of the operation selector.
type OpSet struct {
	Chmod    bool
	Create   bool
	Snapshot bool
	Sync     bool
}

// ScriptCommands configures the script provider; each entry is an
// argv.
type ScriptCommands struct {
	Create  []string `yaml:"create" json:"create,omitempty"`
	Wait    []string `yaml:"wait" json:"wait,omitempty"`
	Destroy []string `yaml:"destroy" json:"destroy,omitempty"`
	Sync    []string `yaml:"sync" json:"sync,omitempty"`
}

// Config is the full run configuration. It is assembled once (file,
// then flag overrides, then positional arguments) and treated as
// immutable for the rest of the run.
type Config struct {
	// Volume is the target subvolume path.
	Volume string `yaml:"volume" json:"volume"`
	// Snapshot is the snapshot name created inside the volume.
	Snapshot string `yaml:"snapshot" json:"snapshot"`

	// Threads is the worker pool size.
	Threads int `yaml:"threads" json:"threads"`
	// Ops lists the enabled operations: any combination of chmod,
	// create, snapshot, sync, subject to OpSet validation.
	Ops []string `yaml:"ops" json:"ops"`

	// RuntimeSeconds bounds the run; 0 runs until externally stopped.
	RuntimeSeconds uint `yaml:"runtime" json:"runtime"`
	// DelaySeconds is slept before each new cycle.
	DelaySeconds uint `yaml:"delay" json:"delay"`
	// HoldSeconds is slept between snapshot commit and destroy.
	HoldSeconds uint `yaml:"hold" json:"hold"`

	// Output selects verbose, plot or json reporting.
	Output string `yaml:"output" json:"output"`

	// Provider selects the snapshot provider adapter.
	Provider string `yaml:"provider" json:"provider"`
	// Script configures the script provider.
	Script ScriptCommands `yaml:"script" json:"script,omitempty"`

	// MetricsAddr enables the Prometheus listener when non-empty.
	MetricsAddr string `yaml:"metricsAddr" json:"metricsAddr,omitempty"`

	// LogLevel and LogFormat configure diagnostics logging.
	LogLevel  string `yaml:"logLevel" json:"logLevel,omitempty"`
	LogFormat string `yaml:"logFormat" json:"logFormat,omitempty"`
}

// Default returns the configuration used when no file and no flags
// are given (volume and snapshot still required).
func Default() Config {
	return Config{
		Threads:      1,
		Ops:          []string{"chmod", "snapshot"},
		DelaySeconds: DefaultDelaySeconds,
		HoldSeconds:  DefaultHoldSeconds,
		Output:       OutputVerbose,
		Provider:     ProviderBtrfs,
		LogLevel:     "info",
		LogFormat:    "console",
	}
}

// OpSet parses the Ops list into its enumerated form. Unknown names
// are rejected here; combination rules live in Validate.
func (c *Config) OpSet() (OpSet, error) {
	var set OpSet
	for _, raw := range c.Ops {
		op := strings.ToLower(strings.TrimSpace(raw))
		if !knownOps[op] {
			return OpSet{}, fmt.Errorf("unknown operation %q (expected chmod, create, snapshot or sync)", raw)
		}
		switch op {
		case "chmod":
			set.Chmod = true
		case "create":
			set.Create = true
		case "snapshot":
			set.Snapshot = true
		case "sync":
			set.Sync = true
		}
	}
	return set, nil
}

// Runtime returns the runtime bound as a duration; zero means
// unbounded.
func (c *Config) Runtime() time.Duration {
	return time.Duration(c.RuntimeSeconds) * time.Second
}

// Delay returns the inter-cycle delay.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.DelaySeconds) * time.Second
}

// Hold returns the snapshot hold duration.
func (c *Config) Hold() time.Duration {
	return time.Duration(c.HoldSeconds) * time.Second
}

// Validate applies the semantic rules. Every violation here is a
// configuration error: surfaced to the operator before any worker
// starts, process exits non-zero.
func (c *Config) Validate() error {
	if c.Volume == "" {
		return fmt.Errorf("target subvolume path is required")
	}

	set, err := c.OpSet()
	if err != nil {
		return err
	}
	if !set.Chmod && !set.Create && !set.Snapshot && !set.Sync {
		return fmt.Errorf("no operations enabled")
	}
	// chmod and create workers would compete for the same target
	// directory; treated as mutually exclusive test modes.
	if set.Chmod && set.Create {
		return fmt.Errorf("chmod and create cannot both be enabled")
	}
	// The controller runs either the snapshot cycle or the sync
	// cycle per iteration, never both.
	if set.Snapshot && set.Sync {
		return fmt.Errorf("snapshot and sync cannot both be enabled")
	}
	if set.Snapshot && c.Snapshot == "" {
		return fmt.Errorf("snapshot name is required when the snapshot cycle is enabled")
	}

	if (set.Chmod || set.Create) && c.Threads < 1 {
		return fmt.Errorf("threads must be >= 1, got %d", c.Threads)
	}

	switch c.Output {
	case OutputVerbose, OutputPlot, OutputJSON:
	default:
		return fmt.Errorf("unknown output mode %q", c.Output)
	}

	switch c.Provider {
	case ProviderBtrfs, ProviderScript:
	case "":
		if set.Snapshot || set.Sync {
			return fmt.Errorf("a provider is required when snapshot or sync is enabled")
		}
	default:
		return fmt.Errorf("unknown provider %q", c.Provider)
	}

	return nil
}
