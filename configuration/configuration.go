// Package configuration parses the YAML configuration file consumed by the
// zdbd daemon into a Configuration value, applying the same
// environment-variable override convention as the wider Go storage-server
// corpus this project is descended from.
package configuration

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// Configuration is a versioned zdbd configuration, normally provided by a
// YAML file and optionally overridden by environment variables.
//
// Field names should never include "_" characters, since that is the
// separator used when mapping to environment variable names (ZDB_FOO_BAR).
type Configuration struct {
	// Version is the configuration file format version.
	Version Version `yaml:"version"`

	// Log controls the logging subsystem.
	Log Log `yaml:"log"`

	// Storage configures the engine's on-disk layout and limits.
	Storage Storage `yaml:"storage"`

	// Listen configures the debug/metrics HTTP listener.
	Listen Listen `yaml:"listen,omitempty"`

	// Hook names an external executable invoked on lifecycle events.
	Hook string `yaml:"hook,omitempty"`
}

// Storage mirrors the engine Settings accepted by spec.md §6.
type Storage struct {
	// Datapath is the root directory under which every namespace's data
	// files are stored. Required, must be an absolute path.
	Datapath string `yaml:"datapath"`

	// Indexpath is the root directory under which every namespace's index
	// files and descriptors are stored. Required, must differ from
	// Datapath after resolving both to their real, absolute form.
	Indexpath string `yaml:"indexpath"`

	// Mode pins every namespace to "user-key" or "sequential", or allows
	// per-namespace choice when set to "mixed".
	Mode string `yaml:"mode,omitempty"`

	// Sync forces an fsync after every write.
	Sync bool `yaml:"sync,omitempty"`

	// SyncTime forces an fsync if more than this many seconds have
	// elapsed since the last one. Zero disables time-based syncing.
	SyncTime int `yaml:"synctime,omitempty"`

	// DataSize is the per-data-file rotation threshold in bytes. Capped at
	// 2^32-1 by the engine regardless of the configured value.
	DataSize uint32 `yaml:"datasize,omitempty"`

	// MaxSize is the default per-namespace quota in bytes. Zero means
	// unlimited.
	MaxSize uint64 `yaml:"maxsize,omitempty"`
}

// Listen configures the debug/metrics HTTP endpoint exposed by zdbd.
type Listen struct {
	// Addr is the bind address for the debug server (health + metrics).
	// Empty disables the debug listener.
	Addr string `yaml:"addr,omitempty"`
}

// Log supports the logging-related configuration parameters.
type Log struct {
	// Level is the granularity at which engine operations are logged.
	Level Loglevel `yaml:"level,omitempty"`

	// Formatter overrides the default logrus formatter. One of "text" or
	// "json"; empty uses the library default.
	Formatter string `yaml:"formatter,omitempty"`

	// Fields allows static string fields to be attached to every log
	// entry emitted through the root logger.
	Fields map[string]interface{} `yaml:"fields,omitempty"`

	// ReportCaller enables file:line annotations on each log entry.
	ReportCaller bool `yaml:"reportcaller,omitempty"`
}

// Loglevel is the level at which operations are logged: error, warn, info,
// or debug.
type Loglevel string

// UnmarshalYAML implements yaml.Unmarshaler, lower-casing and validating the
// level string.
func (loglevel *Loglevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	s = strings.ToLower(s)
	switch s {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid loglevel %q, must be one of [error, warn, info, debug]", s)
	}

	*loglevel = Loglevel(s)
	return nil
}

// CurrentVersion is the most recent configuration format version understood
// by Parse.
var CurrentVersion = MajorMinorVersion(0, 1)

// v0_1Configuration is the on-disk shape for configuration format 0.1. It is
// identical to Configuration today; the indirection exists so that future
// format revisions have a seam to convert from, following the same pattern
// as the wider corpus' versioned configuration parsers.
type v0_1Configuration Configuration

// Parse parses a YAML configuration document, applying ZDB_-prefixed
// environment variable overrides.
//
// Environment variables override configuration parameters other than
// version, following the scheme: Configuration.Storage.Datapath may be
// overridden by ZDB_STORAGE_DATAPATH, and so on.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := NewParser("zdb", []VersionedParseInfo{
		{
			Version: MajorMinorVersion(0, 1),
			ParseAs: reflect.TypeOf(v0_1Configuration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				v, ok := c.(*v0_1Configuration)
				if !ok {
					return nil, fmt.Errorf("expected *v0_1Configuration, received %#v", c)
				}
				if v.Log.Level == Loglevel("") {
					v.Log.Level = Loglevel("info")
				}
				if v.Storage.Datapath == "" || v.Storage.Indexpath == "" {
					return nil, errors.New("storage.datapath and storage.indexpath are required")
				}
				switch v.Storage.Mode {
				case "", "user-key", "sequential", "mixed":
				default:
					return nil, fmt.Errorf("invalid storage.mode %q", v.Storage.Mode)
				}
				return (*Configuration)(v), nil
			},
		},
	})

	config := new(Configuration)
	if err := p.Parse(in, config); err != nil {
		return nil, err
	}

	return config, nil
}
