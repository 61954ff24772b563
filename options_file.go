package levelbind

// options_file.go implements YAML options files.
//
// An options file holds the serializable part of Options, keyed by the
// snake_case field names:
//
//	backend: leveldb
//	create_if_missing: true
//	write_buffer_size: 4194304
//	compression: snappy
//	cache_size: 8388608
//	bloom_filter_bits_per_key: 10
//
// Fields left out keep their DefaultOptions value. Comparator and Logger are
// code, not configuration, and are never read or written.

import (
	"bytes"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// ParseOptions parses an options file body on top of DefaultOptions.
// Unknown fields are rejected.
func ParseOptions(data []byte) (*Options, error) {
	opts := DefaultOptions()
	if len(bytes.TrimSpace(data)) == 0 {
		return opts, nil
	}
	if err := yaml.UnmarshalWithOptions(data, opts, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// LoadOptionsFile reads and parses the options file at path.
func LoadOptionsFile(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	opts, err := ParseOptions(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return opts, nil
}

// MarshalOptions encodes the serializable fields of opts as YAML.
func MarshalOptions(opts *Options) ([]byte, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return yaml.Marshal(opts)
}

// WriteOptionsFile writes opts to path.
func WriteOptionsFile(path string, opts *Options) error {
	data, err := MarshalOptions(opts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
