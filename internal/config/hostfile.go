package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"nativereplay/internal/replay"
)

// MaxNatives bounds the size of a host file's native table.
const MaxNatives = 4096

// Param is how a native takes one argument.
type Param string

const (
	// ParamIn is a by-value argument verified against the recording.
	ParamIn Param = "in"
	// ParamOut is a by-reference output assigned the recorded value.
	ParamOut Param = "out"
	// ParamRef is an object argument mutated to its recorded post-state.
	ParamRef Param = "ref"
)

// Native describes one native function of the replaying binary.
type Native struct {
	Name   string  `yaml:"name"`
	Params []Param `yaml:"params"`
	Async  bool    `yaml:"async"`
}

// HostFile is the native function table of the replaying binary, e.g.
//
//	global: _SERVER
//	natives:
//	  - name: preg_match
//	    params: [in, in, out]
//	  - name: fetch
//	    params: [in]
//	    async: true
type HostFile struct {
	// Global is the name the captured environment is installed under.
	Global  string   `yaml:"global"`
	Natives []Native `yaml:"natives"`
}

// LoadHostFile reads and validates the host file at path.
func LoadHostFile(path string) (*HostFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading host file: %w", err)
	}
	hf, err := ParseHostFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return hf, nil
}

// ParseHostFile decodes a host file. Unknown fields are rejected.
func ParseHostFile(data []byte) (*HostFile, error) {
	var hf HostFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&hf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty host file")
		}
		return nil, fmt.Errorf("unmarshaling YAML: %w", err)
	}
	if hf.Global == "" {
		hf.Global = replay.ServerGlobal
	}
	if err := hf.Validate(); err != nil {
		return nil, err
	}
	return &hf, nil
}

func (hf *HostFile) Validate() error {
	if len(hf.Natives) > MaxNatives {
		return fmt.Errorf("too many natives: %d (max %d)", len(hf.Natives), MaxNatives)
	}
	seen := make(map[string]bool, len(hf.Natives))
	var errs []error
	for i, n := range hf.Natives {
		if n.Name == "" {
			errs = append(errs, fmt.Errorf("natives[%d]: name is required", i))
			continue
		}
		if seen[n.Name] {
			errs = append(errs, fmt.Errorf("natives[%d]: duplicate name %q", i, n.Name))
		}
		seen[n.Name] = true
		for j, p := range n.Params {
			switch p {
			case ParamIn, ParamOut, ParamRef:
			default:
				errs = append(errs, fmt.Errorf("natives[%d] %s: params[%d]: unknown mode %q", i, n.Name, j, p))
			}
		}
	}
	return errors.Join(errs...)
}

// Registry registers the natives in file order.
func (hf *HostFile) Registry() *replay.Registry {
	r := replay.NewRegistry()
	for _, n := range hf.Natives {
		r.Register(n.Name)
	}
	return r
}
