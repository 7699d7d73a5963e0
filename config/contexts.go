package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"

	"github.com/DQYXACML/tracecodex/tracing"
)

// ContextsFile is the on-disk list of known contract contexts
type ContextsFile struct {
	Contexts []ContextEntry `json:"contexts" yaml:"contexts"`
}

// ContextEntry describes one compiled contract. Binary is the creation code and
// DeployedBinary the runtime code; either may be omitted.
type ContextEntry struct {
	ID             string `json:"id" yaml:"id"`
	Name           string `json:"name" yaml:"name"`
	Binary         string `json:"binary" yaml:"binary"`
	DeployedBinary string `json:"deployedBinary" yaml:"deployedBinary"`
	IsConstructor  bool   `json:"isConstructor" yaml:"isConstructor"`
	Compiler       string `json:"compiler" yaml:"compiler"`
}

// ConstructorIDSuffix marks the creation-code context of an entry that lists
// both binaries.
const ConstructorIDSuffix = ":constructor"

// Contexts expands the entry into registry contexts. An entry with both
// binaries yields the runtime context under ID and the constructor context
// under ID plus ConstructorIDSuffix.
func (e ContextEntry) Contexts() ([]tracing.Context, error) {
	binary, err := decodeBinary(e.Binary)
	if err != nil {
		return nil, fmt.Errorf("context %q binary: %w", e.Name, err)
	}
	deployed, err := decodeBinary(e.DeployedBinary)
	if err != nil {
		return nil, fmt.Errorf("context %q deployedBinary: %w", e.Name, err)
	}

	base := tracing.Context{
		ID:       tracing.ContextID(e.ID),
		Name:     e.Name,
		Compiler: e.Compiler,
	}
	switch {
	case len(deployed) > 0 && len(binary) > 0:
		runtime, ctor := base, base
		runtime.Binary = deployed
		ctor.Binary = binary
		ctor.IsConstructor = true
		if ctor.ID.Known() {
			ctor.ID += ConstructorIDSuffix
		}
		return []tracing.Context{runtime, ctor}, nil
	case len(deployed) > 0:
		base.Binary = deployed
		return []tracing.Context{base}, nil
	case len(binary) > 0:
		base.Binary = binary
		base.IsConstructor = e.IsConstructor
		return []tracing.Context{base}, nil
	default:
		return nil, fmt.Errorf("context %q has no binary", e.Name)
	}
}

func decodeBinary(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

// LoadContextsFile reads a YAML or JSON contexts file and expands every entry.
func LoadContextsFile(path string) ([]tracing.Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ContextsFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported contexts file format: %s", ext)
	}

	var contexts []tracing.Context
	for _, entry := range file.Contexts {
		expanded, err := entry.Contexts()
		if err != nil {
			return nil, err
		}
		contexts = append(contexts, expanded...)
	}
	return contexts, nil
}
