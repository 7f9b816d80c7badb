package devices

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"gopkg.in/yaml.v3"
)

// Definition file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var extensions = map[string][]string{
	FormatJSON: {".json"},
	FormatYAML: {".yaml", ".yml"},
}

// DefinitionName is the cache file name (without extension) of the module
// at addr, e.g. BM2_0x2A.
func DefinitionName(cmdName string, addr uint16) string {
	return fmt.Sprintf("%s_0x%02X", cmdName, addr)
}

// Loader reads and writes discovered module definitions so a restart does
// not need to rediscover.
type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load finds name.json, name.yaml or name.yml in the search paths.
// The returned definition is shared; callers must not modify it.
func (l *Loader) Load(name string) (*types.ModuleDefinition, error) {
	// Cache-Check
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.ModuleDefinition), nil
	}

	for _, searchPath := range l.searchPaths {
		for _, format := range []string{FormatJSON, FormatYAML} {
			for _, ext := range extensions[format] {
				fullPath := filepath.Join(searchPath, name+ext)
				data, err := os.ReadFile(fullPath)
				if err != nil {
					continue
				}
				def, err := l.decode(data, format)
				if err != nil {
					return nil, fmt.Errorf("definition %s: %w", fullPath, err)
				}
				l.cache.Store(name, def)
				return def, nil
			}
		}
	}

	return nil, fmt.Errorf("%w: %s (searched in: %v)", os.ErrNotExist, name, l.searchPaths)
}

func (l *Loader) decode(data []byte, format string) (*types.ModuleDefinition, error) {
	var def types.ModuleDefinition
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
		}
		if err := def.NormalizeDefaults(); err != nil {
			return nil, err
		}
		if err := l.validator.ValidateDefinition(&def); err != nil {
			return nil, err
		}
	default:
		if err := l.validator.ValidateJSON(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal json: %w", err)
		}
		if err := def.NormalizeDefaults(); err != nil {
			return nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
	}
	return &def, nil
}

// Save writes def into the first search path and returns the file path.
func (l *Loader) Save(def *types.ModuleDefinition, format string) (string, error) {
	if len(l.searchPaths) == 0 {
		return "", fmt.Errorf("no definition path configured")
	}
	if err := l.validator.ValidateDefinition(def); err != nil {
		return "", err
	}

	var (
		data []byte
		err  error
	)
	switch format {
	case FormatYAML:
		data, err = yaml.Marshal(def)
	case FormatJSON, "":
		format = FormatJSON
		data, err = json.MarshalIndent(def, "", "  ")
	default:
		return "", fmt.Errorf("unknown definition format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal definition: %w", err)
	}

	dir := l.searchPaths[0]
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	name := DefinitionName(def.CmdName, def.Address)
	path := filepath.Join(dir, name+extensions[format][0])

	// erst temp, dann rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("failed to rename %s: %w", tmp, err)
	}

	l.cache.Store(name, def)
	return path, nil
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
