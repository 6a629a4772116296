package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joelkehle/challenge-pipeline/internal/failure"
)

// LoadRenameMap reads a source → target column mapping. Files ending in
// .yaml or .yml are decoded as YAML, anything else as JSON. An empty path
// yields an empty mapping.
func LoadRenameMap(path string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(path) == "" {
		return out, nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, failure.Parse("read rename mapping", err).For(path)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(blob, &out)
	default:
		err = json.Unmarshal(blob, &out)
	}
	if err != nil {
		return nil, failure.Parse("decode rename mapping", fmt.Errorf("must be an object mapping source to target column names: %w", err)).For(path)
	}
	cleaned := make(map[string]string, len(out))
	for k, v := range out {
		cleaned[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return cleaned, nil
}

// Filter keeps rows whose Column equals Value.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses "Column=Value".
func ParseFilter(s string) (Filter, error) {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return Filter{}, fmt.Errorf("invalid filter %q: use Column=Value", s)
	}
	return Filter{Column: strings.TrimSpace(k), Value: strings.TrimSpace(v)}, nil
}

func ParseFilters(in []string) ([]Filter, error) {
	out := make([]Filter, 0, len(in))
	for _, s := range in {
		f, err := ParseFilter(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
