package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses a config file body. Files ending in .yaml or .yml are YAML,
// everything else is JSON. YAML is converted to JSON first so both formats go
// through the same strict decoder: unknown fields and trailing data are errors.
func Decode(name string, raw []byte) (*Config, error) {
	body := raw
	format := "json"
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		format = "yaml"
		var err error
		if body, err = yamlToJSON(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: decode %s: %w", name, format, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return nil, fmt.Errorf("%s: trailing data after config", name)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &cfg, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc == nil {
		// empty file: every section takes its defaults
		return []byte("{}"), nil
	}
	v, err := jsonValue("", doc)
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// jsonValue rewrites a decoded YAML tree into JSON-compatible values. Config
// keys are always strings, so any other key is reported with its dotted path
// ("reminders.offsets[1]").
func jsonValue(path string, in any) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		for k, v := range x {
			nv, err := jsonValue(join(path, k), v)
			if err != nil {
				return nil, err
			}
			x[k] = nv
		}
		return x, nil
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("%s: key %v is not a string", orRoot(path), k)
			}
			nv, err := jsonValue(join(path, ks), v)
			if err != nil {
				return nil, err
			}
			m[ks] = nv
		}
		return m, nil
	case []any:
		for i, v := range x {
			nv, err := jsonValue(path+"["+strconv.Itoa(i)+"]", v)
			if err != nil {
				return nil, err
			}
			x[i] = nv
		}
		return x, nil
	default:
		return in, nil
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func orRoot(path string) string {
	if path == "" {
		return "config"
	}
	return path
}
