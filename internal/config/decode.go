package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// decodeConfig reads a YAML (.yaml, .yml) or JSON document into a Config.
//
// Both formats go through the same strict JSON decode, so unknown keys are
// rejected whatever the source. ${VAR} references inside string values are
// expanded from the environment, which keeps telegram.token and
// http.basic_auth.password out of the file.
func decodeConfig(path string, data []byte) (*Config, error) {
	var (
		tree any
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		tree, err = yamlTree(data)
	default:
		tree, err = jsonTree(data)
	}
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(expandEnv(tree))
	if err != nil {
		return nil, fmt.Errorf("re-encode config: %w", err)
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func jsonTree(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	// chat ids are int64; keep them exact.
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("json: trailing data after config object")
	}
	return v, nil
}

func yamlTree(data []byte) (any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc yaml.Node
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("yaml: config must be a single document")
	}
	return nodeValue(&doc)
}

// nodeValue turns a YAML node into plain maps, slices and scalars. Mapping
// keys must be scalars; aliases resolve to their anchor.
func nodeValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return map[string]any{}, nil
		}
		return nodeValue(n.Content[0])
	case yaml.AliasNode:
		return nodeValue(n.Alias)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("yaml: line %d: mapping key must be a scalar", k.Line)
			}
			if k.Value == "<<" {
				if err := mergeInto(m, v); err != nil {
					return nil, err
				}
				continue
			}
			val, err := nodeValue(v)
			if err != nil {
				return nil, err
			}
			m[k.Value] = val
		}
		return m, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("yaml: line %d: %w", n.Line, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("yaml: line %d: unsupported node", n.Line)
	}
}

// mergeInto applies a "<<" merge key; explicit keys of m win.
func mergeInto(m map[string]any, src *yaml.Node) error {
	v, err := nodeValue(src)
	if err != nil {
		return err
	}
	srcs := []any{v}
	if list, ok := v.([]any); ok {
		srcs = list
	}
	for _, s := range srcs {
		sm, ok := s.(map[string]any)
		if !ok {
			return fmt.Errorf("yaml: line %d: merge value must be a mapping", src.Line)
		}
		for k, val := range sm {
			if _, set := m[k]; !set {
				m[k] = val
			}
		}
	}
	return nil
}

func expandEnv(v any) any {
	switch x := v.(type) {
	case string:
		if strings.Contains(x, "${") {
			return os.Expand(x, os.Getenv)
		}
		return x
	case map[string]any:
		for k, val := range x {
			x[k] = expandEnv(val)
		}
		return x
	case []any:
		for i := range x {
			x[i] = expandEnv(x[i])
		}
		return x
	default:
		return v
	}
}
