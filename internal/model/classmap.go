package model

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClassMap resolves model output indices to class names. It is built once
// from a name -> index file (the Keras class_indices layout) and never mutated.
type ClassMap struct {
	names map[int]string
}

// LoadClassMap reads a .json, .yaml or .yml class index file.
func LoadClassMap(path string) (*ClassMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read class map: %w", err)
	}

	indices := map[string]int{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(raw, &indices)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &indices)
	default:
		return nil, fmt.Errorf("unsupported class map format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse class map %s: %w", path, err)
	}

	cm, err := NewClassMap(indices)
	if err != nil {
		return nil, fmt.Errorf("invalid class map %s: %w", path, err)
	}
	return cm, nil
}

// NewClassMap inverts indices, rejecting anything that is not a bijection.
func NewClassMap(indices map[string]int) (*ClassMap, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("class map is empty")
	}

	names := make(map[int]string, len(indices))
	for name, idx := range indices {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("empty class name for index %d", idx)
		}
		if idx < 0 {
			return nil, fmt.Errorf("negative index %d for class %q", idx, name)
		}
		if prev, dup := names[idx]; dup {
			return nil, fmt.Errorf("index %d assigned to both %q and %q", idx, prev, name)
		}
		names[idx] = name
	}
	return &ClassMap{names: names}, nil
}

func (c *ClassMap) Name(idx int) (string, bool) {
	name, ok := c.names[idx]
	return name, ok
}

func (c *ClassMap) Len() int {
	return len(c.names)
}

// Names lists class names ordered by index.
func (c *ClassMap) Names() []string {
	idx := make([]int, 0, len(c.names))
	for i := range c.names {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]string, len(idx))
	for i, k := range idx {
		out[i] = c.names[k]
	}
	return out
}

// Covers returns an error naming the first index in [0, n) without a class.
func (c *ClassMap) Covers(n int) error {
	for i := 0; i < n; i++ {
		if _, ok := c.names[i]; !ok {
			return fmt.Errorf("no class for model output index %d (model has %d outputs, map has %d entries)", i, n, len(c.names))
		}
	}
	return nil
}
