package model

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMetadataDefaults(t *testing.T) {
	path := writeFile(t, "meta.json", `{"input_shape":[1,40],"output_shape":[1,2]}`)

	meta, err := LoadMetadata(path)
	require.NoError(t, err)

	assert.Equal(t, "input", meta.InputName)
	assert.Equal(t, "output", meta.OutputName)
	assert.Equal(t, LayoutNHWC, meta.Layout)
	assert.Equal(t, 40, meta.InputSize())
	assert.Equal(t, 2, meta.NumClasses())
}

func TestLoadMetadataImage(t *testing.T) {
	path := writeFile(t, "meta.json", `{
		"input_name": "keras_layer_input",
		"output_name": "dense",
		"input_shape": [1, 300, 300, 3],
		"output_shape": [1, 5],
		"layout": "NHWC"
	}`)

	meta, err := LoadMetadata(path)
	require.NoError(t, err)
	assert.Equal(t, "keras_layer_input", meta.InputName)
	assert.Equal(t, 300*300*3, meta.InputSize())
	assert.Equal(t, 5, meta.NumClasses())
}

func TestLoadMetadataInvalid(t *testing.T) {
	tests := map[string]string{
		"not json":       `{`,
		"missing shapes": `{}`,
		"zero dim":       `{"input_shape":[1,0],"output_shape":[1,2]}`,
		"batch of two":   `{"input_shape":[2,40],"output_shape":[2,2]}`,
		"bad layout":     `{"input_shape":[1,40],"output_shape":[1,2],"layout":"HWCN"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMetadata(writeFile(t, "meta.json", body))
			assert.Error(t, err)
		})
	}

	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestTop1(t *testing.T) {
	idx, conf, err := Top1([]float32{0.1, 0.7, 0.2})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, float32(0.7), conf)

	// ties go to the first index
	idx, conf, err = Top1([]float32{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, float32(0.5), conf)
}

func TestTop1Rejects(t *testing.T) {
	_, _, err := Top1(nil)
	assert.ErrorIs(t, err, ErrEmptyDistribution)

	_, _, err = Top1([]float32{0.2, float32(math.NaN())})
	assert.Error(t, err)
}

func TestLoadClassMapJSON(t *testing.T) {
	path := writeFile(t, "class_indices.json", `{"healthy_leaf": 0, "varroa": 2, "queen": 1}`)

	cm, err := LoadClassMap(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cm.Len())
	assert.Equal(t, []string{"healthy_leaf", "queen", "varroa"}, cm.Names())

	name, ok := cm.Name(2)
	assert.True(t, ok)
	assert.Equal(t, "varroa", name)

	_, ok = cm.Name(3)
	assert.False(t, ok)

	assert.NoError(t, cm.Covers(3))
	assert.Error(t, cm.Covers(4))
}

func TestLoadClassMapYAML(t *testing.T) {
	path := writeFile(t, "classes.yaml", "drone: 0\nworker: 1\n")

	cm, err := LoadClassMap(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"drone", "worker"}, cm.Names())
}

func TestLoadClassMapRejectsNonBijection(t *testing.T) {
	tests := map[string]string{
		"duplicate index": `{"a": 0, "b": 0}`,
		"negative index":  `{"a": -1}`,
		"empty name":      `{" ": 0}`,
		"empty map":       `{}`,
		"not an index":    `{"a": "zero"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadClassMap(writeFile(t, "classes.json", body))
			assert.Error(t, err)
		})
	}
}

func TestLoadClassMapUnknownExtension(t *testing.T) {
	_, err := LoadClassMap(writeFile(t, "classes.pkl", "x"))
	assert.Error(t, err)
}
