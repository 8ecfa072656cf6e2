package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/codestory/internal/models"
)

func TestMergeParamsPrecedence(t *testing.T) {
	defaults := map[string]any{"batch_size": 500, "hash_algorithm": "sha256", "max_file_size_bytes": 1048576}
	configParams := map[string]any{"batch_size": 100}
	requestParams := map[string]any{"batch_size": 25, "hash_algorithm": "md5"}

	merged, err := MergeParams("filesystem", defaults, configParams, requestParams)
	require.Nil(t, err)

	assert.Equal(t, 25, merged["batch_size"])            // request wins
	assert.Equal(t, "md5", merged["hash_algorithm"])     // request wins over default
	assert.Equal(t, 1048576, merged["max_file_size_bytes"]) // default survives
}

func TestMergeParamsRejectsUnknownKeys(t *testing.T) {
	defaults := map[string]any{"batch_size": 500}

	_, err := MergeParams("filesystem", defaults, nil, map[string]any{"batchsize": 100})
	require.NotNil(t, err)
	assert.Equal(t, models.ErrInvalidPipeline, err.Kind)
	assert.Contains(t, err.Message, "batchsize")

	_, err = MergeParams("filesystem", defaults, map[string]any{"bogus": true}, nil)
	require.NotNil(t, err)
	assert.Contains(t, err.Message, "bogus")
}

func TestParamReadersHandleDecodedTypes(t *testing.T) {
	// JSON decodes numbers as float64, TOML as int64; readers accept both
	params := map[string]any{
		"int_json":  float64(42),
		"int_toml":  int64(7),
		"flag":      true,
		"names":     []any{"a", "b"},
		"threshold": 0.8,
		"overrides": map[string]any{"Function": "template"},
	}

	assert.Equal(t, 42, ParamInt(params, "int_json", 0))
	assert.Equal(t, 7, ParamInt(params, "int_toml", 0))
	assert.Equal(t, 9, ParamInt(params, "missing", 9))
	assert.True(t, ParamBool(params, "flag", false))
	assert.Equal(t, []string{"a", "b"}, ParamStringSlice(params, "names", nil))
	assert.Equal(t, 0.8, ParamFloat(params, "threshold", 0))
	assert.Equal(t, map[string]string{"Function": "template"}, ParamStringMap(params, "overrides", nil))
	assert.Equal(t, "fallback", ParamString(params, "missing", "fallback"))
}
