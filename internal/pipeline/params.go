package pipeline

import (
	"sort"
	"strings"

	"github.com/ternarybob/codestory/internal/models"
)

// MergeParams merges step parameters in precedence order
// (low to high): step defaults, pipeline-config file, per-job request.
//
// Unknown keys are rejected fail-closed: a key absent from the step's
// declared defaults is a configuration error, not a silent no-op.
func MergeParams(stepName string, defaults, configParams, requestParams map[string]any) (map[string]any, *models.ErrorRecord) {
	merged := make(map[string]any, len(defaults))
	for key, value := range defaults {
		merged[key] = value
	}

	var unknown []string
	for _, overlay := range []map[string]any{configParams, requestParams} {
		for key, value := range overlay {
			if _, known := defaults[key]; !known {
				unknown = append(unknown, key)
				continue
			}
			merged[key] = value
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, models.Errorf(models.ErrInvalidPipeline, stepName,
			"unknown parameter(s) for step %s: %s", stepName, strings.Join(unknown, ", "))
	}

	return merged, nil
}

// ParamString reads a string parameter with a fallback
func ParamString(params map[string]any, key, fallback string) string {
	if value, ok := params[key].(string); ok && value != "" {
		return value
	}
	return fallback
}

// ParamInt reads an integer parameter with a fallback. TOML and JSON decode
// numbers differently, so both int and float forms are accepted.
func ParamInt(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// ParamFloat reads a float parameter with a fallback
func ParamFloat(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// ParamBool reads a boolean parameter with a fallback
func ParamBool(params map[string]any, key string, fallback bool) bool {
	if value, ok := params[key].(bool); ok {
		return value
	}
	return fallback
}

// ParamStringSlice reads a string slice parameter with a fallback.
// Handles []any from JSON/TOML decoding.
func ParamStringSlice(params map[string]any, key string, fallback []string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	}
	return fallback
}

// ParamStringMap reads a map[string]string parameter with a fallback
func ParamStringMap(params map[string]any, key string, fallback map[string]string) map[string]string {
	switch v := params[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		result := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				result[k] = s
			}
		}
		return result
	}
	return fallback
}
